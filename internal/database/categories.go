package database

import "strings"

const DefaultCategory = "logistics"

// Categories in priority order.
var Categories = []string{
	"safety",
	"medical",
	"schedule",
	"education",
	"finances",
	"activities",
	"travel",
	"co-parenting",
	"logistics",
}

var categoryAliases = map[string]string{
	"finance":      "finances",
	"coparenting":  "co-parenting",
	"co_parenting": "co-parenting",
}

func IsValidCategory(c string) bool {
	for _, valid := range Categories {
		if c == valid {
			return true
		}
	}
	return false
}

// NormalizeCategory lowercases and trims c, resolves aliases and falls back
// to the default category for anything unknown.
func NormalizeCategory(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	if alias, ok := categoryAliases[c]; ok {
		c = alias
	}
	if !IsValidCategory(c) {
		return DefaultCategory
	}
	return c
}
