package threads

import (
	"context"
	"strings"
	"unicode"

	"github.com/npezzotti/go-chatcore/internal/database"
)

// ConversationAnalyzer decides which thread a piece of conversation belongs to.
type ConversationAnalyzer interface {
	// SuggestThread ranks threads for text. When nothing matches, the
	// returned suggestion has no ThreadID and proposes a category for a new
	// thread instead.
	SuggestThread(ctx context.Context, text string, threads []database.Thread) (Suggestion, error)

	// PickThread returns the candidate text should be filed under, if any
	// is a confident enough match.
	PickThread(ctx context.Context, text string, candidates []database.Thread) (database.Thread, bool, error)
}

const (
	titleWeight    = 3
	categoryWeight = 2
	alignmentBonus = 2
	matchThreshold = 3
	minKeywordLen  = 4
)

var categoryKeywords = map[string]string{
	"safety":       "emergency contacts, safety concerns, urgent issues",
	"medical":      "doctor appointments, health issues, medications, therapy",
	"schedule":     "pickup, dropoff, custody timing, weekend plans",
	"education":    "school, homework, grades, teachers, tutoring",
	"finances":     "child support, shared expenses, reimbursements, bills",
	"activities":   "sports, hobbies, extracurriculars, lessons, camps",
	"travel":       "vacations, trips, travel arrangements, passports",
	"co-parenting": "relationship discussions, parenting decisions, boundaries",
	"logistics":    "general coordination, supplies, belongings, miscellaneous",
}

var stopWords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "also": {}, "been": {}, "before": {},
	"could": {}, "does": {}, "from": {}, "have": {}, "just": {}, "know": {},
	"like": {}, "make": {}, "need": {}, "that": {}, "them": {}, "then": {},
	"there": {}, "they": {}, "this": {}, "what": {}, "when": {}, "will": {},
	"with": {}, "would": {}, "your": {},
}

// KeywordAnalyzer scores threads by keyword overlap with the text: title
// words, category keywords, and a bonus when the text's own category agrees
// with the thread's.
type KeywordAnalyzer struct{}

func (KeywordAnalyzer) SuggestThread(_ context.Context, text string, threads []database.Thread) (Suggestion, error) {
	words := keywordSet(text)
	detected := detectCategory(words)

	if best, score, ok := bestMatch(words, detected, threads); ok {
		return Suggestion{
			ThreadID: best.ID,
			Title:    best.Title,
			Category: best.Category,
			Score:    float64(score),
			Source:   SourceKeywords,
		}, nil
	}
	if detected == "" {
		detected = database.DefaultCategory
	}
	return Suggestion{Category: detected, Source: SourceKeywords}, nil
}

func (KeywordAnalyzer) PickThread(_ context.Context, text string, candidates []database.Thread) (database.Thread, bool, error) {
	words := keywordSet(text)
	best, _, ok := bestMatch(words, detectCategory(words), candidates)
	return best, ok, nil
}

// bestMatch returns the highest scoring thread at or above the threshold.
// Ties go to the earlier thread.
func bestMatch(words map[string]struct{}, detected string, threads []database.Thread) (database.Thread, int, bool) {
	var (
		best      database.Thread
		bestScore int
		found     bool
	)
	for _, t := range threads {
		if t.IsArchived {
			continue
		}
		score := scoreThread(words, detected, t)
		if score >= matchThreshold && score > bestScore {
			best, bestScore, found = t, score, true
		}
	}
	return best, bestScore, found
}

func scoreThread(words map[string]struct{}, detected string, t database.Thread) int {
	score := 0
	for w := range keywordSet(t.Title) {
		if _, ok := words[w]; ok {
			score += titleWeight
		}
	}
	for w := range keywordSet(categoryKeywords[t.Category]) {
		if _, ok := words[w]; ok {
			score += categoryWeight
		}
	}
	if detected != "" && detected == t.Category {
		score += alignmentBonus
	}
	return score
}

// detectCategory returns the highest priority category with a keyword in
// words, or "" when none has.
func detectCategory(words map[string]struct{}) string {
	for _, c := range database.Categories {
		for w := range keywordSet(categoryKeywords[c]) {
			if _, ok := words[w]; ok {
				return c
			}
		}
	}
	return ""
}

func keywordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if len(f) < minKeywordLen {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}
