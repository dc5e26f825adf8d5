package database

import (
	"database/sql"
	"time"
)

// MaxThreadDepth is the deepest level a thread may have children at.
const MaxThreadDepth = 3

type Thread struct {
	ID              string     `json:"id"`
	RoomID          string     `json:"roomId"`
	Title           string     `json:"title"`
	Category        string     `json:"category"`
	CreatedBy       string     `json:"createdBy"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	MessageCount    int        `json:"messageCount"`
	LastMessageAt   *time.Time `json:"lastMessageAt,omitempty"`
	IsArchived      bool       `json:"isArchived"`
	NextSequence    int64      `json:"nextSequence"`
	ParentThreadID  *string    `json:"parentThreadId,omitempty"`
	RootThreadID    string     `json:"rootThreadId"`
	ParentMessageID *string    `json:"parentMessageId,omitempty"`
	Depth           int        `json:"depth"`
}

func (t Thread) IsTopLevel() bool {
	return t.ParentThreadID == nil
}

type ThreadMessage struct {
	ID             string    `json:"id"`
	RoomID         string    `json:"roomId"`
	ThreadID       string    `json:"threadId"`
	SequenceNumber *int64    `json:"sequenceNumber"`
	Type           string    `json:"type"`
	UserEmail      string    `json:"userEmail"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}

// MessageLocation is where a message currently lives. ThreadID is empty for
// messages in the main chat.
type MessageLocation struct {
	MessageID string
	RoomID    string
	ThreadID  string
}

type CreateThreadParams struct {
	RoomID    string
	Title     string
	Category  string
	CreatedBy string
}

type CreateSubThreadParams struct {
	RoomID          string
	Title           string
	Category        string
	CreatedBy       string
	ParentThreadID  string
	ParentMessageID string
}

type ListOptions struct {
	IncludeArchived bool
	Limit           int
}

type AddMessageResult struct {
	ThreadID       string
	RoomID         string
	SequenceNumber int64
	MessageCount   int
	LastMessageAt  time.Time
}

type RemoveMessageResult struct {
	ThreadID     string
	RoomID       string
	MessageCount int
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
