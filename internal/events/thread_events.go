package events

import "time"

const (
	ThreadCreated      Name = "ThreadCreated"
	SubThreadCreated   Name = "SubThreadCreated"
	ThreadMessageAdded Name = "ThreadMessageAdded"
	ThreadArchived     Name = "ThreadArchived"

	// MessageCreated is a main chat message announced by the chat service.
	MessageCreated Name = "MessageCreated"
)

// Emitter is the publishing half of the bus, as seen by use cases.
type Emitter interface {
	Emit(name Name, payload any)
}

type ThreadCreatedPayload struct {
	ThreadID         string    `json:"threadId"`
	RoomID           string    `json:"roomId"`
	Title            string    `json:"title"`
	Category         string    `json:"category"`
	CreatedBy        string    `json:"createdBy"`
	InitialMessageID string    `json:"initialMessageId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

type SubThreadCreatedPayload struct {
	ThreadID        string `json:"threadId"`
	RoomID          string `json:"roomId"`
	Title           string `json:"title"`
	Category        string `json:"category"`
	CreatedBy       string `json:"createdBy"`
	ParentThreadID  string `json:"parentThreadId"`
	ParentMessageID string `json:"parentMessageId,omitempty"`
	RootThreadID    string `json:"rootThreadId"`
	Depth           int    `json:"depth"`
}

type ThreadMessageAddedPayload struct {
	ThreadID       string    `json:"threadId"`
	RoomID         string    `json:"roomId"`
	MessageID      string    `json:"messageId"`
	SequenceNumber int64     `json:"sequenceNumber"`
	MessageCount   int       `json:"messageCount"`
	MovedFrom      string    `json:"movedFrom,omitempty"`
	AutoAssigned   bool      `json:"autoAssigned,omitempty"`
	AddedAt        time.Time `json:"addedAt"`
}

type ThreadArchivedPayload struct {
	ThreadID          string   `json:"threadId"`
	RoomID            string   `json:"roomId"`
	Archived          bool     `json:"archived"`
	Cascade           bool     `json:"cascade"`
	AffectedThreadIDs []string `json:"affectedThreadIds"`
}

type MessageCreatedPayload struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
	Text      string `json:"text"`
}
