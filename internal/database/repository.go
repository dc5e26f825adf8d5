package database

import "context"

type ThreadStore interface {
	FindByID(ctx context.Context, id string) (Thread, error)
	FindByRoomID(ctx context.Context, roomID string, opts ListOptions) ([]Thread, error)
	FindByCategory(ctx context.Context, roomID, category string, limit int) ([]Thread, error)
	FindForAssignment(ctx context.Context, roomID string, maxDepth, limit int) ([]Thread, error)
	Create(ctx context.Context, params CreateThreadParams) (Thread, error)
	CreateSubThread(ctx context.Context, params CreateSubThreadParams) (Thread, error)
	UpdateTitle(ctx context.Context, id, title string) error
	UpdateCategory(ctx context.Context, id, category string) error
	Archive(ctx context.Context, id string, archived bool) error
	GetSubThreads(ctx context.Context, id string) ([]Thread, error)
	GetAncestors(ctx context.Context, id string) ([]Thread, error)
	GetDescendants(ctx context.Context, id string) ([]Thread, error)
	FindDescendantIDs(ctx context.Context, id string) ([]string, error)
	GetMessages(ctx context.Context, threadID string, limit, offset int) ([]ThreadMessage, error)
	AddMessage(ctx context.Context, messageID, threadID string) (AddMessageResult, error)
	RemoveMessage(ctx context.Context, messageID string) (RemoveMessageResult, error)
	GetMessageLocation(ctx context.Context, messageID string) (MessageLocation, error)
	IsMessageAssigned(ctx context.Context, messageID string) (bool, error)
	ThreadIDsForMessages(ctx context.Context, messageIDs []string) (map[string]string, error)

	// InTx runs fn against a store bound to one transaction. Side effects
	// queued inside fn run only after a successful commit.
	InTx(ctx context.Context, fn func(ThreadStore) error) error
}
