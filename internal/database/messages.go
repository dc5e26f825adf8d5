package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatcore/internal/cache"
)

// MessageWriter inserts main chat messages. Reading and editing messages
// belongs to the chat service that owns the table.
type MessageWriter struct {
	db     *sql.DB
	recent *cache.MessageCache
	now    func() time.Time
}

func NewMessageWriter(db *sql.DB, recent *cache.MessageCache) *MessageWriter {
	return &MessageWriter{db: db, recent: recent, now: time.Now}
}

// Insert stores a message outside any thread and returns its id.
func (w *MessageWriter) Insert(ctx context.Context, roomID, msgType, sender, text string) (string, error) {
	id := uuid.NewString()
	if _, err := w.db.ExecContext(ctx, insertMessageQuery, id, roomID, msgType, sender, text, w.now().UTC()); err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}

	if w.recent != nil {
		w.recent.InvalidateRoom(ctx, roomID)
	}
	return id, nil
}
