package threads

import (
	"context"
	"time"

	"github.com/npezzotti/go-chatcore/internal/database"
)

type MoveInput struct {
	MessageID string
	// TargetThreadID is empty to move the message back to the main chat.
	TargetThreadID string
}

type AffectedThread struct {
	ThreadID     string `json:"threadId"`
	MessageCount int    `json:"messageCount"`
}

type MoveResult struct {
	MessageID      string           `json:"messageId"`
	FromThreadID   string           `json:"fromThreadId,omitempty"`
	ToThreadID     string           `json:"toThreadId,omitempty"`
	SequenceNumber *int64           `json:"sequenceNumber,omitempty"`
	NoOp           bool             `json:"noop"`
	Affected       []AffectedThread `json:"affectedThreads"`
}

// MoveMessage detaches a message from its current thread and attaches it to
// the target in one transaction. Either both steps commit or neither does.
func (s *Service) MoveMessage(ctx context.Context, in MoveInput) (MoveResult, error) {
	defer s.observe("move_message", time.Now())

	loc, err := s.store.GetMessageLocation(ctx, in.MessageID)
	if err != nil {
		return MoveResult{}, wrapStoreError("find message", err)
	}

	if in.TargetThreadID != "" {
		target, err := s.store.FindByID(ctx, in.TargetThreadID)
		if err != nil {
			return MoveResult{}, wrapStoreError("find target thread", err)
		}
		if target.RoomID != loc.RoomID {
			return MoveResult{}, NewInvalidError("message %s and thread %s are in different rooms", in.MessageID, target.ID)
		}
		if target.IsArchived {
			return MoveResult{}, NewInvalidError("thread %s is archived", target.ID)
		}
	}

	result := MoveResult{
		MessageID:    in.MessageID,
		FromThreadID: loc.ThreadID,
		ToThreadID:   in.TargetThreadID,
		Affected:     []AffectedThread{},
	}
	if loc.ThreadID == in.TargetThreadID {
		result.NoOp = true
		return result, nil
	}

	var added *database.AddMessageResult
	err = s.store.InTx(ctx, func(tx database.ThreadStore) error {
		if loc.ThreadID != "" {
			removed, err := tx.RemoveMessage(ctx, in.MessageID)
			if err != nil {
				return err
			}
			result.Affected = append(result.Affected, AffectedThread{ThreadID: loc.ThreadID, MessageCount: removed.MessageCount})
		}

		if in.TargetThreadID == "" {
			return nil
		}
		res, err := tx.AddMessage(ctx, in.MessageID, in.TargetThreadID)
		if err != nil {
			return err
		}
		added = &res
		result.Affected = append(result.Affected, AffectedThread{ThreadID: res.ThreadID, MessageCount: res.MessageCount})
		return nil
	})
	if err != nil {
		return MoveResult{}, wrapStoreError("move message", err)
	}

	if added != nil {
		seq := added.SequenceNumber
		result.SequenceNumber = &seq
		s.emitMessageAdded(in.MessageID, *added, loc.ThreadID, false)
	}
	return result, nil
}
