package threads

import (
	"context"
	"time"

	"github.com/npezzotti/go-chatcore/internal/database"
	"github.com/npezzotti/go-chatcore/internal/events"
)

type ArchiveInput struct {
	ThreadID string
	Archived bool
	// Cascade also archives every unarchived descendant. It is ignored
	// when unarchiving.
	Cascade bool
}

type ArchiveResult struct {
	ThreadID          string   `json:"threadId"`
	RoomID            string   `json:"roomId"`
	Archived          bool     `json:"archived"`
	AffectedThreadIDs []string `json:"affectedThreadIds"`
}

func (s *Service) ArchiveThread(ctx context.Context, in ArchiveInput) (ArchiveResult, error) {
	defer s.observe("archive_thread", time.Now())

	thread, err := s.store.FindByID(ctx, in.ThreadID)
	if err != nil {
		return ArchiveResult{}, wrapStoreError("find thread", err)
	}

	cascade := in.Cascade && in.Archived
	affected := []string{thread.ID}
	err = s.store.InTx(ctx, func(tx database.ThreadStore) error {
		if cascade {
			descendants, err := tx.GetDescendants(ctx, thread.ID)
			if err != nil {
				return err
			}
			for _, d := range descendants {
				if !d.IsArchived {
					affected = append(affected, d.ID)
				}
			}
		}

		for _, id := range affected {
			if err := tx.Archive(ctx, id, in.Archived); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ArchiveResult{}, wrapStoreError("archive thread", err)
	}

	s.events.Emit(events.ThreadArchived, events.ThreadArchivedPayload{
		ThreadID:          thread.ID,
		RoomID:            thread.RoomID,
		Archived:          in.Archived,
		Cascade:           cascade,
		AffectedThreadIDs: affected,
	})
	return ArchiveResult{
		ThreadID:          thread.ID,
		RoomID:            thread.RoomID,
		Archived:          in.Archived,
		AffectedThreadIDs: affected,
	}, nil
}
