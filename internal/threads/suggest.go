package threads

import (
	"context"
	"time"

	"github.com/npezzotti/go-chatcore/internal/database"
)

const (
	similarLimit         = 10
	similarThreshold     = 0.7
	maxSuggestCandidates = 50
)

type SuggestInput struct {
	RoomID    string
	Text      string
	Embedding []float64
}

// SuggestThread proposes a thread for text. Similar messages from the
// semantic index vote for their threads when an embedding is given; without
// a usable vote the analyzer ranks the room's threads.
func (s *Service) SuggestThread(ctx context.Context, in SuggestInput) (Suggestion, error) {
	defer s.observe("suggest_thread", time.Now())

	if in.RoomID == "" {
		return Suggestion{}, NewInvalidError("room id is required")
	}

	if len(in.Embedding) > 0 {
		if sug, ok := s.suggestFromIndex(ctx, in); ok {
			return sug, nil
		}
	}

	threads, err := s.store.FindByRoomID(ctx, in.RoomID, database.ListOptions{Limit: maxSuggestCandidates})
	if err != nil {
		return Suggestion{}, wrapStoreError("list threads", err)
	}
	sug, err := s.analyzer.SuggestThread(ctx, in.Text, threads)
	if err != nil {
		return Suggestion{}, NewInternalError("analyze conversation", err)
	}
	return sug, nil
}

func (s *Service) suggestFromIndex(ctx context.Context, in SuggestInput) (Suggestion, bool) {
	ids, err := s.index.FindSimilarMessages(ctx, in.Embedding, in.RoomID, similarLimit, similarThreshold)
	if err != nil {
		s.log.Warn().Err(err).Str("room_id", in.RoomID).Msg("similar message lookup failed")
		return Suggestion{}, false
	}
	if len(ids) == 0 {
		return Suggestion{}, false
	}

	byMessage, err := s.store.ThreadIDsForMessages(ctx, ids)
	if err != nil {
		s.log.Warn().Err(err).Str("room_id", in.RoomID).Msg("resolve similar messages failed")
		return Suggestion{}, false
	}

	// ids are best match first, so the first thread to reach the top count wins
	votes := make(map[string]int)
	var (
		bestID    string
		bestVotes int
	)
	for _, id := range ids {
		threadID, ok := byMessage[id]
		if !ok {
			continue
		}
		votes[threadID]++
		if votes[threadID] > bestVotes {
			bestID, bestVotes = threadID, votes[threadID]
		}
	}
	if bestID == "" {
		return Suggestion{}, false
	}

	thread, err := s.store.FindByID(ctx, bestID)
	if err != nil || thread.IsArchived || thread.RoomID != in.RoomID {
		return Suggestion{}, false
	}
	return Suggestion{
		ThreadID: thread.ID,
		Title:    thread.Title,
		Category: thread.Category,
		Score:    float64(bestVotes) / float64(len(ids)),
		Source:   SourceSemantic,
	}, true
}
