// Package semantic indexes threads and messages into a graph for similarity
// lookups. The index is optional: when the graph service is unreachable at
// startup the factory hands out a no-op implementation instead.
package semantic

import "context"

type Index interface {
	IndexThread(ctx context.Context, threadID, roomID, title string) error
	IndexMessage(ctx context.Context, messageID, threadID string) error
	LinkThreadToParent(ctx context.Context, childID, parentID string) error
	// FindSimilarMessages returns message ids in roomID whose embedding has a
	// cosine similarity of at least threshold, best match first.
	FindSimilarMessages(ctx context.Context, embedding []float64, roomID string, limit int, threshold float64) ([]string, error)
}

// NoopIndex accepts every write and finds nothing.
type NoopIndex struct{}

func (NoopIndex) IndexThread(context.Context, string, string, string) error { return nil }
func (NoopIndex) IndexMessage(context.Context, string, string) error        { return nil }
func (NoopIndex) LinkThreadToParent(context.Context, string, string) error  { return nil }

func (NoopIndex) FindSimilarMessages(context.Context, []float64, string, int, float64) ([]string, error) {
	return []string{}, nil
}
