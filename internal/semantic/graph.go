package semantic

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const (
	indexThreadQuery = `
MERGE (r:Room {roomId: $roomId})
ON CREATE SET r.createdAt = datetime()
WITH r
MERGE (t:Thread {threadId: $threadId})
ON CREATE SET t.createdAt = datetime()
SET t.roomId = $roomId, t.title = $title, t.updatedAt = datetime()
WITH t, r
MERGE (t)-[:IN_ROOM]->(r)
RETURN t.threadId AS threadId`

	indexMessageQuery = `
MATCH (t:Thread {threadId: $threadId})
MERGE (m:Message {messageId: $messageId})
ON CREATE SET m.createdAt = datetime()
SET m.roomId = t.roomId, m.updatedAt = datetime()
WITH m, t
OPTIONAL MATCH (m)-[old:BELONGS_TO_THREAD]->(other:Thread)
WHERE other.threadId <> $threadId
DELETE old
WITH m, t
MERGE (m)-[:BELONGS_TO_THREAD]->(t)
RETURN m.messageId AS messageId`

	linkParentQuery = `
MATCH (c:Thread {threadId: $childId})
MATCH (p:Thread {threadId: $parentId})
MERGE (c)-[:CHILD_OF]->(p)
RETURN c.threadId AS threadId`

	similarMessagesQuery = `
MATCH (m:Message)-[:BELONGS_TO_THREAD]->(:Thread)-[:IN_ROOM]->(:Room {roomId: $roomId})
WHERE m.embedding IS NOT NULL AND size(m.embedding) = size($embedding)
WITH m,
     reduce(dot = 0.0, i IN range(0, size($embedding) - 1) | dot + m.embedding[i] * $embedding[i]) AS dot,
     sqrt(reduce(s = 0.0, v IN m.embedding | s + v * v)) AS normM,
     sqrt(reduce(s = 0.0, v IN $embedding | s + v * v)) AS normQ
WHERE normM > 0 AND normQ > 0
WITH m, dot / (normM * normQ) AS similarity
WHERE similarity >= $threshold
RETURN m.messageId AS messageId, similarity
ORDER BY similarity DESC
LIMIT $limit`
)

// Runner executes one Cypher statement and returns its records as maps.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (r driverRunner) Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	opts := []neo4j.ExecuteQueryConfigurationOption{}
	if r.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(r.database))
	}

	res, err := neo4j.ExecuteQuery(ctx, r.driver, cypher, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, err
	}

	records := make([]map[string]any, 0, len(res.Records))
	for _, rec := range res.Records {
		records = append(records, rec.AsMap())
	}
	return records, nil
}

// GraphIndex is the graph-backed Index. Its errors are returned as-is;
// callers treat them as non-fatal.
type GraphIndex struct {
	run Runner
}

func NewGraphIndex(r Runner) *GraphIndex {
	return &GraphIndex{run: r}
}

func (g *GraphIndex) IndexThread(ctx context.Context, threadID, roomID, title string) error {
	_, err := g.run.Run(ctx, indexThreadQuery, map[string]any{
		"threadId": threadID,
		"roomId":   roomID,
		"title":    title,
	})
	if err != nil {
		return fmt.Errorf("index thread %s: %w", threadID, err)
	}
	return nil
}

func (g *GraphIndex) IndexMessage(ctx context.Context, messageID, threadID string) error {
	_, err := g.run.Run(ctx, indexMessageQuery, map[string]any{
		"messageId": messageID,
		"threadId":  threadID,
	})
	if err != nil {
		return fmt.Errorf("index message %s: %w", messageID, err)
	}
	return nil
}

func (g *GraphIndex) LinkThreadToParent(ctx context.Context, childID, parentID string) error {
	_, err := g.run.Run(ctx, linkParentQuery, map[string]any{
		"childId":  childID,
		"parentId": parentID,
	})
	if err != nil {
		return fmt.Errorf("link thread %s to %s: %w", childID, parentID, err)
	}
	return nil
}

func (g *GraphIndex) FindSimilarMessages(ctx context.Context, embedding []float64, roomID string, limit int, threshold float64) ([]string, error) {
	if len(embedding) == 0 || limit <= 0 {
		return []string{}, nil
	}

	records, err := g.run.Run(ctx, similarMessagesQuery, map[string]any{
		"embedding": embedding,
		"roomId":    roomID,
		"limit":     int64(limit),
		"threshold": threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("find similar messages: %w", err)
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if id, ok := rec["messageId"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
