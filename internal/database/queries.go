package database

import "strings"

var threadColumnNames = []string{
	"id", "room_id", "title", "category", "created_by", "created_at", "updated_at",
	"message_count", "last_message_at", "is_archived", "next_sequence",
	"parent_thread_id", "root_thread_id", "parent_message_id", "depth",
}

var threadColumns = strings.Join(threadColumnNames, ", ")

func prefixedThreadColumns(alias string) string {
	cols := make([]string, len(threadColumnNames))
	for i, c := range threadColumnNames {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// Bounds recursive walks in case of corrupt parent links.
const maxTreeWalk = 16

var (
	insertThreadQuery = "INSERT INTO threads (" + threadColumns + ") " +
		"VALUES ($1, $2, $3, $4, $5, $6, $6, 0, NULL, 0, 0, $7, $8, $9, $10) " +
		"RETURNING " + threadColumns

	findThreadByIDQuery = "SELECT " + threadColumns + " FROM threads WHERE id = $1"

	findThreadsByRoomQuery = "SELECT " + threadColumns + " FROM threads " +
		"WHERE room_id = $1 AND is_archived = 0 ORDER BY updated_at DESC LIMIT $2"

	findAllThreadsByRoomQuery = "SELECT " + threadColumns + " FROM threads " +
		"WHERE room_id = $1 ORDER BY updated_at DESC LIMIT $2"

	findThreadsByCategoryQuery = "SELECT " + threadColumns + " FROM threads " +
		"WHERE room_id = $1 AND category = $2 AND is_archived = 0 ORDER BY updated_at DESC LIMIT $3"

	findThreadsForAssignmentQuery = "SELECT " + threadColumns + " FROM threads " +
		"WHERE room_id = $1 AND is_archived = 0 AND depth <= $2 ORDER BY updated_at DESC LIMIT $3"

	parentThreadQuery = "SELECT room_id, COALESCE(root_thread_id, id), depth, COALESCE(category, '') FROM threads WHERE id = $1"

	updateTitleQuery    = "UPDATE threads SET title = $1, updated_at = $2 WHERE id = $3 RETURNING room_id"
	updateCategoryQuery = "UPDATE threads SET category = $1, updated_at = $2 WHERE id = $3 RETURNING room_id"
	archiveThreadQuery  = "UPDATE threads SET is_archived = $1, updated_at = $2 WHERE id = $3 RETURNING room_id"

	subThreadsQuery = "SELECT " + threadColumns + " FROM threads " +
		"WHERE parent_thread_id = $1 AND is_archived = 0 ORDER BY updated_at DESC"

	ancestorsQuery = "WITH RECURSIVE ancestors AS (" +
		"SELECT " + prefixedThreadColumns("t") + ", 1 AS level FROM threads t " +
		"WHERE t.id = (SELECT parent_thread_id FROM threads WHERE id = $1) " +
		"UNION ALL " +
		"SELECT " + prefixedThreadColumns("t") + ", a.level + 1 FROM threads t " +
		"JOIN ancestors a ON t.id = a.parent_thread_id WHERE a.level < $2" +
		") SELECT " + threadColumns + " FROM ancestors ORDER BY level DESC"

	descendantsQuery = "WITH RECURSIVE descendants AS (" +
		"SELECT " + prefixedThreadColumns("t") + ", 1 AS level FROM threads t " +
		"WHERE t.parent_thread_id = $1 " +
		"UNION ALL " +
		"SELECT " + prefixedThreadColumns("t") + ", d.level + 1 FROM threads t " +
		"JOIN descendants d ON t.parent_thread_id = d.id WHERE d.level < $2" +
		") SELECT " + threadColumns + " FROM descendants ORDER BY level ASC, created_at ASC"

	threadMessagesQuery = "SELECT id, room_id, thread_id, thread_sequence, COALESCE(type, ''), " +
		"COALESCE(user_email, ''), COALESCE(text, ''), timestamp FROM messages " +
		"WHERE thread_id = $1 " +
		"AND (private = 0 OR private IS NULL) " +
		"AND (flagged = 0 OR flagged IS NULL) " +
		"AND COALESCE(type, '') != 'system' " +
		"ORDER BY COALESCE(thread_sequence, 0) ASC, timestamp ASC " +
		"LIMIT $2 OFFSET $3"

	lockMessageQuery = "SELECT thread_id FROM messages WHERE id = $1 FOR UPDATE"

	// One statement: the thread row lock serializes concurrent attaches, and
	// the message is only stamped when the thread row was actually bumped.
	// $1 is read before the lock is taken, so last_message_at only moves forward.
	addMessageQuery = "WITH sequence_assign AS (" +
		"UPDATE threads SET next_sequence = next_sequence + 1, " +
		"message_count = message_count + 1, " +
		"last_message_at = GREATEST(last_message_at, $1), updated_at = $1 " +
		"WHERE id = $2 " +
		"RETURNING next_sequence - 1 AS assigned_sequence, message_count, last_message_at, room_id" +
		") " +
		"UPDATE messages SET thread_id = $2, " +
		"thread_sequence = (SELECT assigned_sequence FROM sequence_assign) " +
		"WHERE id = $3 AND EXISTS (SELECT 1 FROM sequence_assign) " +
		"RETURNING thread_sequence, " +
		"(SELECT message_count FROM sequence_assign), " +
		"(SELECT last_message_at FROM sequence_assign), " +
		"(SELECT room_id FROM sequence_assign)"

	detachMessageQuery = "UPDATE messages SET thread_id = NULL, thread_sequence = NULL WHERE id = $1"

	decrementThreadQuery = "UPDATE threads SET message_count = GREATEST(0, message_count - 1), updated_at = $1 " +
		"WHERE id = $2 RETURNING message_count, room_id"

	messageLocationQuery = "SELECT room_id, thread_id FROM messages WHERE id = $1"

	threadIDsForMessagesQuery = "SELECT id, thread_id FROM messages WHERE id = ANY($1) AND thread_id IS NOT NULL"
)

const insertMessageQuery = "INSERT INTO messages (id, room_id, type, user_email, text, timestamp) " +
	"VALUES ($1, $2, $3, $4, $5, $6)"
