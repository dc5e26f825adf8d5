package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageWriterInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w := NewMessageWriter(db, nil)
	mock.ExpectExec(q(insertMessageQuery)).
		WithArgs(sqlmock.AnyArg(), "room-1", "user", "alice@example.com", "see you at 5", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := w.Insert(context.Background(), "room-1", "user", "alice@example.com", "see you at 5")
	require.NoError(t, err)
	assert.Len(t, id, 36, "expected a uuid message id")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageWriterInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w := NewMessageWriter(db, nil)
	mock.ExpectExec(q(insertMessageQuery)).WillReturnError(errors.New("connection reset"))

	_, err = w.Insert(context.Background(), "room-1", "user", "alice@example.com", "hi")
	assert.ErrorContains(t, err, "insert message")
}
