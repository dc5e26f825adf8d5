package api

import (
	"context"

	"github.com/npezzotti/go-chatcore/internal/database"
	"github.com/npezzotti/go-chatcore/internal/threads"
	"github.com/stretchr/testify/mock"
)

type MockThreadService struct {
	mock.Mock
}

func (m *MockThreadService) CreateThread(ctx context.Context, id threads.Identity, in threads.CreateThreadInput) (database.Thread, error) {
	args := m.Called(id, in)
	return args.Get(0).(database.Thread), args.Error(1)
}

func (m *MockThreadService) CreateSubThread(ctx context.Context, id threads.Identity, in threads.CreateSubThreadInput) (database.Thread, error) {
	args := m.Called(id, in)
	return args.Get(0).(database.Thread), args.Error(1)
}

func (m *MockThreadService) Reply(ctx context.Context, id threads.Identity, in threads.ReplyInput) (threads.ReplyResult, error) {
	args := m.Called(id, in)
	return args.Get(0).(threads.ReplyResult), args.Error(1)
}

func (m *MockThreadService) MoveMessage(ctx context.Context, in threads.MoveInput) (threads.MoveResult, error) {
	args := m.Called(in)
	return args.Get(0).(threads.MoveResult), args.Error(1)
}

func (m *MockThreadService) ArchiveThread(ctx context.Context, in threads.ArchiveInput) (threads.ArchiveResult, error) {
	args := m.Called(in)
	return args.Get(0).(threads.ArchiveResult), args.Error(1)
}

func (m *MockThreadService) SuggestThread(ctx context.Context, in threads.SuggestInput) (threads.Suggestion, error) {
	args := m.Called(in)
	return args.Get(0).(threads.Suggestion), args.Error(1)
}
