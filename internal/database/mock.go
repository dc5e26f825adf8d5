package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockThreadStore struct {
	mock.Mock
}

var _ ThreadStore = (*MockThreadStore)(nil)

func (m *MockThreadStore) FindByID(ctx context.Context, id string) (Thread, error) {
	args := m.Called(id)
	return args.Get(0).(Thread), args.Error(1)
}
func (m *MockThreadStore) FindByRoomID(ctx context.Context, roomID string, opts ListOptions) ([]Thread, error) {
	args := m.Called(roomID, opts)
	return threadsArg(args, 0), args.Error(1)
}
func (m *MockThreadStore) FindByCategory(ctx context.Context, roomID, category string, limit int) ([]Thread, error) {
	args := m.Called(roomID, category, limit)
	return threadsArg(args, 0), args.Error(1)
}
func (m *MockThreadStore) FindForAssignment(ctx context.Context, roomID string, maxDepth, limit int) ([]Thread, error) {
	args := m.Called(roomID, maxDepth, limit)
	return threadsArg(args, 0), args.Error(1)
}
func (m *MockThreadStore) Create(ctx context.Context, params CreateThreadParams) (Thread, error) {
	args := m.Called(params)
	return args.Get(0).(Thread), args.Error(1)
}
func (m *MockThreadStore) CreateSubThread(ctx context.Context, params CreateSubThreadParams) (Thread, error) {
	args := m.Called(params)
	return args.Get(0).(Thread), args.Error(1)
}
func (m *MockThreadStore) UpdateTitle(ctx context.Context, id, title string) error {
	args := m.Called(id, title)
	return args.Error(0)
}
func (m *MockThreadStore) UpdateCategory(ctx context.Context, id, category string) error {
	args := m.Called(id, category)
	return args.Error(0)
}
func (m *MockThreadStore) Archive(ctx context.Context, id string, archived bool) error {
	args := m.Called(id, archived)
	return args.Error(0)
}
func (m *MockThreadStore) GetSubThreads(ctx context.Context, id string) ([]Thread, error) {
	args := m.Called(id)
	return threadsArg(args, 0), args.Error(1)
}
func (m *MockThreadStore) GetAncestors(ctx context.Context, id string) ([]Thread, error) {
	args := m.Called(id)
	return threadsArg(args, 0), args.Error(1)
}
func (m *MockThreadStore) GetDescendants(ctx context.Context, id string) ([]Thread, error) {
	args := m.Called(id)
	return threadsArg(args, 0), args.Error(1)
}
func (m *MockThreadStore) FindDescendantIDs(ctx context.Context, id string) ([]string, error) {
	args := m.Called(id)
	if ids, ok := args.Get(0).([]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockThreadStore) GetMessages(ctx context.Context, threadID string, limit, offset int) ([]ThreadMessage, error) {
	args := m.Called(threadID, limit, offset)
	if msgs, ok := args.Get(0).([]ThreadMessage); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockThreadStore) AddMessage(ctx context.Context, messageID, threadID string) (AddMessageResult, error) {
	args := m.Called(messageID, threadID)
	return args.Get(0).(AddMessageResult), args.Error(1)
}
func (m *MockThreadStore) RemoveMessage(ctx context.Context, messageID string) (RemoveMessageResult, error) {
	args := m.Called(messageID)
	return args.Get(0).(RemoveMessageResult), args.Error(1)
}
func (m *MockThreadStore) GetMessageLocation(ctx context.Context, messageID string) (MessageLocation, error) {
	args := m.Called(messageID)
	return args.Get(0).(MessageLocation), args.Error(1)
}
func (m *MockThreadStore) IsMessageAssigned(ctx context.Context, messageID string) (bool, error) {
	args := m.Called(messageID)
	return args.Bool(0), args.Error(1)
}
func (m *MockThreadStore) ThreadIDsForMessages(ctx context.Context, messageIDs []string) (map[string]string, error) {
	args := m.Called(messageIDs)
	if ids, ok := args.Get(0).(map[string]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

// InTx records the call and, unless told to fail, runs fn against the mock
// itself. An error returned by fn is passed through.
func (m *MockThreadStore) InTx(ctx context.Context, fn func(ThreadStore) error) error {
	args := m.Called()
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(m)
}

func threadsArg(args mock.Arguments, i int) []Thread {
	if threads, ok := args.Get(i).([]Thread); ok {
		return threads
	}
	return nil
}
