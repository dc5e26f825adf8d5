package stats

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockStatsUpdater struct {
	mock.Mock
}

func (m *MockStatsUpdater) Incr(name string, labels ...string) {
	m.Called(name, labels)
}
func (m *MockStatsUpdater) Decr(name string, labels ...string) {
	m.Called(name, labels)
}
func (m *MockStatsUpdater) Set(name string, value float64, labels ...string) {
	m.Called(name, value, labels)
}
func (m *MockStatsUpdater) Observe(name string, d time.Duration, labels ...string) {
	m.Called(name, d, labels)
}
func (m *MockStatsUpdater) RegisterMetric(name, help string, labels ...string) {
	m.Called(name, help, labels)
}
