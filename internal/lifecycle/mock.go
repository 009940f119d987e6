package lifecycle

import (
	"github.com/npezzotti/go-presence/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockConnector struct {
	mock.Mock
}

func (m *MockConnector) Connect(token string) {
	m.Called(token)
}

func (m *MockConnector) Disconnect() {
	m.Called()
}

func (m *MockConnector) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockConnector) OnPresence(fn func(types.PresenceRecord)) func() {
	args := m.Called(fn)
	return args.Get(0).(func())
}

type MockPresenceCache struct {
	mock.Mock
}

func (m *MockPresenceCache) UpdateFromRealtime(rec types.PresenceRecord) {
	m.Called(rec)
}

func (m *MockPresenceCache) Clear() {
	m.Called()
}
