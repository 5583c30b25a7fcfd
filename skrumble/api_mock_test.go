package skrumble

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/stretchr/testify/mock"
)

// apiMock expects requests through testify and keeps a working listener
// registry so push events can be fed with emit. Its On is the API's, so
// expectations are set with expect.
type apiMock struct {
	mock.Mock

	mu        sync.Mutex
	listeners map[EventCategory][]listener
	next      ListenerID
	current   Participant
}

var _ API = (*apiMock)(nil)

func newAPIMock() *apiMock {
	return &apiMock{listeners: make(map[EventCategory][]listener)}
}

func (m *apiMock) Get(_ context.Context, url string, body any) (json.RawMessage, error) {
	args := m.Called(url, body)
	return rawOf(args.Get(0)), args.Error(1)
}

func (m *apiMock) Post(_ context.Context, url string, body any) (json.RawMessage, error) {
	args := m.Called(url, body)
	return rawOf(args.Get(0)), args.Error(1)
}

func (m *apiMock) Patch(_ context.Context, url string, body any) (json.RawMessage, error) {
	args := m.Called(url, body)
	return rawOf(args.Get(0)), args.Error(1)
}

func (m *apiMock) Delete(_ context.Context, url string, body any) (json.RawMessage, error) {
	args := m.Called(url, body)
	return rawOf(args.Get(0)), args.Error(1)
}

func (m *apiMock) expect(method, url string, body any) *mock.Call {
	return m.Mock.On(method, url, body)
}

func rawOf(v any) json.RawMessage {
	switch v := v.(type) {
	case json.RawMessage:
		return v
	case string:
		return json.RawMessage(v)
	default:
		return nil
	}
}

func (m *apiMock) On(category EventCategory, h EventHandler) ListenerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.listeners[category] = append(m.listeners[category], listener{id: m.next, handler: h})
	return m.next
}

func (m *apiMock) Off(category EventCategory, id ListenerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls := m.listeners[category]
	for i, l := range ls {
		if l.id == id {
			m.listeners[category] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

func (m *apiMock) listenerCount(category EventCategory) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners[category])
}

// emit delivers a push event the way the socket's delivery goroutine would.
func (m *apiMock) emit(category EventCategory, event string) {
	ev, err := decodePushEvent(category, json.RawMessage(event))
	if err != nil {
		panic(err)
	}
	m.mu.Lock()
	ls := append([]listener(nil), m.listeners[category]...)
	m.mu.Unlock()
	for _, l := range ls {
		l.handler(ev)
	}
}

func (m *apiMock) Current() Participant { return m.current }

func (m *apiMock) Logger() *slog.Logger { return NewLogger(nil, LogNone) }

// jsonBody matches a request body by its JSON rendering.
func jsonBody(want string) any {
	return mock.MatchedBy(func(body any) bool {
		got, err := json.Marshal(body)
		if err != nil {
			return false
		}
		var a, b any
		if json.Unmarshal(got, &a) != nil || json.Unmarshal([]byte(want), &b) != nil {
			return false
		}
		ga, _ := json.Marshal(a)
		gb, _ := json.Marshal(b)
		return bytes.Equal(ga, gb)
	})
}
