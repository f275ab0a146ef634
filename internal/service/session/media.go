package session

import (
	"context"
	"fmt"
	"sync"
)

// Media is a microphone stream leased for one live session.
type Media interface {
	Audio() <-chan []byte
	// Release stops delivery. Safe to call more than once.
	Release()
}

// MediaProvider hands out the operator's microphone for a conversation.
type MediaProvider interface {
	Acquire(ctx context.Context, conversationID string) (Media, error)
}

// Microphone is the audio feed of one operator connection. Frames pushed while
// no lease is active are dropped.
type Microphone struct {
	mu      sync.Mutex
	granted bool
	lease   *micLease
	dropped int
}

type micLease struct {
	mic  *Microphone
	ch   chan []byte
	once sync.Once
}

// Grant marks the operator as having allowed microphone capture.
func (m *Microphone) Grant() {
	m.mu.Lock()
	m.granted = true
	m.mu.Unlock()
}

// Push forwards a frame to the active lease without blocking.
func (m *Microphone) Push(frame []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lease == nil {
		return false
	}
	select {
	case m.lease.ch <- frame:
		return true
	default:
		m.dropped++
		return false
	}
}

// Active reports whether a session currently holds the microphone.
func (m *Microphone) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lease != nil
}

func (m *Microphone) acquire() (*micLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.granted {
		return nil, fmt.Errorf("%w: microphone not granted", ErrPermissionDenied)
	}
	if m.lease != nil {
		return nil, fmt.Errorf("%w: microphone already in use", ErrPermissionDenied)
	}
	m.lease = &micLease{mic: m, ch: make(chan []byte, 64)}
	return m.lease, nil
}

func (m *Microphone) revoke() {
	m.mu.Lock()
	lease := m.lease
	m.granted = false
	m.mu.Unlock()
	if lease != nil {
		lease.Release()
	}
}

func (l *micLease) Audio() <-chan []byte {
	return l.ch
}

func (l *micLease) Release() {
	l.once.Do(func() {
		l.mic.mu.Lock()
		if l.mic.lease == l {
			l.mic.lease = nil
		}
		close(l.ch)
		l.mic.mu.Unlock()
	})
}

// MediaRegistry tracks the microphone attached by each operator connection.
type MediaRegistry struct {
	mu   sync.Mutex
	mics map[string]*Microphone
}

// NewMediaRegistry creates an empty registry.
func NewMediaRegistry() *MediaRegistry {
	return &MediaRegistry{mics: make(map[string]*Microphone)}
}

// Attach registers the operator microphone for a conversation, replacing any
// previous one.
func (r *MediaRegistry) Attach(conversationID string) *Microphone {
	mic := &Microphone{}
	r.mu.Lock()
	previous := r.mics[conversationID]
	r.mics[conversationID] = mic
	r.mu.Unlock()

	if previous != nil {
		previous.revoke()
	}
	return mic
}

// Detach removes mic if it is still the registered one and ends its lease.
func (r *MediaRegistry) Detach(conversationID string, mic *Microphone) {
	r.mu.Lock()
	if r.mics[conversationID] == mic {
		delete(r.mics, conversationID)
	}
	r.mu.Unlock()
	mic.revoke()
}

// Acquire implements MediaProvider.
func (r *MediaRegistry) Acquire(ctx context.Context, conversationID string) (Media, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	mic := r.mics[conversationID]
	r.mu.Unlock()
	if mic == nil {
		return nil, fmt.Errorf("%w: no operator microphone attached", ErrPermissionDenied)
	}
	lease, err := mic.acquire()
	if err != nil {
		return nil, err
	}
	return lease, nil
}
