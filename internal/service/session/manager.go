package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
)

// Manager keeps one orchestrator per conversation id.
type Manager struct {
	deps Dependencies
	opts Options

	mu       sync.Mutex
	sessions map[string]*Orchestrator
	closed   bool
}

// NewManager creates a manager sharing deps across all orchestrators.
func NewManager(deps Dependencies, opts Options) *Manager {
	return &Manager{
		deps:     deps,
		opts:     opts,
		sessions: make(map[string]*Orchestrator),
	}
}

// Get returns the orchestrator for id, creating it and loading its stored
// transcript on first use.
func (m *Manager) Get(ctx context.Context, conversationID string) (*Orchestrator, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation id is required", ErrInvalidState)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if o, ok := m.sessions[conversationID]; ok {
		m.mu.Unlock()
		return o, nil
	}
	o := NewOrchestrator(conversationID, m.deps, m.opts)
	m.sessions[conversationID] = o
	m.mu.Unlock()

	if err := o.Load(ctx); err != nil {
		// 存储不可用时仍允许会话继续，缓冲区保持为空
		log.Printf("[session] load transcript conversation=%s: %v", conversationID, err)
	}
	return o, nil
}

// Lookup returns an existing orchestrator without creating one.
func (m *Manager) Lookup(conversationID string) (*Orchestrator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.sessions[conversationID]
	return o, ok
}

// Media returns the shared media provider.
func (m *Manager) Media() MediaProvider {
	return m.deps.Media
}

// CloseAll disconnects every session and waits for pending annotations until
// ctx expires.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Orchestrator, 0, len(m.sessions))
	for _, o := range m.sessions {
		sessions = append(sessions, o)
	}
	m.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, o := range sessions {
		wg.Add(1)
		go func(o *Orchestrator) {
			defer wg.Done()
			if err := o.Close(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("conversation %s: %w", o.ID(), err))
				mu.Unlock()
			}
		}(o)
	}
	wg.Wait()

	log.Printf("[session] closed %d sessions", len(sessions))
	return errors.Join(errs...)
}
