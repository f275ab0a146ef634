package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	agentmodel "github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/agent"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/conversation"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/archive"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/transcript"
)

type countingStore struct {
	*transcript.MemoryStore

	mu        sync.Mutex
	appends   int
	appendErr error
	listErr   error
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: transcript.NewMemoryStore()}
}

func (s *countingStore) Append(ctx context.Context, item conversation.MessageItem) (conversation.MessageItem, error) {
	s.mu.Lock()
	err := s.appendErr
	if err == nil {
		s.appends++
	}
	s.mu.Unlock()
	if err != nil {
		return conversation.MessageItem{}, err
	}
	return s.MemoryStore.Append(ctx, item)
}

func (s *countingStore) List(ctx context.Context, id string) ([]conversation.MessageItem, error) {
	s.mu.Lock()
	err := s.listErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.List(ctx, id)
}

func (s *countingStore) Appends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

type fakeAgentSession struct {
	mu    sync.Mutex
	ended int
	err   error
	hang  chan struct{}
}

func (s *fakeAgentSession) EndSession(ctx context.Context) error {
	s.mu.Lock()
	s.ended++
	hang := s.hang
	s.mu.Unlock()
	if hang != nil {
		// 模拟无视 ctx 的客户端
		<-hang
	}
	return s.err
}

func (s *fakeAgentSession) Ended() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

type fakeClient struct {
	mu       sync.Mutex
	calls    int
	configs  []agentmodel.SessionConfig
	cbs      []agentmodel.Callbacks
	sessions []*fakeAgentSession
	err      error
	next     *fakeAgentSession
	started  chan struct{}
	gate     chan struct{}
}

func (c *fakeClient) StartSession(ctx context.Context, cfg agentmodel.SessionConfig, cb agentmodel.Callbacks) (agentmodel.Session, error) {
	c.mu.Lock()
	c.calls++
	c.configs = append(c.configs, cfg)
	c.cbs = append(c.cbs, cb)
	started, gate, err := c.started, c.gate, c.err
	sess := c.next
	if sess == nil {
		sess = &fakeAgentSession{}
	}
	c.next = nil
	c.sessions = append(c.sessions, sess)
	c.mu.Unlock()

	if started != nil {
		close(started)
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (c *fakeClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *fakeClient) Last() (agentmodel.SessionConfig, agentmodel.Callbacks, *fakeAgentSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.cbs) - 1
	return c.configs[n], c.cbs[n], c.sessions[n]
}

type fakeCredentials struct {
	credential string
	err        error
}

func (f fakeCredentials) Issue(context.Context) (string, error) {
	return f.credential, f.err
}

// blockingCredentials holds Issue until gate is closed, then fails with err.
type blockingCredentials struct {
	started chan struct{}
	gate    chan struct{}
	err     error
}

func (b *blockingCredentials) Issue(ctx context.Context) (string, error) {
	close(b.started)
	<-b.gate
	return "", b.err
}

type fakePrompts struct{}

func (fakePrompts) Build(latest string) string {
	if latest == "" {
		return "supervisor"
	}
	return "supervisor\n" + latest
}

type fakeMedia struct {
	ch       chan []byte
	mu       sync.Mutex
	released int
}

func (m *fakeMedia) Audio() <-chan []byte { return m.ch }

func (m *fakeMedia) Release() {
	m.mu.Lock()
	m.released++
	m.mu.Unlock()
}

func (m *fakeMedia) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released > 0
}

type fakeMediaProvider struct {
	mu     sync.Mutex
	err    error
	leases []*fakeMedia
}

func (p *fakeMediaProvider) Acquire(ctx context.Context, id string) (Media, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	m := &fakeMedia{ch: make(chan []byte)}
	p.leases = append(p.leases, m)
	return m, nil
}

func (p *fakeMediaProvider) Last() *fakeMedia {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.leases) == 0 {
		return nil
	}
	return p.leases[len(p.leases)-1]
}

// fakeAnnotator records every request; gates, when set, hold a request until
// the matching channel is closed.
type fakeAnnotator struct {
	mu    sync.Mutex
	calls []string
	err   error
	gates map[string]chan struct{}
}

func (a *fakeAnnotator) Annotate(ctx context.Context, text string) (string, error) {
	a.mu.Lock()
	a.calls = append(a.calls, text)
	gate := a.gates[text]
	err := a.err
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "review of " + text, nil
}

func (a *fakeAnnotator) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

type memoryArchive struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (a *memoryArchive) Put(ctx context.Context, key string, body []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	for _, existing := range a.keys {
		if existing == key {
			return archive.ErrKeyExists
		}
	}
	a.keys = append(a.keys, key)
	return nil
}

func (a *memoryArchive) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.keys...)
}

var errBoom = errors.New("boom")

type testEnv struct {
	store     *countingStore
	client    *fakeClient
	media     *fakeMediaProvider
	annotator *fakeAnnotator
	archive   *memoryArchive
	orch      *Orchestrator
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     newCountingStore(),
		client:    &fakeClient{},
		media:     &fakeMediaProvider{},
		annotator: &fakeAnnotator{},
		archive:   &memoryArchive{},
	}
	env.orch = NewOrchestrator("conv-1", Dependencies{
		Store:       env.store,
		Client:      env.client,
		Credentials: fakeCredentials{credential: "wss://agent.test/signed"},
		Prompts:     fakePrompts{},
		Media:       env.media,
		Annotator:   env.annotator,
		Archive:     env.archive,
	}, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = env.orch.Close(ctx)
	})
	return env
}

func (e *testEnv) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.orch.Flush(ctx); err != nil {
		t.Fatalf("Flush err: %v", err)
	}
}

func userMsg(text string) agentmodel.Message {
	return agentmodel.Message{Speaker: agentmodel.SpeakerUser, Text: text}
}

func agentMsg(text string) agentmodel.Message {
	return agentmodel.Message{Speaker: agentmodel.SpeakerAgent, Text: text}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
