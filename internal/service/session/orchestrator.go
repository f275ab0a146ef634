package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/metrics"
	agentmodel "github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/agent"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/conversation"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/annotation"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/archive"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/events"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/transcript"
)

// StreamingClient opens live sessions with the remote agent.
type StreamingClient interface {
	StartSession(ctx context.Context, cfg agentmodel.SessionConfig, cb agentmodel.Callbacks) (agentmodel.Session, error)
}

// CredentialIssuer issues a single-session credential.
type CredentialIssuer interface {
	Issue(ctx context.Context) (string, error)
}

// PromptBuilder renders the agent's role prompt.
type PromptBuilder interface {
	Build(latestAnnotation string) string
}

// Dependencies are the collaborators shared by every orchestrator.
type Dependencies struct {
	Store       transcript.Store
	Client      StreamingClient
	Credentials CredentialIssuer
	Prompts     PromptBuilder
	Media       MediaProvider
	Annotator   annotation.Service
	Archive     archive.Archive
	Publisher   events.Publisher
	Metrics     *metrics.Metrics
}

// Options tune timeouts and annotation ordering.
type Options struct {
	Ordering          Ordering
	AnnotationTimeout time.Duration
	EndSessionTimeout time.Duration
	StoreTimeout      time.Duration
}

func (o Options) withDefaults() Options {
	if o.Ordering == "" {
		o.Ordering = OrderingSequenced
	}
	if o.AnnotationTimeout <= 0 {
		o.AnnotationTimeout = 30 * time.Second
	}
	if o.EndSessionTimeout <= 0 {
		o.EndSessionTimeout = 5 * time.Second
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 10 * time.Second
	}
	return o
}

type loopKind int

const (
	loopConnect loopKind = iota
	loopDisconnect
	loopError
	loopMessage
	loopMode
	loopAudio
	loopBarrier
)

type loopEvent struct {
	kind     loopKind
	gen      uint64
	msg      agentmodel.Message
	reason   string
	err      error
	speaking bool
	audio    []byte
	barrier  chan struct{}
}

// Orchestrator 管理单个会话：连接状态机、消息去重入库以及合规分析触发。
type Orchestrator struct {
	id   string
	deps Dependencies
	opts Options

	buffer   *Buffer
	pipeline *Pipeline
	hub      *Hub

	mu          sync.Mutex
	state       conversation.SessionState
	speaking    bool
	currentText string
	generation  uint64
	live        agentmodel.Session
	media       Media

	ingestMu sync.Mutex

	loop      chan loopEvent
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
}

// NewOrchestrator creates an idle orchestrator and starts its event loop.
func NewOrchestrator(conversationID string, deps Dependencies, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	if deps.Publisher == nil {
		deps.Publisher = events.Noop{}
	}

	o := &Orchestrator{
		id:       conversationID,
		deps:     deps,
		opts:     opts,
		buffer:   NewBuffer(),
		hub:      NewHub(),
		state:    conversation.StateIdle,
		loop:     make(chan loopEvent, 256),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	o.pipeline = NewPipeline(PipelineConfig{
		ConversationID: conversationID,
		Annotator:      deps.Annotator,
		Archive:        deps.Archive,
		Publisher:      deps.Publisher,
		Metrics:        deps.Metrics,
		Ordering:       opts.Ordering,
		Timeout:        opts.AnnotationTimeout,
		OnApply: func(result conversation.ComplianceAnnotation) {
			o.publish(EventAnnotation, result)
		},
	})

	go o.run()
	return o
}

// ID returns the conversation id.
func (o *Orchestrator) ID() string {
	return o.id
}

// Subscribe streams live events for this conversation.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	return o.hub.Subscribe(128)
}

// Load refreshes the buffer from the transcript store.
func (o *Orchestrator) Load(ctx context.Context) error {
	o.ingestMu.Lock()
	defer o.ingestMu.Unlock()
	return o.refresh(ctx)
}

// Status returns a snapshot of the session.
func (o *Orchestrator) Status() conversation.Status {
	o.mu.Lock()
	status := conversation.Status{
		ConversationID: o.id,
		State:          o.state,
		Speech:         o.speechLocked(),
		CurrentText:    o.currentText,
	}
	o.mu.Unlock()

	status.LatestAnnotation = o.pipeline.LatestText()
	status.Messages = o.buffer.Items()
	return status
}

// State returns the connection state.
func (o *Orchestrator) State() conversation.SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LatestAnnotation returns the most recently applied compliance annotation.
func (o *Orchestrator) LatestAnnotation() (conversation.ComplianceAnnotation, bool) {
	return o.pipeline.Latest()
}

// Messages returns the buffered transcript.
func (o *Orchestrator) Messages() []conversation.MessageItem {
	return o.buffer.Items()
}

func (o *Orchestrator) speechLocked() conversation.SpeechState {
	switch {
	case o.state != conversation.StateConnected:
		return conversation.SpeechSilent
	case o.speaking:
		return conversation.SpeechSpeaking
	default:
		return conversation.SpeechListening
	}
}

// Connect opens a live session. Legal only from idle.
func (o *Orchestrator) Connect(ctx context.Context) error {
	select {
	case <-o.quit:
		return ErrClosed
	default:
	}

	o.mu.Lock()
	if o.state != conversation.StateIdle {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", ErrInvalidState, state)
	}
	o.generation++
	gen := o.generation
	o.state = conversation.StateConnecting
	o.speaking = false
	o.mu.Unlock()
	o.publishState()

	log.Printf("[session] connecting conversation=%s", o.id)

	if o.deps.Media == nil {
		return o.failConnect(gen, nil, fmt.Errorf("%w: no media provider", ErrPermissionDenied))
	}
	media, err := o.deps.Media.Acquire(ctx, o.id)
	if err != nil {
		if !errors.Is(err, ErrPermissionDenied) {
			err = fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return o.failConnect(gen, nil, err)
	}

	if o.deps.Credentials == nil || o.deps.Client == nil {
		return o.failConnect(gen, media, fmt.Errorf("%w: agent not configured", ErrCredential))
	}
	credential, err := o.deps.Credentials.Issue(ctx)
	if err != nil {
		return o.failConnect(gen, media, fmt.Errorf("%w: %v", ErrCredential, err))
	}

	prompt := ""
	if o.deps.Prompts != nil {
		prompt = o.deps.Prompts.Build(o.pipeline.LatestText())
	}

	live, err := o.deps.Client.StartSession(ctx, agentmodel.SessionConfig{
		Credential:     credential,
		PromptOverride: prompt,
		Audio:          media.Audio(),
	}, o.callbacks(gen))
	if err != nil {
		return o.failConnect(gen, media, fmt.Errorf("%w: %v", ErrStream, err))
	}

	o.mu.Lock()
	if o.generation != gen {
		// Disconnect 已经介入
		o.mu.Unlock()
		o.teardown(live, media)
		o.deps.Metrics.RecordSession("abandoned")
		log.Printf("[session] connect abandoned conversation=%s", o.id)
		return ErrConnectAborted
	}
	o.live = live
	o.media = media
	o.mu.Unlock()

	return nil
}

func (o *Orchestrator) failConnect(gen uint64, media Media, err error) error {
	if media != nil {
		media.Release()
	}

	o.mu.Lock()
	current := o.generation == gen
	if current {
		o.state = conversation.StateIdle
	}
	o.mu.Unlock()

	if !current {
		o.deps.Metrics.RecordSession("abandoned")
		log.Printf("[session] connect abandoned conversation=%s: %v", o.id, err)
		return ErrConnectAborted
	}

	o.deps.Metrics.RecordSession("failed")
	log.Printf("[session] connect failed conversation=%s: %v", o.id, err)
	o.publishState()
	o.publishError(err)
	return err
}

// Disconnect ends the live session. It is a no-op when idle and always returns
// to idle with media released, whatever EndSession does.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case conversation.StateIdle, conversation.StateDisconnecting:
		o.mu.Unlock()
		return nil
	}
	wasConnected := o.state == conversation.StateConnected
	o.generation++
	o.state = conversation.StateDisconnecting
	live, media := o.live, o.media
	o.live, o.media = nil, nil
	o.mu.Unlock()
	o.publishState()

	log.Printf("[session] disconnecting conversation=%s", o.id)

	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.EndSessionTimeout)
	defer cancel()
	if err := o.endSession(endCtx, live); err != nil {
		log.Printf("[session] end session conversation=%s: %v", o.id, err)
	}
	if media != nil {
		media.Release()
	}

	o.mu.Lock()
	o.state = conversation.StateIdle
	o.speaking = false
	o.mu.Unlock()
	o.publishState()

	if wasConnected {
		o.deps.Metrics.RecordSessionEnd()
	}
	return nil
}

// endSession bounds EndSession by ctx even if the client ignores it.
func (o *Orchestrator) endSession(ctx context.Context, live agentmodel.Session) error {
	if live == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() {
		done <- live.EndSession(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("end session timed out: %w", ctx.Err())
	}
}

func (o *Orchestrator) teardown(live agentmodel.Session, media Media) {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.EndSessionTimeout)
	defer cancel()
	if err := o.endSession(ctx, live); err != nil {
		log.Printf("[session] teardown conversation=%s: %v", o.id, err)
	}
	if media != nil {
		media.Release()
	}
}

func (o *Orchestrator) isCurrent(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generation == gen
}

// callbacks tags every signal with the session generation. Signals from a
// superseded session are dropped at the source.
func (o *Orchestrator) callbacks(gen uint64) agentmodel.Callbacks {
	return agentmodel.Callbacks{
		OnConnect: func() {
			o.enqueue(loopEvent{kind: loopConnect, gen: gen})
		},
		OnDisconnect: func(reason string) {
			o.enqueue(loopEvent{kind: loopDisconnect, gen: gen, reason: reason})
		},
		OnError: func(err error) {
			if o.isCurrent(gen) {
				o.enqueue(loopEvent{kind: loopError, gen: gen, err: err})
			}
		},
		OnMessage: func(msg agentmodel.Message) {
			if o.isCurrent(gen) {
				o.enqueue(loopEvent{kind: loopMessage, gen: gen, msg: msg})
			}
		},
		OnModeChange: func(speaking bool) {
			o.enqueue(loopEvent{kind: loopMode, gen: gen, speaking: speaking})
		},
		OnAudio: func(chunk []byte) {
			if o.isCurrent(gen) {
				o.enqueue(loopEvent{kind: loopAudio, gen: gen, audio: chunk})
			}
		},
	}
}

func (o *Orchestrator) enqueue(ev loopEvent) {
	select {
	case o.loop <- ev:
	case <-o.quit:
	}
}

func (o *Orchestrator) run() {
	defer close(o.loopDone)
	for {
		select {
		case <-o.quit:
			return
		case ev := <-o.loop:
			o.dispatch(ev)
		}
	}
}

func (o *Orchestrator) dispatch(ev loopEvent) {
	switch ev.kind {
	case loopConnect:
		o.handleConnected(ev.gen)
	case loopDisconnect:
		o.handleRemoteDisconnect(ev.gen, ev.reason)
	case loopError:
		log.Printf("[session] stream error conversation=%s: %v", o.id, ev.err)
		o.publishError(fmt.Errorf("%w: %v", ErrStream, ev.err))
	case loopMessage:
		ctx, cancel := context.WithTimeout(context.Background(), o.opts.StoreTimeout)
		o.HandleMessage(ctx, ev.msg)
		cancel()
	case loopMode:
		o.handleMode(ev.gen, ev.speaking)
	case loopAudio:
		o.deps.Metrics.RecordAudio("outbound", len(ev.audio))
		o.publish(EventAgentAudio, map[string]string{"audio": base64.StdEncoding.EncodeToString(ev.audio)})
	case loopBarrier:
		close(ev.barrier)
	}
}

func (o *Orchestrator) handleConnected(gen uint64) {
	o.mu.Lock()
	if o.generation != gen || o.state != conversation.StateConnecting {
		o.mu.Unlock()
		return
	}
	o.state = conversation.StateConnected
	o.mu.Unlock()

	o.deps.Metrics.RecordSession("connected")
	log.Printf("[session] connected conversation=%s", o.id)
	o.publishState()
}

// handleRemoteDisconnect treats the client as the source of truth for liveness.
func (o *Orchestrator) handleRemoteDisconnect(gen uint64, reason string) {
	o.mu.Lock()
	if o.generation != gen || o.state == conversation.StateIdle || o.state == conversation.StateDisconnecting {
		o.mu.Unlock()
		return
	}
	wasConnected := o.state == conversation.StateConnected
	o.generation++
	media := o.media
	o.live, o.media = nil, nil
	o.state = conversation.StateIdle
	o.speaking = false
	o.mu.Unlock()

	if media != nil {
		media.Release()
	}
	if wasConnected {
		o.deps.Metrics.RecordSessionEnd()
	}
	log.Printf("[session] remote disconnect conversation=%s reason=%s", o.id, reason)
	o.publishState()
}

func (o *Orchestrator) handleMode(gen uint64, speaking bool) {
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return
	}
	o.speaking = speaking
	speech := o.speechLocked()
	o.mu.Unlock()

	o.publish(EventSpeech, map[string]string{"speech": string(speech)})
}

// HandleMessage ingests one utterance. Duplicates of buffered (role, text) pairs
// are dropped before persistence; each accepted user utterance triggers one
// annotation of the transcript as of that utterance.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg agentmodel.Message) {
	o.ingestMu.Lock()
	defer o.ingestMu.Unlock()

	role, ok := conversation.ParseRole(string(msg.Speaker))
	if !ok {
		log.Printf("[session] ignoring message with unknown speaker %q", msg.Speaker)
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if role == conversation.RoleAssistant {
		o.mu.Lock()
		changed := o.currentText != text
		if changed {
			o.currentText = text
		}
		o.mu.Unlock()
		if changed {
			o.publish(EventCurrentText, map[string]string{"text": text})
		}
	}

	if msg.Tentative {
		return
	}

	if o.buffer.Contains(role, text) {
		o.deps.Metrics.RecordDuplicate(string(role))
		return
	}

	prior := o.buffer.Items()

	item := conversation.MessageItem{
		ID:             transcript.NewItemID(),
		ConversationID: o.id,
		Role:           role,
		Transcript:     text,
		CreatedAt:      time.Now().UTC(),
	}

	if role == conversation.RoleUser {
		asOf := conversation.JoinLines(append(prior, item))
		o.pipeline.Submit(asOf)
	}

	stored, err := o.deps.Store.Append(ctx, item)
	if err != nil {
		o.deps.Metrics.RecordPersistenceError()
		log.Printf("[session] persist message conversation=%s: %v", o.id, err)
		return
	}
	o.deps.Metrics.RecordMessage(string(role))
	o.deps.Publisher.PublishMessage(stored)

	if err := o.refresh(ctx); err != nil {
		o.deps.Metrics.RecordPersistenceError()
		log.Printf("[session] refresh transcript conversation=%s: %v", o.id, err)
	}
}

func (o *Orchestrator) refresh(ctx context.Context) error {
	items, err := o.deps.Store.List(ctx, o.id)
	if err != nil {
		return err
	}
	o.buffer.Replace(items)
	o.publish(EventTranscript, o.buffer.Items())
	return nil
}

// Flush waits until every event queued so far has been processed.
func (o *Orchestrator) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	select {
	case o.loop <- loopEvent{kind: loopBarrier, barrier: barrier}:
	case <-o.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-barrier:
		return nil
	case <-o.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitAnnotations blocks until all submitted annotation tasks have been applied.
func (o *Orchestrator) WaitAnnotations() {
	o.pipeline.Wait()
}

// Close disconnects, stops the event loop and waits for annotation tasks until
// ctx expires.
func (o *Orchestrator) Close(ctx context.Context) error {
	_ = o.Disconnect(ctx)

	var err error
	o.closeOnce.Do(func() {
		close(o.quit)
		<-o.loopDone
		err = o.pipeline.Close(ctx)
		o.hub.CloseAll()
	})
	return err
}

func (o *Orchestrator) publish(eventType string, data any) {
	o.hub.Publish(Event{Type: eventType, ConversationID: o.id, Data: data})
}

func (o *Orchestrator) publishState() {
	o.mu.Lock()
	data := map[string]string{
		"state":  string(o.state),
		"speech": string(o.speechLocked()),
	}
	o.mu.Unlock()
	o.publish(EventState, data)
}

func (o *Orchestrator) publishError(err error) {
	o.publish(EventError, ErrorPayload{Kind: errorKind(err), Message: err.Error()})
}
