package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	agentmodel "github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/agent"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/conversation"
)

func TestStartAckStartScenario(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	env.orch.HandleMessage(ctx, userMsg("start"))
	env.orch.HandleMessage(ctx, agentMsg("ack"))
	env.orch.HandleMessage(ctx, userMsg("start"))
	env.orch.WaitAnnotations()

	items := env.orch.Messages()
	if len(items) != 2 {
		t.Fatalf("expected 2 buffered items, got %d", len(items))
	}
	if items[0].Role != conversation.RoleUser || items[1].Role != conversation.RoleAssistant {
		t.Fatalf("unexpected roles: %s, %s", items[0].Role, items[1].Role)
	}
	if got := env.store.Appends(); got != 2 {
		t.Fatalf("expected 2 store writes, got %d", got)
	}
	calls := env.annotator.Calls()
	if len(calls) != 1 || calls[0] != "user: start" {
		t.Fatalf("expected one annotation of %q, got %v", "user: start", calls)
	}
}

func TestAnnotationSeesPriorTranscript(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	env.orch.HandleMessage(ctx, userMsg("patient name is Jane"))
	env.orch.HandleMessage(ctx, agentMsg("confirm date of birth"))
	env.orch.HandleMessage(ctx, userMsg("March 3rd"))
	env.orch.WaitAnnotations()

	calls := env.annotator.Calls()
	sort.Strings(calls)
	want := []string{
		"user: patient name is Jane",
		"user: patient name is Jane | assistant: confirm date of birth | user: March 3rd",
	}
	sort.Strings(want)
	if len(calls) != len(want) {
		t.Fatalf("expected %d annotation calls, got %v", len(want), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d: expected %q, got %q", i, want[i], calls[i])
		}
	}
}

func TestDistinctMessagesKeepArrivalOrder(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	texts := []agentmodel.Message{
		userMsg("one"), agentMsg("two"), userMsg("three"), agentMsg("four"), userMsg("five"),
	}
	for _, msg := range texts {
		env.orch.HandleMessage(ctx, msg)
	}

	items := env.orch.Messages()
	if len(items) != len(texts) {
		t.Fatalf("expected %d items, got %d", len(texts), len(items))
	}
	for i, msg := range texts {
		if items[i].Transcript != msg.Text {
			t.Fatalf("item %d: expected %q, got %q", i, msg.Text, items[i].Transcript)
		}
	}
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env.orch.HandleMessage(ctx, userMsg("scalpel please"))
	}
	env.orch.WaitAnnotations()

	if got := len(env.orch.Messages()); got != 1 {
		t.Fatalf("expected 1 item, got %d", got)
	}
	if got := env.store.Appends(); got != 1 {
		t.Fatalf("expected 1 write, got %d", got)
	}
	if got := len(env.annotator.Calls()); got != 1 {
		t.Fatalf("expected 1 annotation call, got %d", got)
	}
}

func TestSameTextDifferentRoleIsNotDuplicate(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	env.orch.HandleMessage(ctx, userMsg("ready"))
	env.orch.HandleMessage(ctx, agentMsg("ready"))

	if got := len(env.orch.Messages()); got != 2 {
		t.Fatalf("expected 2 items, got %d", got)
	}
}

func TestTentativeAgentTextOnlyUpdatesDisplay(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	env.orch.HandleMessage(ctx, agentmodel.Message{Speaker: agentmodel.SpeakerAgent, Text: "Please confirm", Tentative: true})
	if got := env.orch.Status().CurrentText; got != "Please confirm" {
		t.Fatalf("expected current text to follow tentative response, got %q", got)
	}
	if got := len(env.orch.Messages()); got != 0 {
		t.Fatalf("tentative text must not be logged, got %d items", got)
	}

	env.orch.HandleMessage(ctx, agentMsg("Please confirm the site"))
	if got := env.orch.Status().CurrentText; got != "Please confirm the site" {
		t.Fatalf("unexpected current text %q", got)
	}
	if got := len(env.orch.Messages()); got != 1 {
		t.Fatalf("expected final response logged, got %d items", got)
	}
	if got := len(env.annotator.Calls()); got != 0 {
		t.Fatalf("assistant messages must not be annotated, got %d calls", got)
	}
}

func TestPersistenceFailureLeavesBufferStale(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.store.appendErr = errBoom
	ctx := context.Background()

	env.orch.HandleMessage(ctx, userMsg("start"))
	env.orch.WaitAnnotations()

	if got := len(env.orch.Messages()); got != 0 {
		t.Fatalf("expected stale empty buffer, got %d items", got)
	}
	if calls := env.annotator.Calls(); len(calls) != 1 || calls[0] != "user: start" {
		t.Fatalf("expected annotation to proceed, got %v", calls)
	}
}

func TestAnnotationErrorLeavesLatestUnchanged(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	env.orch.HandleMessage(ctx, userMsg("first"))
	env.orch.WaitAnnotations()
	before, ok := env.orch.LatestAnnotation()
	if !ok {
		t.Fatalf("expected an applied annotation")
	}

	env.annotator.mu.Lock()
	env.annotator.err = errBoom
	env.annotator.mu.Unlock()

	env.orch.HandleMessage(ctx, userMsg("second"))
	env.orch.WaitAnnotations()

	after, _ := env.orch.LatestAnnotation()
	if after.Seq != before.Seq || after.Annotation != before.Annotation {
		t.Fatalf("latest changed after failed annotation: %+v -> %+v", before, after)
	}
	if got := len(env.archive.Keys()); got != 1 {
		t.Fatalf("expected only the successful snapshot archived, got %d", got)
	}
}

func TestArchiveFailureLeavesLatestUnchanged(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.archive.err = errBoom
	ctx := context.Background()

	env.orch.HandleMessage(ctx, userMsg("first"))
	env.orch.WaitAnnotations()

	if _, ok := env.orch.LatestAnnotation(); ok {
		t.Fatalf("annotation must not apply when the snapshot write fails")
	}
}

func TestSnapshotKeyUsesConversationID(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.orch.HandleMessage(context.Background(), userMsg("start"))
	env.orch.WaitAnnotations()

	keys := env.archive.Keys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], "conv-1/") || !strings.HasSuffix(keys[0], ".json") {
		t.Fatalf("unexpected snapshot keys %v", keys)
	}
}

func TestConnectLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	if got := env.orch.Status().Speech; got != conversation.SpeechSilent {
		t.Fatalf("expected silent while idle, got %s", got)
	}

	if err := env.orch.Connect(ctx); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	if got := env.orch.State(); got != conversation.StateConnecting {
		t.Fatalf("expected connecting, got %s", got)
	}

	cfg, cb, sess := env.client.Last()
	if cfg.Credential != "wss://agent.test/signed" {
		t.Fatalf("unexpected credential %q", cfg.Credential)
	}
	if cfg.Audio == nil {
		t.Fatalf("expected microphone stream passed to the client")
	}

	cb.Connect()
	env.flush(t)
	status := env.orch.Status()
	if status.State != conversation.StateConnected || status.Speech != conversation.SpeechListening {
		t.Fatalf("expected connected/listening, got %s/%s", status.State, status.Speech)
	}

	cb.ModeChange(true)
	env.flush(t)
	if got := env.orch.Status().Speech; got != conversation.SpeechSpeaking {
		t.Fatalf("expected speaking, got %s", got)
	}

	cb.Message(userMsg("begin time-out"))
	env.flush(t)
	if got := len(env.orch.Messages()); got != 1 {
		t.Fatalf("expected streamed message buffered, got %d", got)
	}

	if err := env.orch.Connect(ctx); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second connect, got %v", err)
	}

	if err := env.orch.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect err: %v", err)
	}
	status = env.orch.Status()
	if status.State != conversation.StateIdle || status.Speech != conversation.SpeechSilent {
		t.Fatalf("expected idle/silent, got %s/%s", status.State, status.Speech)
	}
	if sess.Ended() != 1 {
		t.Fatalf("expected EndSession once, got %d", sess.Ended())
	}
	if !env.media.Last().Released() {
		t.Fatalf("expected media released")
	}
}

func TestDisconnectFromIdleIsNoop(t *testing.T) {
	env := newTestEnv(t, Options{})
	if err := env.orch.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect err: %v", err)
	}
	if got := env.orch.State(); got != conversation.StateIdle {
		t.Fatalf("expected idle, got %s", got)
	}
}

func TestDisconnectSurvivesEndSessionFailure(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.client.next = &fakeAgentSession{err: errBoom}
	ctx := context.Background()

	if err := env.orch.Connect(ctx); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	if err := env.orch.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect err: %v", err)
	}
	if got := env.orch.State(); got != conversation.StateIdle {
		t.Fatalf("expected idle, got %s", got)
	}
	if !env.media.Last().Released() {
		t.Fatalf("expected media released")
	}
}

func TestDisconnectBoundsHangingEndSession(t *testing.T) {
	env := newTestEnv(t, Options{EndSessionTimeout: 50 * time.Millisecond})
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })
	env.client.next = &fakeAgentSession{hang: hang}

	ctx, cancel := context.WithCancel(context.Background())
	if err := env.orch.Connect(ctx); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	// 调用方的 ctx 已取消也不影响清理
	cancel()

	started := time.Now()
	if err := env.orch.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect err: %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("Disconnect took %s", elapsed)
	}
	if got := env.orch.State(); got != conversation.StateIdle {
		t.Fatalf("expected idle, got %s", got)
	}
	if !env.media.Last().Released() {
		t.Fatalf("expected media released")
	}
}

func TestConnectPermissionDenied(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.media.err = ErrPermissionDenied

	events, cancel := env.orch.Subscribe()
	defer cancel()

	err := env.orch.Connect(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if got := env.orch.State(); got != conversation.StateIdle {
		t.Fatalf("expected idle, got %s", got)
	}
	if env.client.Calls() != 0 {
		t.Fatalf("client must not be started without media")
	}

	waitFor(t, "error event", func() bool {
		for {
			select {
			case ev := <-events:
				if ev.Type != EventError {
					continue
				}
				payload, ok := ev.Data.(ErrorPayload)
				return ok && payload.Kind == "permission"
			default:
				return false
			}
		}
	})
}

func TestConnectCredentialFailureReleasesMedia(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.orch.deps.Credentials = fakeCredentials{err: errBoom}

	err := env.orch.Connect(context.Background())
	if !errors.Is(err, ErrCredential) {
		t.Fatalf("expected ErrCredential, got %v", err)
	}
	if got := env.orch.State(); got != conversation.StateIdle {
		t.Fatalf("expected idle, got %s", got)
	}
	if !env.media.Last().Released() {
		t.Fatalf("expected media released")
	}
}

func TestConnectStreamFailure(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.client.err = errBoom

	err := env.orch.Connect(context.Background())
	if !errors.Is(err, ErrStream) {
		t.Fatalf("expected ErrStream, got %v", err)
	}
	if got := env.orch.State(); got != conversation.StateIdle {
		t.Fatalf("expected idle, got %s", got)
	}
	if !env.media.Last().Released() {
		t.Fatalf("expected media released")
	}
}

func TestDisconnectDuringFailingConnectReportsAbort(t *testing.T) {
	env := newTestEnv(t, Options{})
	creds := &blockingCredentials{
		started: make(chan struct{}),
		gate:    make(chan struct{}),
		err:     errors.New("quota exceeded"),
	}
	orch := NewOrchestrator("conv-2", Dependencies{
		Store:       env.store,
		Client:      env.client,
		Credentials: creds,
		Prompts:     fakePrompts{},
		Media:       env.media,
		Annotator:   env.annotator,
		Archive:     env.archive,
	}, Options{})
	t.Cleanup(func() { _ = orch.Close(context.Background()) })
	ctx := context.Background()

	result := make(chan error, 1)
	go func() { result <- orch.Connect(ctx) }()

	<-creds.started
	if err := orch.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect err: %v", err)
	}
	close(creds.gate)

	select {
	case err := <-result:
		if !errors.Is(err, ErrConnectAborted) {
			t.Fatalf("expected ErrConnectAborted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Connect did not return")
	}
	if got := orch.State(); got != conversation.StateIdle {
		t.Fatalf("expected idle, got %s", got)
	}
	if !env.media.Last().Released() {
		t.Fatalf("expected media released")
	}
}

func TestDisconnectAbandonsPendingConnect(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.client.started = make(chan struct{})
	env.client.gate = make(chan struct{})
	ctx := context.Background()

	result := make(chan error, 1)
	go func() { result <- env.orch.Connect(ctx) }()

	<-env.client.started
	if err := env.orch.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect err: %v", err)
	}
	if got := env.orch.State(); got != conversation.StateIdle {
		t.Fatalf("expected idle after disconnect, got %s", got)
	}

	close(env.client.gate)
	select {
	case err := <-result:
		if !errors.Is(err, ErrConnectAborted) {
			t.Fatalf("expected ErrConnectAborted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Connect did not return")
	}

	_, cb, sess := env.client.Last()
	if sess.Ended() != 1 {
		t.Fatalf("expected abandoned session ended, got %d", sess.Ended())
	}
	if !env.media.Last().Released() {
		t.Fatalf("expected media released")
	}

	// 被放弃会话的回调不再生效
	cb.Connect()
	env.flush(t)
	if got := env.orch.State(); got != conversation.StateIdle {
		t.Fatalf("stale connect signal changed state to %s", got)
	}
}

func TestRemoteDisconnectReturnsToIdle(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	if err := env.orch.Connect(ctx); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	_, cb, _ := env.client.Last()
	cb.Connect()
	env.flush(t)

	cb.Disconnect("1000")
	env.flush(t)
	if got := env.orch.State(); got != conversation.StateIdle {
		t.Fatalf("expected idle, got %s", got)
	}
	if !env.media.Last().Released() {
		t.Fatalf("expected media released")
	}

	cb.Message(userMsg("after close"))
	env.flush(t)
	if got := len(env.orch.Messages()); got != 0 {
		t.Fatalf("messages from a closed session must be dropped, got %d", got)
	}

	if err := env.orch.Connect(ctx); err != nil {
		t.Fatalf("reconnect err: %v", err)
	}
}

func TestStreamErrorDoesNotChangeState(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	if err := env.orch.Connect(ctx); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	_, cb, _ := env.client.Last()
	cb.Connect()
	cb.Error(errBoom)
	env.flush(t)

	if got := env.orch.State(); got != conversation.StateConnected {
		t.Fatalf("expected connected after stream error, got %s", got)
	}
}

func TestNextConnectUsesLatestAnnotation(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	env.orch.HandleMessage(ctx, userMsg("start"))
	env.orch.WaitAnnotations()

	if err := env.orch.Connect(ctx); err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	cfg, _, _ := env.client.Last()
	if !strings.Contains(cfg.PromptOverride, "review of user: start") {
		t.Fatalf("expected latest annotation in prompt, got %q", cfg.PromptOverride)
	}
}

func TestSubscribeReceivesTranscript(t *testing.T) {
	env := newTestEnv(t, Options{})
	events, cancel := env.orch.Subscribe()
	defer cancel()

	env.orch.HandleMessage(context.Background(), userMsg("start"))

	timeout := time.After(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type != EventTranscript {
				continue
			}
			if ev.ConversationID != "conv-1" {
				t.Fatalf("unexpected conversation %q", ev.ConversationID)
			}
			items, ok := ev.Data.([]conversation.MessageItem)
			if !ok || len(items) != 1 {
				t.Fatalf("unexpected transcript payload %#v", ev.Data)
			}
			return
		case <-timeout:
			t.Fatalf("no transcript event")
		}
	}
}

func TestLoadRefreshesFromStore(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	_, err := env.store.MemoryStore.Append(ctx, conversation.MessageItem{
		ConversationID: "conv-1", Role: conversation.RoleUser, Transcript: "from another writer",
	})
	if err != nil {
		t.Fatalf("Append err: %v", err)
	}

	if err := env.orch.Load(ctx); err != nil {
		t.Fatalf("Load err: %v", err)
	}
	env.orch.HandleMessage(ctx, userMsg("from another writer"))

	if got := len(env.orch.Messages()); got != 1 {
		t.Fatalf("expected stored item to suppress duplicate, got %d", got)
	}
}

func TestCloseRejectsConnect(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	if err := env.orch.Close(ctx); err != nil {
		t.Fatalf("Close err: %v", err)
	}
	if err := env.orch.Connect(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
