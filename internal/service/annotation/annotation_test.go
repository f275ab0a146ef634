package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/checklist"
)

func TestHTTPClientReturnsResponse(t *testing.T) {
	var received httpRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"confirm allergies next"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	got, err := client.Annotate(context.Background(), "user: start")
	if err != nil {
		t.Fatalf("Annotate err: %v", err)
	}
	if got != "confirm allergies next" {
		t.Fatalf("unexpected annotation %q", got)
	}
	if received.ConversationText != "user: start" {
		t.Fatalf("unexpected request body %+v", received)
	}
}

func TestHTTPClientTreatsNon2xxAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"response":"should be ignored","error":"upstream down"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPClient(srv.URL, time.Second).Annotate(context.Background(), "user: start")
	if err == nil || !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestHTTPClientErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"model overloaded"}`))
	}))
	defer srv.Close()

	if _, err := NewHTTPClient(srv.URL, time.Second).Annotate(context.Background(), "user: start"); err == nil {
		t.Fatalf("expected error for error payload")
	}
}

func TestHTTPClientEmptyInput(t *testing.T) {
	_, err := NewHTTPClient("http://127.0.0.1:1", time.Second).Annotate(context.Background(), "  ")
	if !errors.Is(err, ErrEmptyConversation) {
		t.Fatalf("expected ErrEmptyConversation, got %v", err)
	}
}

func TestKeywordClassifierReport(t *testing.T) {
	classifier := NewKeywordClassifier(checklist.NewMemoryStore(checklist.Seed()))
	got, err := classifier.Annotate(context.Background(), "user: confirm your name please")
	if err != nil {
		t.Fatalf("Annotate err: %v", err)
	}
	if !strings.Contains(got, "Compliance level") {
		t.Fatalf("unexpected report %q", got)
	}
}

type fakeGenerator struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	text     string
	err      error
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(f.text, genai.RoleModel)}},
	}, nil
}

func TestGeminiClassifierUsesChecklistInstruction(t *testing.T) {
	fake := &fakeGenerator{text: " sterility not confirmed "}
	classifier := &GeminiClassifier{models: fake, model: "gemini-test", items: checklist.NewMemoryStore(checklist.Seed())}

	got, err := classifier.Annotate(context.Background(), "user: incision now")
	if err != nil {
		t.Fatalf("Annotate err: %v", err)
	}
	if got != "sterility not confirmed" {
		t.Fatalf("unexpected annotation %q", got)
	}
	if fake.model != "gemini-test" {
		t.Fatalf("unexpected model %q", fake.model)
	}
	if fake.config == nil || fake.config.SystemInstruction == nil {
		t.Fatalf("expected system instruction to be set")
	}
	if !strings.Contains(fake.config.SystemInstruction.Parts[0].Text, "Sterility confirmed") {
		t.Fatalf("system instruction should list checklist items")
	}
}

func TestGeminiClassifierPropagatesErrors(t *testing.T) {
	fake := &fakeGenerator{err: errors.New("quota")}
	classifier := &GeminiClassifier{models: fake, model: "gemini-test"}
	if _, err := classifier.Annotate(context.Background(), "user: hi"); err == nil {
		t.Fatalf("expected error")
	}
}

type fakeChatModel struct {
	reply string
	input []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.input = input
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.input = input
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(f.reply, nil)}), nil
}

func (f *fakeChatModel) BindTools(tools []*schema.ToolInfo) error {
	return nil
}

func TestLLMClassifierRendersPrompt(t *testing.T) {
	fake := &fakeChatModel{reply: "time-out not started"}
	classifier, err := NewLLMClassifier(context.Background(), fake, checklist.NewMemoryStore(checklist.Seed()))
	if err != nil {
		t.Fatalf("NewLLMClassifier err: %v", err)
	}

	got, err := classifier.Annotate(context.Background(), "user: start | assistant: ack")
	if err != nil {
		t.Fatalf("Annotate err: %v", err)
	}
	if got != "time-out not started" {
		t.Fatalf("unexpected annotation %q", got)
	}
	if len(fake.input) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(fake.input))
	}
	if !strings.Contains(fake.input[1].Content, "user: start | assistant: ack") {
		t.Fatalf("user message should carry the snapshot, got %q", fake.input[1].Content)
	}
}
