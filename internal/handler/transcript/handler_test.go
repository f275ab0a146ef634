package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/conversation"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/transcript"
)

func setupRouter() (*chi.Mux, *transcript.MemoryStore) {
	store := transcript.NewMemoryStore()
	r := chi.NewRouter()
	New(store).RegisterRoutes(r)
	return r, store
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/c", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestAppendRealtimeItemShape(t *testing.T) {
	r, _ := setupRouter()

	resp := post(r, `{"id":"slug-1","item":{"type":"message","id":"item_0.42","role":"user","content":[{"type":"text","transcript":"begin sign in"}]}}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/c?id=slug-1", nil)
	listResp := httptest.NewRecorder()
	r.ServeHTTP(listResp, req)

	if listResp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", listResp.Code)
	}
	var items []map[string]any
	if err := json.Unmarshal(listResp.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0]["content_transcript"] != "begin sign in" || items[0]["transcript"] != "begin sign in" {
		t.Fatalf("unexpected item %v", items[0])
	}
	if items[0]["id"] != "item_0.42" {
		t.Fatalf("expected client id kept, got %v", items[0]["id"])
	}
}

func TestAppendPlainShape(t *testing.T) {
	r, store := setupRouter()

	resp := post(r, `{"conversationId":"c2","item":{"role":"ai","transcript":"noted"}}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	items, _ := store.List(context.Background(), "c2")
	if len(items) != 1 || items[0].Role != conversation.RoleAssistant {
		t.Fatalf("unexpected stored items %+v", items)
	}
}

func TestAppendValidation(t *testing.T) {
	r, _ := setupRouter()

	cases := map[string]string{
		"bad role":        `{"id":"c1","item":{"role":"system","transcript":"x"}}`,
		"empty text":      `{"id":"c1","item":{"role":"user","content":[]}}`,
		"no conversation": `{"item":{"role":"user","transcript":"x"}}`,
		"not json":        `nope`,
	}
	for name, body := range cases {
		if resp := post(r, body); resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, resp.Code)
		}
	}
}

func TestListRequiresConversationID(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/c", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestConversationsGroupsBySession(t *testing.T) {
	r, _ := setupRouter()
	post(r, `{"id":"a","item":{"role":"user","transcript":"one"}}`)
	post(r, `{"id":"b","item":{"role":"user","transcript":"two"}}`)
	post(r, `{"id":"a","item":{"role":"assistant","transcript":"three"}}`)

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var summaries []conversation.Summary
	if err := json.Unmarshal(resp.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(summaries) != 2 || summaries[0].ConversationID != "a" || len(summaries[0].Messages) != 2 {
		t.Fatalf("unexpected summaries %+v", summaries)
	}
}
