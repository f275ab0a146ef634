package transcript

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/conversation"
)

var (
	// ErrInvalidItem is returned when an item is missing its conversation or role.
	ErrInvalidItem = errors.New("invalid message item")
)

// Store 是按会话划分的追加写消息日志。
type Store interface {
	Append(ctx context.Context, item conversation.MessageItem) (conversation.MessageItem, error)
	List(ctx context.Context, conversationID string) ([]conversation.MessageItem, error)
	Conversations(ctx context.Context) ([]conversation.Summary, error)
}

// Prepare validates an item and fills id and createdAt when absent.
func Prepare(item conversation.MessageItem) (conversation.MessageItem, error) {
	item.ConversationID = strings.TrimSpace(item.ConversationID)
	if item.ConversationID == "" {
		return item, fmt.Errorf("%w: conversationId is required", ErrInvalidItem)
	}
	if !item.Role.Valid() {
		return item, fmt.Errorf("%w: unknown role %q", ErrInvalidItem, item.Role)
	}
	if item.ID == "" {
		item.ID = NewItemID()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	return item, nil
}

// NewItemID returns a client-side message id.
func NewItemID() string {
	return "item_" + uuid.NewString()
}

// SortItems orders items by (createdAt, seq).
func SortItems(items []conversation.MessageItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].Seq < items[j].Seq
	})
}

// MemoryStore keeps transcripts in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	seq   int64
	items map[string][]conversation.MessageItem
}

// NewMemoryStore creates an empty in-memory transcript store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]conversation.MessageItem)}
}

// Append stores the item and returns it with its assigned sequence.
func (s *MemoryStore) Append(ctx context.Context, item conversation.MessageItem) (conversation.MessageItem, error) {
	if err := ctx.Err(); err != nil {
		return conversation.MessageItem{}, err
	}

	item, err := Prepare(item)
	if err != nil {
		return conversation.MessageItem{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	item.Seq = s.seq
	s.items[item.ConversationID] = append(s.items[item.ConversationID], item)
	return item, nil
}

// List returns the ordered transcript for one conversation.
func (s *MemoryStore) List(ctx context.Context, conversationID string) ([]conversation.MessageItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	items := append([]conversation.MessageItem(nil), s.items[conversationID]...)
	s.mu.RUnlock()

	SortItems(items)
	return items, nil
}

// Conversations groups every stored transcript, ordered by conversation id.
func (s *MemoryStore) Conversations(ctx context.Context) ([]conversation.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	summaries := make([]conversation.Summary, 0, len(ids))
	for _, id := range ids {
		items, err := s.List(ctx, id)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, conversation.Summary{ConversationID: id, Messages: items})
	}
	return summaries, nil
}
