package session

import (
	"sync"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/conversation"
)

// Buffer 是会话转写的读模型：有序消息加上 (role, transcript) 去重键集合。
type Buffer struct {
	mu    sync.RWMutex
	items []conversation.MessageItem
	keys  map[conversation.Key]struct{}
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{keys: make(map[conversation.Key]struct{})}
}

// Contains reports whether an item with the same role and transcript is present.
func (b *Buffer) Contains(role conversation.Role, transcript string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.keys[conversation.Key{Role: role, Transcript: transcript}]
	return ok
}

// Replace swaps in a fresh ordered read. Repeated (role, transcript) pairs keep
// their first occurrence only.
func (b *Buffer) Replace(items []conversation.MessageItem) {
	keys := make(map[conversation.Key]struct{}, len(items))
	kept := make([]conversation.MessageItem, 0, len(items))
	for _, item := range items {
		key := item.Key()
		if _, dup := keys[key]; dup {
			continue
		}
		keys[key] = struct{}{}
		kept = append(kept, item)
	}

	b.mu.Lock()
	b.items = kept
	b.keys = keys
	b.mu.Unlock()
}

// Items returns a copy of the ordered items.
func (b *Buffer) Items() []conversation.MessageItem {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]conversation.MessageItem(nil), b.items...)
}

// Len returns the number of buffered items.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.items)
}

// Text renders the buffer as "role: text | role: text".
func (b *Buffer) Text() string {
	return conversation.JoinLines(b.Items())
}
