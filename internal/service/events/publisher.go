package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/conversation"
)

// Subjects published by the backend.
const (
	SubjectComplianceAnnotated = "surgentic.compliance.annotated"
	SubjectTranscriptAppended  = "surgentic.transcript.appended"
)

// AnnotationEvent is published after an annotation snapshot is archived.
type AnnotationEvent struct {
	ConversationID string    `json:"conversation_id"`
	Seq            uint64    `json:"seq"`
	ArchiveKey     string    `json:"archive_key"`
	Annotation     string    `json:"annotation"`
	ProducedAt     time.Time `json:"produced_at"`
}

// MessageEvent is published after a message is persisted.
type MessageEvent struct {
	ConversationID string    `json:"conversation_id"`
	ItemID         string    `json:"item_id"`
	Role           string    `json:"role"`
	Transcript     string    `json:"transcript"`
	Seq            int64     `json:"seq"`
	CreatedAt      time.Time `json:"created_at"`
}

// Publisher 对外广播会话事件，发布失败只记录日志。
type Publisher interface {
	PublishAnnotation(annotation conversation.ComplianceAnnotation, archiveKey string)
	PublishMessage(item conversation.MessageItem)
}

// Noop discards every event.
type Noop struct{}

func (Noop) PublishAnnotation(conversation.ComplianceAnnotation, string) {}
func (Noop) PublishMessage(conversation.MessageItem)                      {}

// natsConn is the subset of *nats.Conn used for publishing.
type natsConn interface {
	Publish(subject string, data []byte) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// NATSPublisher publishes JSON events to NATS.
type NATSPublisher struct {
	conn natsConn
}

// NewNATSPublisher connects with reconnects enabled.
func NewNATSPublisher(ctx context.Context, url, token string) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("surgentic-backend"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[events] nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("[events] nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSPublisher{conn: nc}, nil
}

// Publish marshals data as JSON onto subject.
func (p *NATSPublisher) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return p.conn.Publish(subject, payload)
}

// PublishAnnotation implements Publisher.
func (p *NATSPublisher) PublishAnnotation(annotation conversation.ComplianceAnnotation, archiveKey string) {
	event := AnnotationEvent{
		ConversationID: annotation.ConversationID,
		Seq:            annotation.Seq,
		ArchiveKey:     archiveKey,
		Annotation:     annotation.Annotation,
		ProducedAt:     annotation.ProducedAt,
	}
	if err := p.Publish(SubjectComplianceAnnotated, event); err != nil {
		log.Printf("[events] publish annotation conversation=%s failed: %v", annotation.ConversationID, err)
	}
}

// PublishMessage implements Publisher.
func (p *NATSPublisher) PublishMessage(item conversation.MessageItem) {
	event := MessageEvent{
		ConversationID: item.ConversationID,
		ItemID:         item.ID,
		Role:           string(item.Role),
		Transcript:     item.Transcript,
		Seq:            item.Seq,
		CreatedAt:      item.CreatedAt,
	}
	if err := p.Publish(SubjectTranscriptAppended, event); err != nil {
		log.Printf("[events] publish message conversation=%s failed: %v", item.ConversationID, err)
	}
}

// Close flushes pending publishes before closing the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.FlushTimeout(2 * time.Second); err != nil {
		log.Printf("[events] flush nats connection: %v", err)
	}
	p.conn.Close()
}
