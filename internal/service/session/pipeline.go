package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/metrics"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/conversation"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/annotation"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/archive"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/events"
)

// Ordering decides which completed annotation becomes the latest one.
type Ordering string

const (
	// OrderingSequenced applies a result only if it was requested after the
	// currently applied one.
	OrderingSequenced Ordering = "sequenced"
	// OrderingCompletion applies results in the order they complete.
	OrderingCompletion Ordering = "completion"
)

// ParseOrdering maps a config value to an Ordering, defaulting to sequenced.
func ParseOrdering(raw string) Ordering {
	if Ordering(raw) == OrderingCompletion {
		return OrderingCompletion
	}
	return OrderingSequenced
}

// Pipeline 异步执行合规分析：每个请求独立的 goroutine，结果由单一消费者按序号应用。
type Pipeline struct {
	conversationID string
	annotator      annotation.Service
	archive        archive.Archive
	publisher      events.Publisher
	metrics        *metrics.Metrics
	ordering       Ordering
	timeout        time.Duration
	onApply        func(conversation.ComplianceAnnotation)

	mu          sync.Mutex
	nextSeq     uint64
	closed      bool
	latest      conversation.ComplianceAnnotation
	lastApplied uint64

	wg      sync.WaitGroup
	results chan conversation.ComplianceAnnotation
	done    chan struct{}
}

// PipelineConfig wires a Pipeline.
type PipelineConfig struct {
	ConversationID string
	Annotator      annotation.Service
	Archive        archive.Archive
	Publisher      events.Publisher
	Metrics        *metrics.Metrics
	Ordering       Ordering
	Timeout        time.Duration
	// OnApply is called from the applier goroutine for every applied result.
	OnApply func(conversation.ComplianceAnnotation)
}

// NewPipeline starts the applier goroutine.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Noop{}
	}
	if cfg.Ordering == "" {
		cfg.Ordering = OrderingSequenced
	}

	p := &Pipeline{
		conversationID: cfg.ConversationID,
		annotator:      cfg.Annotator,
		archive:        cfg.Archive,
		publisher:      cfg.Publisher,
		metrics:        cfg.Metrics,
		ordering:       cfg.Ordering,
		timeout:        cfg.Timeout,
		onApply:        cfg.OnApply,
		results:        make(chan conversation.ComplianceAnnotation, 16),
		done:           make(chan struct{}),
	}
	go p.applyLoop()
	return p
}

// Submit schedules one annotation of asOfText and returns its sequence number,
// or 0 if the pipeline is closed. It never blocks on the annotation itself.
func (p *Pipeline) Submit(asOfText string) uint64 {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	p.nextSeq++
	seq := p.nextSeq
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(seq, asOfText)
	return seq
}

func (p *Pipeline) run(seq uint64, asOfText string) {
	delivered := false
	defer func() {
		if !delivered {
			p.wg.Done()
		}
	}()

	if p.annotator == nil {
		return
	}

	// 不随会话断开而取消
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	started := time.Now()
	text, err := p.annotator.Annotate(ctx, asOfText)
	if err != nil {
		p.metrics.RecordAnnotation("error", time.Since(started))
		log.Printf("[annotation] conversation=%s seq=%d failed: %v", p.conversationID, seq, err)
		return
	}

	result := conversation.ComplianceAnnotation{
		ConversationID: p.conversationID,
		Seq:            seq,
		AsOfText:       asOfText,
		Annotation:     text,
		ProducedAt:     time.Now().UTC(),
	}

	var key string
	if p.archive != nil {
		key, err = archive.PutSnapshot(ctx, p.archive, result)
		if err != nil {
			p.metrics.RecordArchiveWrite("error")
			p.metrics.RecordAnnotation("error", time.Since(started))
			log.Printf("[annotation] conversation=%s seq=%d archive failed: %v", p.conversationID, seq, err)
			return
		}
		p.metrics.RecordArchiveWrite("ok")
	}

	p.metrics.RecordAnnotation("ok", time.Since(started))
	p.publisher.PublishAnnotation(result, key)

	delivered = true
	p.results <- result
}

func (p *Pipeline) applyLoop() {
	defer close(p.done)
	for result := range p.results {
		p.apply(result)
		p.wg.Done()
	}
}

func (p *Pipeline) apply(result conversation.ComplianceAnnotation) {
	p.mu.Lock()
	if p.ordering == OrderingSequenced && result.Seq <= p.lastApplied {
		p.mu.Unlock()
		p.metrics.RecordStaleAnnotation()
		log.Printf("[annotation] conversation=%s seq=%d superseded by seq=%d", p.conversationID, result.Seq, p.lastApplied)
		return
	}
	p.latest = result
	p.lastApplied = result.Seq
	p.mu.Unlock()

	if p.onApply != nil {
		p.onApply(result)
	}
}

// Latest returns the most recently applied annotation.
func (p *Pipeline) Latest() (conversation.ComplianceAnnotation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.lastApplied > 0
}

// LatestText returns the applied annotation text or "".
func (p *Pipeline) LatestText() string {
	latest, _ := p.Latest()
	return latest.Annotation
}

// Wait blocks until every submitted task has finished and been applied.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close stops accepting work and waits for in-flight tasks until ctx expires.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(p.results)
		close(waited)
	}()

	select {
	case <-waited:
		<-p.done
		return nil
	case <-ctx.Done():
		return fmt.Errorf("annotation tasks still running: %w", ctx.Err())
	}
}
