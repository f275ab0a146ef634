package transcript

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/conversation"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore persists transcripts in the messages table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and migrates the database.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 8

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Append inserts the item and returns it with the database-assigned seq.
func (s *PostgresStore) Append(ctx context.Context, item conversation.MessageItem) (conversation.MessageItem, error) {
	item, err := Prepare(item)
	if err != nil {
		return conversation.MessageItem{}, err
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, session_id, role, content_transcript, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq`,
		item.ID, item.ConversationID, string(item.Role), item.Transcript, item.CreatedAt,
	).Scan(&item.Seq)
	if err != nil {
		return conversation.MessageItem{}, fmt.Errorf("insert message: %w", err)
	}
	return item, nil
}

// List returns one conversation ordered by (created_at, seq).
func (s *PostgresStore) List(ctx context.Context, conversationID string) ([]conversation.MessageItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content_transcript, created_at, seq
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at, seq`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// Conversations groups all messages by session, ordered by session id.
func (s *PostgresStore) Conversations(ctx context.Context) ([]conversation.Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content_transcript, created_at, seq
		FROM messages
		ORDER BY session_id, created_at, seq`)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	summaries := make([]conversation.Summary, 0)
	for _, item := range items {
		n := len(summaries)
		if n == 0 || summaries[n-1].ConversationID != item.ConversationID {
			summaries = append(summaries, conversation.Summary{ConversationID: item.ConversationID})
			n++
		}
		summaries[n-1].Messages = append(summaries[n-1].Messages, item)
	}
	return summaries, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanItems(rows rowScanner) ([]conversation.MessageItem, error) {
	items := make([]conversation.MessageItem, 0)
	for rows.Next() {
		var (
			item conversation.MessageItem
			role string
		)
		if err := rows.Scan(&item.ID, &item.ConversationID, &role, &item.Transcript, &item.CreatedAt, &item.Seq); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		item.Role = conversation.Role(role)
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}
