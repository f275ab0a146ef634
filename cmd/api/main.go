package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/config"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/handler"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/metrics"
	agentmodel "github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/agent"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/checklist"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/agent"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/annotation"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/archive"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/events"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/recording"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/session"
	"github.com/SeanZCai/treehacks-agentic-surgeon/internal/service/transcript"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	checklistStore := checklist.NewMemoryStore(checklist.Seed())
	m := metrics.New("surgentic")

	// Transcript store
	var store transcript.Store
	if cfg.Store.DatabaseURL != "" {
		pgStore, err := transcript.NewPostgresStore(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect transcript database: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		log.Println("transcript store: postgres")
	} else {
		store = transcript.NewMemoryStore()
		log.Println("DATABASE_URL 未配置，使用内存转写存储")
	}

	// Compliance annotation
	annotator, err := annotation.New(ctx, cfg.Annotation, checklistStore)
	if err != nil {
		log.Printf("warning: failed to initialize %s annotator: %v", cfg.Annotation.Provider, err)
		log.Println("falling back to keyword compliance heuristics")
		annotator = annotation.NewKeywordClassifier(checklistStore)
	} else {
		log.Printf("compliance annotator: %s", cfg.Annotation.Provider)
	}

	// Snapshot archive
	var snapshots archive.Archive
	if cfg.Archive.S3Enabled() {
		s3Archive, err := archive.NewS3Archive(cfg.Archive)
		if err != nil {
			log.Fatalf("failed to initialize snapshot bucket: %v", err)
		}
		snapshots = s3Archive
		log.Printf("snapshot archive: s3 bucket=%s", cfg.Archive.Bucket)
	} else {
		dirArchive, err := archive.NewDirArchive(cfg.Archive.Dir)
		if err != nil {
			log.Fatalf("failed to initialize snapshot dir: %v", err)
		}
		snapshots = dirArchive
		log.Printf("snapshot archive: dir=%s", cfg.Archive.Dir)
	}

	// Event publishing
	var publisher events.Publisher = events.Noop{}
	if cfg.Events.NatsURL != "" {
		natsPublisher, err := events.NewNATSPublisher(ctx, cfg.Events.NatsURL, cfg.Events.NatsToken)
		if err != nil {
			log.Printf("warning: failed to connect NATS: %v", err)
			log.Println("continuing without event publishing")
		} else {
			defer natsPublisher.Close()
			publisher = natsPublisher
		}
	}

	// Remote agent
	agentCfg := agentmodel.AgentConfig{
		APIKey:    cfg.Agent.APIKey,
		AgentID:   cfg.Agent.AgentID,
		BaseURL:   cfg.Agent.BaseURL,
		WSBaseURL: cfg.Agent.WSBaseURL,
		Timeout:   cfg.Agent.Timeout,
	}
	var issuer *agent.CredentialIssuer
	if cfg.Agent.Enabled() {
		issuer = agent.NewCredentialIssuer(agentCfg)
	} else {
		log.Println("ELEVENLABS_AGENT_ID 未配置，实时会话不可用")
	}

	mics := session.NewMediaRegistry()
	deps := session.Dependencies{
		Store:     store,
		Client:    agent.NewClient(agentCfg),
		Prompts:   agent.NewPromptBuilder(checklistStore),
		Media:     mics,
		Annotator: annotator,
		Archive:   snapshots,
		Publisher: publisher,
		Metrics:   m,
	}
	services := handler.Services{
		Microphones: mics,
		Transcripts: store,
		Annotator:   annotator,
		Checklist:   checklistStore,
		Metrics:     m,
	}
	if issuer != nil {
		deps.Credentials = issuer
		services.Credentials = issuer
	}

	manager := session.NewManager(deps, session.Options{
		Ordering:          session.ParseOrdering(cfg.Annotation.Ordering),
		AnnotationTimeout: cfg.Annotation.Timeout,
		EndSessionTimeout: cfg.Session.EndSessionTimeout,
		StoreTimeout:      cfg.Session.StoreTimeout,
	})
	services.Sessions = manager

	recordings, err := recording.NewStore(cfg.Recording.Dir)
	if err != nil {
		log.Printf("warning: recordings disabled: %v", err)
	} else {
		services.Recordings = recordings
	}

	router := handler.NewRouter(services)

	startServer(ctx, cfg.Server, router)

	// 关闭所有实时会话并等待进行中的合规分析
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Annotation.Timeout+cfg.Session.EndSessionTimeout)
	defer cancel()
	if err := manager.CloseAll(shutdownCtx); err != nil {
		log.Printf("session shutdown: %v", err)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Surgentic backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
