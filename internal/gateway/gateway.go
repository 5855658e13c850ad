// ABOUTME: Gateway orchestrator that wires the platform adapter, sessions and archive
// ABOUTME: Runs the adapter, idle evictor and HTTP status server under one errgroup

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HuMoN-Research-Lab/chatbot/internal/agent"
	"github.com/HuMoN-Research-Lab/chatbot/internal/auth"
	"github.com/HuMoN-Research-Lab/chatbot/internal/config"
	"github.com/HuMoN-Research-Lab/chatbot/internal/dedupe"
	"github.com/HuMoN-Research-Lab/chatbot/internal/events"
	"github.com/HuMoN-Research-Lab/chatbot/internal/llm"
	"github.com/HuMoN-Research-Lab/chatbot/internal/platform"
	"github.com/HuMoN-Research-Lab/chatbot/internal/platform/discord"
	"github.com/HuMoN-Research-Lab/chatbot/internal/platform/matrix"
	"github.com/HuMoN-Research-Lab/chatbot/internal/session"
	"github.com/HuMoN-Research-Lab/chatbot/internal/store"
)

// Adapter is a connected chat platform.
type Adapter interface {
	platform.Client
	// Run delivers triggers to h until ctx is done.
	Run(ctx context.Context, h platform.Handler) error
}

// Deps are the externally constructed components of a Gateway.
type Deps struct {
	Adapter  Adapter
	Provider llm.Provider
	Store    store.Store
}

// Gateway orchestrates the chatbot components.
type Gateway struct {
	config     *config.Config
	adapter    Adapter
	store      store.Store
	registry   *session.Registry
	manager    *session.Manager
	evictor    *session.Evictor
	events     *events.Broadcaster
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger

	startedAt    time.Time
	streamsDone  chan struct{}
	streamsOnce  sync.Once
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Gateway from configuration, opening the archive and
// constructing the configured platform adapter and model provider.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	seen := dedupe.New(cfg.Dedupe.Window, cfg.Dedupe.MaxSize)
	adapter, err := newAdapter(cfg, seen, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	return NewWithDeps(cfg, Deps{Adapter: adapter, Provider: provider, Store: s}, logger)
}

func newAdapter(cfg *config.Config, seen *dedupe.Cache, logger *slog.Logger) (Adapter, error) {
	switch cfg.Platform {
	case config.PlatformDiscord:
		a, err := discord.New(discord.Config{
			Token:       cfg.Discord.Token,
			GuildID:     cfg.Discord.GuildID,
			CommandName: cfg.Discord.CommandName,
		}, seen, logger)
		if err != nil {
			return nil, fmt.Errorf("creating discord adapter: %w", err)
		}
		return a, nil
	case config.PlatformMatrix:
		a, err := matrix.New(matrix.Config{
			Homeserver:    cfg.Matrix.Homeserver,
			UserID:        cfg.Matrix.UserID,
			AccessToken:   cfg.Matrix.AccessToken,
			CommandPrefix: cfg.Matrix.CommandPrefix,
		}, seen, logger)
		if err != nil {
			return nil, fmt.Errorf("creating matrix adapter: %w", err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown platform %q", cfg.Platform)
	}
}

func newProvider(ctx context.Context, cfg *config.Config) (llm.Provider, error) {
	var p llm.Provider
	switch cfg.Model.Provider {
	case config.ProviderOpenAI:
		var opts []llm.OpenAIOption
		if cfg.Model.Endpoint != "" {
			opts = append(opts, llm.WithOpenAIEndpoint(cfg.Model.Endpoint))
		}
		p = llm.NewOpenAIProvider(cfg.Model.APIKey, opts...)
	case config.ProviderGemini:
		gp, err := llm.NewGeminiProvider(ctx, cfg.Model.APIKey)
		if err != nil {
			return nil, fmt.Errorf("creating gemini provider: %w", err)
		}
		p = gp
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
	return llm.WithTimeout(p, cfg.Model.RequestTimeout), nil
}

// NewWithDeps creates a Gateway around already constructed components.
func NewWithDeps(cfg *config.Config, deps Deps, logger *slog.Logger) (*Gateway, error) {
	if deps.Adapter == nil || deps.Provider == nil || deps.Store == nil {
		return nil, errors.New("gateway requires an adapter, a provider and a store")
	}
	if logger == nil {
		logger = slog.Default()
	}

	factory, err := agent.NewFactory(deps.Provider, agent.FactoryConfig{
		Model:       cfg.Model.Name,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
		TokenBudget: cfg.Sessions.TokenBudget,
		Variants:    cfg.VariantOverrides(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent factory: %w", err)
	}

	registry := session.NewRegistry(logger)
	bus := events.NewBroadcaster(logger)
	triggers := cfg.Triggers()
	manager, err := session.NewManager(session.Options{
		Client:   deps.Adapter,
		Registry: registry,
		Agents:   factory,
		Archive:  deps.Store,
		Events:   bus,
		Policy: session.Policy{
			AllowedChannels: triggers.AllowedChannels,
			AdminUsers:      triggers.AdminUsers,
			ReactionEmoji:   triggers.ReactionEmoji,
			IgnorePrefix:    cfg.Sessions.IgnorePrefix,
			NoticePrefix:    cfg.Sessions.NoticePrefix,
			ResumeNotice:    cfg.Sessions.ResumeNotice,
			DefaultVariant:  cfg.DefaultVariant(),
			ChannelVariants: cfg.ChannelVariants(),
		},
		ReconstructTimeout: cfg.Sessions.ReconstructTimeout,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating session manager: %w", err)
	}

	evictor, err := session.NewEvictor(manager, cfg.Sessions.IdleTimeout, cfg.Sessions.SweepInterval, logger)
	if err != nil {
		return nil, fmt.Errorf("creating evictor: %w", err)
	}

	gw := &Gateway{
		config:      cfg,
		adapter:     deps.Adapter,
		store:       deps.Store,
		registry:    registry,
		manager:     manager,
		evictor:     evictor,
		events:      bus,
		logger:      logger.With("component", "gateway"),
		startedAt:   time.Now(),
		streamsDone: make(chan struct{}),
	}

	protect := func(h http.HandlerFunc) http.Handler { return h }
	if cfg.Server.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Server.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating token verifier: %w", err)
		}
		requireToken := auth.RequireToken(verifier, gw.logger)
		protect = func(h http.HandlerFunc) http.Handler { return requireToken(h) }
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)
	mux.Handle("GET /api/sessions", protect(gw.handleLiveSessions))
	mux.Handle("GET /api/archive/sessions", protect(gw.handleArchivedSessions))
	mux.Handle("GET /api/archive/sessions/{id}/turns", protect(gw.handleArchivedTurns))
	mux.Handle("GET /api/events", protect(gw.handleEvents))
	gw.mux = mux

	if cfg.Server.HTTPAddr != "" {
		gw.httpServer = &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		gw.httpServer.RegisterOnShutdown(gw.stopStreams)
	}
	return gw, nil
}

// Handler returns the HTTP status handler.
func (g *Gateway) Handler() http.Handler {
	return g.mux
}

// Manager returns the session lifecycle manager.
func (g *Gateway) Manager() *session.Manager {
	return g.manager
}

// stopStreams ends open event streams so HTTP shutdown is not held up by them.
func (g *Gateway) stopStreams() {
	g.streamsOnce.Do(func() { close(g.streamsDone) })
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails, then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	var ln net.Listener
	if g.httpServer != nil {
		var err error
		ln, err = net.Listen("tcp", g.httpServer.Addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", g.httpServer.Addr, err)
		}
	}

	g.logger.Info("starting gateway",
		"platform", g.adapter.Name(),
		"http_addr", g.config.Server.HTTPAddr,
		"idle_timeout", g.config.Sessions.IdleTimeout,
	)

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := g.adapter.Run(gctx, g.manager); err != nil {
			return fmt.Errorf("%s adapter: %w", g.adapter.Name(), err)
		}
		return nil
	})
	eg.Go(func() error {
		return g.evictor.Run(gctx)
	})
	if ln != nil {
		eg.Go(func() error {
			g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
			if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
		eg.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return g.httpServer.Shutdown(sctx)
		})
	}

	runErr := eg.Wait()
	if runErr != nil {
		g.logger.Error("gateway component failed", "error", runErr)
	} else {
		g.logger.Info("context canceled, initiating shutdown")
	}

	// The run context is already done; shutdown gets its own deadline.
	sctx, cancel := context.WithTimeout(context.Background(), g.config.Sessions.ShutdownTimeout)
	defer cancel()
	shutdownErr := g.Shutdown(sctx)

	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// Shutdown closes every session, waits for in-flight turns until ctx
// expires, then closes the archive. It is safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway", "sessions", g.registry.Len())

		var errs []error
		if err := g.manager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session shutdown: %w", err))
		}
		g.stopStreams()
		g.events.Close()
		if err := g.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
		g.shutdownErr = errors.Join(errs...)
	})
	return g.shutdownErr
}
