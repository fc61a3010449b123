package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/fiskasyela/braintheria-backend/internal/chain"
	"github.com/fiskasyela/braintheria-backend/internal/config"
	"github.com/fiskasyela/braintheria-backend/internal/content"
	"github.com/fiskasyela/braintheria-backend/internal/db"
	"github.com/fiskasyela/braintheria-backend/internal/engine"
	"github.com/fiskasyela/braintheria-backend/internal/events"
	"github.com/fiskasyela/braintheria-backend/internal/migrate"
	"github.com/fiskasyela/braintheria-backend/internal/server"
	"github.com/fiskasyela/braintheria-backend/internal/telemetry"
)

// App is the wired service.
type App struct {
	Config     *config.Config
	DB         *sql.DB
	Engine     engine.Engine
	Reconciler *engine.Reconciler
	Webhooks   *server.WebhookForwarder
	Handler    http.Handler
	Logger     *slog.Logger
	Metrics    *telemetry.Metrics

	closers []func()
}

// Options override collaborators Build would otherwise construct from
// config. Tests use them to run without a node or a pinning service.
type Options struct {
	Backend chain.Backend
	Content content.Addressor
	Logger  *slog.Logger
}

// NewLogger builds the slog logger described by the log section.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// OpenStore opens the workspace database and applies pending migrations.
func OpenStore(cfg *config.Config) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: cfg.Database.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

// NewAddressor selects the content backend named by content.backend.
func NewAddressor(cfg *config.Config, logger *slog.Logger, m *telemetry.Metrics) (content.Addressor, error) {
	switch cfg.Content.Backend {
	case config.BackendPinning:
		return content.NewPinningClient(content.PinningConfig{
			Endpoint: cfg.Content.Pinning.Endpoint,
			Token:    cfg.Content.Pinning.Token,
			Timeout:  cfg.Content.Pinning.Timeout,
			Retries:  cfg.Content.Pinning.Retries,
			Logger:   logger,
			Metrics:  m,
		}), nil
	case config.BackendS3:
		s3 := cfg.Content.S3
		return content.NewObjectStore(content.ObjectStoreConfig{
			Endpoint:  s3.Endpoint,
			Bucket:    s3.Bucket,
			Prefix:    s3.Prefix,
			Region:    s3.Region,
			AccessKey: s3.AccessKey,
			SecretKey: s3.SecretKey,
			UseSSL:    s3.UseSSL,
			Logger:    logger,
			Metrics:   m,
		})
	case config.BackendMemory:
		return content.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown content backend %q", cfg.Content.Backend)
	}
}

// Build wires the object graph. Any construction failure is returned and
// leaves nothing open.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(cfg, nil)
	}
	a := &App{Config: cfg, Logger: logger, Metrics: telemetry.New()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	backend := opts.Backend
	if backend == nil {
		client, err := chain.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		backend = client
		if cfg.Chain.ChainID == 0 {
			id, err := client.ChainID(ctx)
			if err != nil {
				return nil, fmt.Errorf("read chain id: %w", err)
			}
			cfg.Chain.ChainID = id.Int64()
		}
	}
	if cfg.Chain.ChainID <= 0 {
		return nil, errors.New("config.chain.chain_id is required")
	}
	writer, err := chain.NewWriter(backend, chain.WriterConfig{
		Contract:        cfg.Chain.ContractAddress,
		PrivateKey:      cfg.Chain.PrivateKey,
		ChainID:         big.NewInt(cfg.Chain.ChainID),
		PollInterval:    cfg.Chain.PollInterval,
		CreationEvent:   cfg.Chain.CreationEvent,
		CreationIDField: cfg.Chain.CreationIDField,
		Logger:          logger.With("component", "chain"),
		Metrics:         a.Metrics,
	})
	if err != nil {
		return nil, err
	}
	reader := chain.Reader{
		Backend:  backend,
		Contract: common.HexToAddress(cfg.Chain.ContractAddress),
		Timeout:  cfg.Chain.ReadTimeout,
		Logger:   logger.With("component", "chain"),
		Metrics:  a.Metrics,
	}

	addressor := opts.Content
	if addressor == nil {
		if addressor, err = NewAddressor(cfg, logger.With("component", "content"), a.Metrics); err != nil {
			return nil, err
		}
	}

	if a.DB, err = OpenStore(cfg); err != nil {
		return nil, err
	}
	bus := events.NewBus(cfg.Events.QueueSize, a.Metrics)
	a.Engine = engine.New(a.DB, cfg, engine.Deps{
		Events:  bus,
		Content: addressor,
		Reader:  reader,
		Writer:  writer,
		Logger:  logger,
		Metrics: a.Metrics,
	})
	a.Reconciler = engine.NewReconciler(a.Engine)
	a.Reconciler.Logger = logger.With("component", "reconcile")
	a.Webhooks = server.NewWebhookForwarder(bus, cfg.Webhooks, logger.With("component", "webhooks"))
	a.Handler, err = server.New(server.Config{
		Engine:   a.Engine,
		BasePath: cfg.Server.BasePath,
		Auth: server.AuthConfig{
			JWTSecret: cfg.Auth.JWTSecret,
			DevLogin:  cfg.Auth.DevLogin,
		},
		Logger: logger.With("component", "http"),
	})
	if err != nil {
		return nil, err
	}
	logger.Info("service wired",
		"contract", cfg.Chain.ContractAddress,
		"chain_id", cfg.Chain.ChainID,
		"signer", writer.From(),
		"content", cfg.Content.Backend,
		"accept_status", cfg.Lifecycle.AcceptStatus,
		"webhooks", len(cfg.Webhooks),
	)
	ok = true
	return a, nil
}

// Serve runs the HTTP server, the reconciler and the webhook forwarder
// until ctx ends, then shuts them down and waits for confirmation
// follow-ups.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: a.Config.Server.Addr, Handler: a.Handler}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("serving Braintheria API", "addr", a.Config.Server.Addr, "base_path", a.Config.Server.BasePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.Reconciler.Run(gctx)
	})
	if a.Webhooks != nil {
		g.Go(func() error {
			return a.Webhooks.Run(gctx)
		})
	}
	err := g.Wait()
	a.Engine.Wait()
	return err
}

// Close releases the database and the node connection.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
