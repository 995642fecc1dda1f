package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/namikmesic/varys/internal/chat"
	"github.com/namikmesic/varys/internal/client"
	"github.com/namikmesic/varys/internal/config"
	"github.com/namikmesic/varys/internal/jetstream"
	"github.com/namikmesic/varys/internal/processor"
	"github.com/namikmesic/varys/internal/settings"
	"github.com/namikmesic/varys/internal/storage"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// app holds everything a command needs. Telemetry and broadcast parts are
// nil unless enabled in the config.
type app struct {
	cfg      *config.Config
	client   *client.Client
	settings *settings.Store

	pool     *pgxpool.Pool
	writer   *storage.BatchWriter
	proc     *processor.Processor
	messages *storage.MessageStore

	natsServer *jetstream.Server
	nc         *nats.Conn
	publisher  *jetstream.Publisher
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	opts := []client.Option{
		client.WithAPIKey(cfg.APIKey),
		client.WithIdleTimeout(cfg.StreamIdleTimeout),
		client.WithRequestTimeout(cfg.RequestTimeout),
	}

	var cache settings.Cache
	if cfg.TelemetryEnabled {
		a.pool, err = storage.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err = storage.RunMigrations(ctx, a.pool); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		flush := time.Duration(cfg.WriterFlushMs) * time.Millisecond
		a.writer = storage.NewBatchWriter(a.pool, cfg.WriterBufferSize, cfg.WriterBatchSize, flush)
		a.proc = processor.New(a.writer)
		a.messages = storage.NewMessageStore(a.pool)
		cache = storage.NewSettingsCache(a.pool, "")
		opts = append(opts, client.WithRecorder(a.proc))
	} else if path, perr := settings.DefaultCachePath(); perr == nil {
		cache = settings.NewFileCache(path)
	} else {
		log.Debug().Err(perr).Msg("settings cache disabled")
	}

	a.client, err = client.New(cfg.APIURL, opts...)
	if err != nil {
		return nil, err
	}
	a.settings = settings.NewStore(a.client, cache)

	if cfg.BroadcastEnabled {
		a.natsServer, err = jetstream.NewServer(cfg.NATSStoreDir, cfg.NATSPort)
		if err != nil {
			return nil, fmt.Errorf("start embedded NATS: %w", err)
		}
		a.nc, err = a.natsServer.Connect()
		if err != nil {
			return nil, fmt.Errorf("connect to embedded NATS: %w", err)
		}
		js, jerr := a.nc.JetStream()
		if jerr != nil {
			return nil, fmt.Errorf("get JetStream context: %w", jerr)
		}
		if err = jetstream.EnsureStream(js); err != nil {
			return nil, fmt.Errorf("create JetStream stream: %w", err)
		}
		a.publisher = jetstream.NewPublisher(js)
		log.Info().Str("url", a.natsServer.ClientURL()).Msg("broadcasting conversation updates")
	}

	log.Debug().
		Str("api_url", a.client.BaseURL()).
		Bool("telemetry", cfg.TelemetryEnabled).
		Bool("broadcast", cfg.BroadcastEnabled).
		Msg("varys ready")
	return a, nil
}

// conversation builds a chat slot wired to the enabled stores.
func (a *app) conversation(ctx context.Context, opts ...chat.Option) *chat.Conversation {
	streaming := !flagNoStream
	if s, err := a.settings.Load(ctx); err == nil && !s.StreamingEnabled {
		streaming = false
	}
	base := []chat.Option{chat.WithStreaming(streaming)}
	if a.messages != nil {
		base = append(base, chat.WithStore(a.messages))
	}
	if a.publisher != nil {
		base = append(base, chat.WithPublisher(a.publisher))
	}
	return chat.New(a.client, append(base, opts...)...)
}

func (a *app) close() {
	if a.nc != nil {
		a.nc.Drain()
	}
	if a.natsServer != nil {
		a.natsServer.Shutdown()
	}
	if a.proc != nil {
		a.proc.Wait()
	}
	if a.writer != nil {
		a.writer.Shutdown()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// withApp runs fn with a fully wired app and shuts it down afterwards.
func withApp(ctx context.Context, fn func(*app) error) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

// interruptible is canceled on SIGINT or SIGTERM.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
