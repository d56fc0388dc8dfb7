// Tag Ingest - plant tag polling and time-series ingestion service.
//
// tagingest polls the plant-data API for a fixed list of tags, converts the
// samples into per-device tablets and writes them to InfluxDB through a pool
// of workers. Failed writes and requests are kept in daily audit files and,
// optionally, in a SQLite audit database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/tag-ingest/internal/audit"
	"github.com/nerrad567/tag-ingest/internal/failure"
	"github.com/nerrad567/tag-ingest/internal/fetch"
	"github.com/nerrad567/tag-ingest/internal/infrastructure/config"
	"github.com/nerrad567/tag-ingest/internal/infrastructure/database"
	"github.com/nerrad567/tag-ingest/internal/infrastructure/influxdb"
	"github.com/nerrad567/tag-ingest/internal/infrastructure/logging"
	"github.com/nerrad567/tag-ingest/internal/infrastructure/mqtt"
	"github.com/nerrad567/tag-ingest/internal/metrics"
	"github.com/nerrad567/tag-ingest/internal/pipeline"
	"github.com/nerrad567/tag-ingest/internal/retry"
	"github.com/nerrad567/tag-ingest/internal/storage"
	"github.com/nerrad567/tag-ingest/internal/writer"
	"github.com/nerrad567/tag-ingest/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// shutdownSlack is added to the drain timeout to bound Shutdown as a whole.
const shutdownSlack = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, starts the pipeline and blocks until a signal,
// a remote shutdown command or a writer escalation stops it.
//
// Returns:
//   - error: nil on a clean shutdown; non-nil when startup fails or the
//     pipeline stopped because of an escalated storage failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting tag ingest",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.PathFromEnv()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	base, err := logging.New(cfg.Logging, version)
	if err != nil {
		return fmt.Errorf("initialising logger: %w", err)
	}
	defer base.Close() //nolint:errcheck // Nothing useful to do at exit

	runID := uuid.NewString()
	log = base.With("run_id", runID)
	log.Info("logger initialised", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	tags, err := config.LoadTags(cfg.Source.TagsFile, log)
	if err != nil {
		return fmt.Errorf("loading tags: %w", err)
	}
	log.Info("tags loaded", "count", len(tags), "path", cfg.Source.TagsFile)

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("loading timezone: %w", err)
	}

	exec := retry.NewExecutor(retry.Config{
		InitialDelay: time.Duration(cfg.Retry.InitialDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		Multiplier:   cfg.Retry.BackoffMultiplier,
	}, retry.WithLogger(log))

	// Failure audit
	recorderOpts := []failure.Option{failure.WithLogger(log)}
	if cfg.Audit.Enabled {
		db, dbErr := database.Open(ctx, cfg.Audit.Database)
		if dbErr != nil {
			return fmt.Errorf("opening audit database: %w", dbErr)
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing audit database", "error", closeErr)
			}
		}()
		if dbErr := db.Migrate(ctx, migrations.FS, "."); dbErr != nil {
			return fmt.Errorf("running audit migrations: %w", dbErr)
		}
		recorderOpts = append(recorderOpts, failure.WithMirror(audit.NewSQLiteRepository(db.DB)))
		log.Info("audit database ready", "path", db.Path())
	}
	failures := failure.New(cfg.Failures.Dir, recorderOpts...)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Metrics.Address, cfg.Metrics.Path, reg)
		})
		log.Info("metrics endpoint listening", "address", cfg.Metrics.Address, "path", cfg.Metrics.Path)
	}
	defer func() {
		stop()
		if serveErr := g.Wait(); serveErr != nil {
			log.Error("metrics server stopped", "error", serveErr)
		}
	}()

	// Storage
	dialCtx, cancelDial := context.WithTimeout(ctx, cfg.ConnectTimeout())
	mgr, err := storage.NewManager(dialCtx,
		influxdb.NewDialer(cfg.Storage, cfg.ConnectTimeout()),
		exec,
		storage.WithInterval(cfg.MonitorInterval()),
		storage.WithLogger(log),
	)
	cancelDial()
	if err != nil {
		return fmt.Errorf("connecting to storage: %w", err)
	}
	defer mgr.Close() //nolint:errcheck // Pipeline.Shutdown closes it first; second call is a no-op
	m.SetStorageAvailable(true)
	mgr.OnStateChange(func(available bool, _ error) { m.SetStorageAvailable(available) })
	log.Info("storage connected", "host", cfg.Storage.Host, "port", cfg.Storage.Port)

	// Remote control
	commands := make(chan string, 1)
	if cfg.MQTT.Enabled {
		client, mqttErr := mqtt.Connect(cfg.MQTT, runID)
		if mqttErr != nil {
			log.Warn("mqtt unavailable, continuing without status reporting", "error", mqttErr)
		} else {
			defer func() {
				if closeErr := client.Close(); closeErr != nil {
					log.Error("error closing mqtt client", "error", closeErr)
				}
			}()
			client.SetLogger(log)
			m.SetMQTTConnected(true)
			client.SetOnConnect(func() { m.SetMQTTConnected(true) })
			client.SetOnDisconnect(func(error) { m.SetMQTTConnected(false) })
			mgr.OnStateChange(client.PublishStorage)
			err := client.SubscribeShutdown(func(reason string) {
				select {
				case commands <- reason:
				default:
				}
			})
			if err != nil {
				log.Warn("remote shutdown unavailable", "error", err)
			}
			log.Info("mqtt connected", "broker", cfg.MQTT.Broker.Host, "topic", client.Topics().ShutdownCommand())
		}
	}

	// Pipeline
	p, err := pipeline.New(pipeline.Config{
		Fetch: fetch.Config{
			APIURL:   cfg.Source.APIURL,
			UserKey:  cfg.Source.UserKey,
			Tags:     tags,
			Interval: cfg.FetchInterval(),
			Timeout:  cfg.FetchTimeout(),
			Location: loc,
			Root:     cfg.Storage.Database,
		},
		Writer: writer.Config{
			Workers:   cfg.Processing.Writer.PoolSize,
			BatchSize: cfg.Processing.Writer.BatchSize,
			Template:  cfg.Storage.Template,
			Database:  cfg.Storage.Database,
		},
		QueueCapacity: cfg.Processing.Queue.Capacity,
		DrainTimeout:  cfg.DrainTimeout(),
	}, mgr, exec,
		pipeline.WithFailureRecorder(failures),
		pipeline.WithMetrics(m),
		pipeline.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("starting pipeline: %w", err)
	}

	log.Info("tag ingest started", "tags", len(tags), "workers", cfg.Processing.Writer.PoolSize)

	reason := pipeline.ReasonSignal
	select {
	case <-gctx.Done():
		if ctx.Err() == nil {
			reason = "metrics server failure"
		}
	case r := <-commands:
		reason = r
	case <-p.Done():
		reason = ""
	}

	log.Info("shutting down", "reason", reason)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), cfg.DrainTimeout()+shutdownSlack)
	defer cancelShutdown()

	if err := p.Shutdown(shutdownCtx, reason); err != nil {
		if errors.Is(err, pipeline.ErrEscalated) {
			return err
		}
		log.Error("shutdown incomplete", "error", err)
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info("tag ingest stopped")
	return nil
}
