package influxdb

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"github.com/nerrad567/tag-ingest/internal/infrastructure/config"
	"github.com/nerrad567/tag-ingest/internal/storage"
)

// Defaults for engine settings.
const (
	DefaultPoolSize       = 8
	DefaultConnectTimeout = 10 * time.Second
	DefaultSchemaBucket   = "_tagingest_schema"

	// requestTimeoutSeconds bounds a single HTTP request.
	requestTimeoutSeconds = 30

	idleConnTimeout = 90 * time.Second
)

// Config holds the connection settings for one engine.
type Config struct {
	URL            string
	Token          string
	Org            string
	SchemaBucket   string
	PoolSize       int
	ConnectTimeout time.Duration
}

// ConfigFromStorage derives an engine Config from the storage section of
// config.yaml. Without a token, "username:password" is used, which
// InfluxDB accepts for v1-compatible authorisation.
func ConfigFromStorage(cfg config.StorageConfig, connectTimeout time.Duration) Config {
	token := cfg.Token
	if token == "" && cfg.Username != "" {
		token = cfg.Username + ":" + cfg.Password
	}
	return Config{
		URL:            "http://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Token:          token,
		Org:            cfg.Org,
		PoolSize:       cfg.SessionPoolSize,
		ConnectTimeout: connectTimeout,
	}
}

func (c *Config) applyDefaults() {
	if c.SchemaBucket == "" {
		c.SchemaBucket = DefaultSchemaBucket
	}
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
}

// Engine is a storage.Engine backed by one InfluxDB client.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Engine struct {
	client    influxdb2.Client
	transport *http.Transport
	cfg       Config
	closed    atomic.Bool

	mu        sync.RWMutex
	org       *domain.Organization
	templates map[string]struct{}
}

var _ storage.Engine = (*Engine)(nil)

// NewDialer returns a storage.Dialer that connects a fresh Engine with the
// storage settings, for use with storage.NewManager.
func NewDialer(cfg config.StorageConfig, connectTimeout time.Duration) storage.Dialer {
	ecfg := ConfigFromStorage(cfg, connectTimeout)
	return func(ctx context.Context) (storage.Engine, error) {
		engine, err := Dial(ctx, ecfg)
		if err != nil {
			return nil, err
		}
		return engine, nil
	}
}

// Dial creates the client and verifies connectivity with a ping.
//
// Parameters:
//   - ctx: Bounds the initial ping
//   - cfg: Engine settings
//
// Returns:
//   - *Engine: Connected engine ready for use
//   - error: ErrInvalidConfig, or wrapping storage.ErrConnection if the ping fails
func Dial(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.URL == "" || cfg.Org == "" {
		return nil, fmt.Errorf("%w: url and org are required", ErrInvalidConfig)
	}
	cfg.applyDefaults()

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:     cfg.PoolSize,
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		IdleConnTimeout:     idleConnTimeout,
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetHTTPClient(&http.Client{Transport: transport, Timeout: requestTimeoutSeconds * time.Second}).
			SetPrecision(time.Millisecond).
			SetApplicationName("tagingest"),
	)

	e := &Engine{
		client:    client,
		transport: transport,
		cfg:       cfg,
		templates: make(map[string]struct{}),
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := e.Ping(pingCtx); err != nil {
		e.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", storage.ErrConnection, err)
	}
	return e, nil
}

// Ping is the liveness probe.
func (e *Engine) Ping(ctx context.Context) error {
	if e.closed.Load() {
		return storage.ErrPoolClosed
	}
	ok, err := e.client.Ping(ctx)
	if err != nil {
		return translate("ping", err)
	}
	if !ok {
		return fmt.Errorf("%w: server not ready", storage.ErrConnection)
	}
	return nil
}

// Close shuts the client down and drops idle connections. Later calls
// return storage.ErrPoolClosed.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return storage.ErrPoolClosed
	}
	e.client.Close()
	e.transport.CloseIdleConnections()
	return nil
}

func (e *Engine) writer(bucket string) (api.WriteAPIBlocking, error) {
	if e.closed.Load() {
		return nil, storage.ErrPoolClosed
	}
	return e.client.WriteAPIBlocking(e.cfg.Org, bucket), nil
}

// organization resolves and caches the configured organization.
func (e *Engine) organization(ctx context.Context) (*domain.Organization, error) {
	e.mu.RLock()
	org := e.org
	e.mu.RUnlock()
	if org != nil {
		return org, nil
	}

	org, err := e.client.OrganizationsAPI().FindOrganizationByName(ctx, e.cfg.Org)
	if err != nil {
		return nil, translate("find organization "+e.cfg.Org, err)
	}

	e.mu.Lock()
	e.org = org
	e.mu.Unlock()
	return org, nil
}
