package db

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/PadsterH2012/archon-plus-sub002/internal/circuitbreaker"
)

// Config holds database configuration
type Config struct {
	Enabled         bool                    `mapstructure:"enabled"`
	Host            string                  `mapstructure:"host"`
	Port            int                     `mapstructure:"port"`
	User            string                  `mapstructure:"user"`
	Password        string                  `mapstructure:"password"`
	Database        string                  `mapstructure:"database"`
	SSLMode         string                  `mapstructure:"ssl_mode"`
	MaxConnections  int                     `mapstructure:"max_connections"`
	IdleConnections int                     `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration           `mapstructure:"max_lifetime"`
	CircuitBreaker  circuitbreaker.Settings `mapstructure:"circuit_breaker"`
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 10
	}
	if c.IdleConnections == 0 {
		c.IdleConnections = 2
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 5 * time.Minute
	}
	if c.SSLMode == "" {
		c.SSLMode = "require"
	}
}

// DSN builds a lib/pq connection URL.
func (c Config) DSN() string {
	c.applyDefaults()
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Client owns the Postgres pool behind the workflow store.
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
	config Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewClient opens and pings the pool, then starts a background health check.
func NewClient(ctx context.Context, config Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.applyDefaults()

	rawDB, err := sqlx.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	rawDB.SetMaxOpenConns(config.MaxConnections)
	rawDB.SetMaxIdleConns(config.IdleConnections)
	rawDB.SetConnMaxLifetime(config.MaxLifetime)

	client := NewClientWithDB(rawDB, config, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.db.PingContext(pingCtx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client.wg.Add(1)
	go client.healthCheck(30 * time.Second)

	logger.Info("Database client initialized",
		zap.String("host", config.Host),
		zap.String("database", config.Database),
		zap.Int("max_connections", config.MaxConnections),
	)
	return client, nil
}

// NewClientWithDB wraps an already opened pool. Tests pass a sqlmock-backed
// *sqlx.DB here.
func NewClientWithDB(db *sqlx.DB, config Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		db:     circuitbreaker.NewDatabaseWrapper(db, "workflow-store", config.CircuitBreaker, logger),
		logger: logger,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// healthCheck periodically checks database connectivity
func (c *Client) healthCheck(every time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.db.PingContext(ctx); err != nil {
				c.logger.Error("Database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Ping checks connectivity through the circuit breaker.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Wrapper returns the circuit breaker protected handle used for queries.
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}

// Close stops the health check and closes the pool.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	c.logger.Info("Database client closed")
	return nil
}
