package loam

import (
	"context"
	"log/slog"
	"time"

	"github.com/loamdb/loam/dialect"
	"github.com/loamdb/loam/schema"
)

// Record is a plain row shape: column name to value.
type Record = map[string]any

// Client is the engine entry point. It combines a schema registry with
// a dialect driver and hands out per-model operation handles.
//
//	registry := schema.NewRegistry()
//	drv, err := sql.Open(dialect.SQLite, "file:app.db")
//	client := loam.NewClient(registry, drv)
//	users, err := client.Model("User")
type Client struct {
	registry *schema.Registry
	driver   dialect.Driver
	logger   *slog.Logger
	cache    Cache
	cacheTTL time.Duration
	batch    int
	now      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for debug statement logging.
// Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithCache enables read-result caching with the given TTL. Mutations
// invalidate their table's entries. Disabled when unset.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithBatchSize sets the default chunk size for bulk inserts.
// Defaults to 500.
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batch = n
		}
	}
}

// WithClock overrides the time source used for timestamp bookkeeping.
// Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient returns a Client over the given registry and driver.
func NewClient(registry *schema.Registry, driver dialect.Driver, opts ...Option) *Client {
	c := &Client{
		registry: registry,
		driver:   driver,
		logger:   slog.Default(),
		batch:    500,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the schema registry the client was built with.
func (c *Client) Registry() *schema.Registry {
	return c.registry
}

// Close closes the underlying driver.
func (c *Client) Close() error {
	return c.driver.Close()
}

// Model returns the operation handle for the named model.
func (c *Client) Model(name string) (*Model, error) {
	def, err := c.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	return &Model{client: c, def: def}, nil
}

// conn returns the ambient transaction from the context when present,
// and the bare driver otherwise.
func (c *Client) conn(ctx context.Context) dialect.ExecQuerier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return c.driver
}

// OperationResult reports the effect of a mutating operation.
// Produced fresh per call; never persisted.
type OperationResult struct {
	RowsAffected int64
	LastInsertID int64
	// Rows holds the post-operation records when the call requested
	// them (returning mode).
	Rows []Record
}

// Model is the per-model operation handle. A Model is a small value;
// the WithRetry and WithTimeout methods derive a copy with the policy
// applied, leaving the original untouched.
type Model struct {
	client  *Client
	def     *schema.Model
	retry   *RetryOptions
	timeout time.Duration
}

// Def returns the underlying schema definition.
func (m *Model) Def() *schema.Model {
	return m.def
}

// WithRetry derives a handle whose mutating operations retry on
// failure per opts. Retries are opt-in per call chain and apply to
// mutating operations only.
func (m *Model) WithRetry(opts RetryOptions) *Model {
	d := *m
	d.retry = &opts
	return &d
}

// WithTimeout derives a handle whose operations race against d.
// Losing the race yields ErrTimedOut; the statement may still run to
// completion in the background since the engine cannot cancel it.
func (m *Model) WithTimeout(d time.Duration) *Model {
	dm := *m
	dm.timeout = d
	return &dm
}

// run executes a mutating operation through the timeout, retry and
// transaction wrappers, in that nesting order. Each retry attempt runs
// in its own transaction unless an ambient one is in flight.
func (m *Model) run(ctx context.Context, fn func(ctx context.Context) error) error {
	op := func(ctx context.Context) error {
		return m.client.WithTx(ctx, fn)
	}
	if m.retry != nil {
		inner := op
		op = func(ctx context.Context) error {
			return retryDo(ctx, m.retry, func() error { return inner(ctx) })
		}
	}
	if m.timeout > 0 {
		inner := op
		op = func(ctx context.Context) error {
			return raceTimeout(ctx, m.timeout, inner)
		}
	}
	return op(ctx)
}

// runRead executes a read operation through the timeout wrapper. Reads
// join an ambient transaction through the context, so the retry and
// transaction legs of run do not apply to them.
func (m *Model) runRead(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.timeout > 0 {
		return raceTimeout(ctx, m.timeout, fn)
	}
	return fn(ctx)
}

// invalidate drops cached read results for this model's table.
func (m *Model) invalidate(ctx context.Context) {
	if m.client.cache == nil {
		return
	}
	if err := m.client.cache.DeletePrefix(ctx, m.def.Table+":"); err != nil {
		m.client.logger.WarnContext(ctx, "cache invalidation failed", "table", m.def.Table, "err", err)
	}
}
