// Package mongodriver connects to MongoDB and runs the aggregation
// pipelines and writes issued by the storage layer.
package mongodriver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrClosed is returned by Connect once the connector is closed.
var ErrClosed = errors.New("mongodriver: connector closed")

// Config holds the connection settings.
type Config struct {
	URI            string
	Database       string
	AppName        string
	ConnectTimeout time.Duration
	// PingAttempts bounds how often Open pings a server that is not
	// reachable yet. Zero means 5.
	PingAttempts uint
	// OnRetry is called after every failed ping.
	OnRetry func(attempt uint, err error)
}

// Connector owns a MongoDB client bound to one database.
type Connector struct {
	client   *mongo.Client
	database string
	mu       sync.Mutex
	closed   bool
}

// NewConnector wraps an existing client.
func NewConnector(client *mongo.Client, database string) *Connector {
	return &Connector{
		client:   client,
		database: database,
	}
}

// Open creates a client and pings the server until it answers or the
// attempts are exhausted.
func Open(ctx context.Context, conf Config) (*Connector, error) {
	if conf.URI == "" {
		return nil, fmt.Errorf("mongodriver: uri is required")
	}
	if conf.Database == "" {
		return nil, fmt.Errorf("mongodriver: database is required")
	}
	timeout := conf.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	attempts := conf.PingAttempts
	if attempts == 0 {
		attempts = 5
	}

	opts := options.Client().
		ApplyURI(conf.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)
	if conf.AppName != "" {
		opts.SetAppName(conf.AppName)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("mongodriver: connect: %w", err)
	}

	err = retry.Do(
		func() error {
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return client.Ping(pctx, nil)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if conf.OnRetry != nil {
				conf.OnRetry(n+1, err)
			}
		}),
	)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodriver: ping: %w", err)
	}
	return NewConnector(client, conf.Database), nil
}

// Connect returns a connection to the configured database.
func (c *Connector) Connect(ctx context.Context) (*Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	return &Conn{
		db:     c.client.Database(c.database),
		client: c.client,
	}, nil
}

// Ping checks that the server is reachable.
func (c *Connector) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongodriver: ping: %w", err)
	}
	return nil
}

// Close disconnects the client. It is safe to call more than once.
func (c *Connector) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Disconnect(ctx)
}

// Client returns the underlying MongoDB client.
func (c *Connector) Client() *mongo.Client {
	return c.client
}

// Database returns the database name.
func (c *Connector) Database() string {
	return c.database
}
