// Package redis implements the transacted broker on top of Redis Streams.
//
// Each queue is one stream under <namespace>:queue:<name>. Exclusive binding
// is a lease key next to it; commit moves the staged sends and deletes the
// consumed entries in a single MULTI/EXEC guarded by WATCH on the lease.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"

	"github.com/ibs-source/queue-resender/internal/config"
	"github.com/ibs-source/queue-resender/internal/log"
	"github.com/ibs-source/queue-resender/internal/message"
	"github.com/ibs-source/queue-resender/internal/resend"
)

// Client is an established Redis connection acting as a resend.Broker
type Client struct {
	rdb         *redis.Client
	namespace   string
	leaseTTL    time.Duration
	bindTimeout time.Duration
	log         *log.Logger
}

// NewClient creates a new Redis client and verifies the connection
func NewClient(cfg *config.RedisConfig, logger *log.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		// Explicitly disable maintenance notifications
		// This prevents the client from sending extra commands to Redis
		// which can add unnecessary load.
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis at %s, namespace '%s'", cfg.Address, cfg.Namespace)

	return &Client{
		rdb:         rdb,
		namespace:   cfg.Namespace,
		leaseTTL:    cfg.LeaseTTL,
		bindTimeout: cfg.BindTimeout,
		log:         logger,
	}, nil
}

func (c *Client) streamKey(queue string) string {
	return c.namespace + ":queue:" + queue
}

func (c *Client) leaseKey(queue string) string {
	return c.streamKey(queue) + ":owner"
}

// CreateTransactedSession implements resend.Broker. Nothing is written to
// Redis until the session commits.
func (c *Client) CreateTransactedSession(ctx context.Context) (resend.Session, error) {
	return newSession(c), nil
}

// Enqueue appends msg to queue outside of any transaction and returns the entry ID
func (c *Client) Enqueue(ctx context.Context, queue string, msg *message.Message) (string, error) {
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.streamKey(queue),
		Values: encodeFields(msg),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd to queue %s failed: %w", queue, err)
	}
	return id, nil
}

// Depth returns the number of messages spooled on queue
func (c *Client) Depth(ctx context.Context, queue string) (int64, error) {
	n, err := c.rdb.XLen(ctx, c.streamKey(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen of queue %s failed: %w", queue, err)
	}
	return n, nil
}

// Browse returns up to count messages from the head of queue without consuming them
func (c *Client) Browse(ctx context.Context, queue string, count int64) ([]*message.Message, error) {
	entries, err := c.rdb.XRangeN(ctx, c.streamKey(queue), "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange of queue %s failed: %w", queue, err)
	}
	msgs := make([]*message.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, decodeEntry(e))
	}
	return msgs, nil
}

// Close closes the Redis client connection
func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

var _ resend.Broker = (*Client)(nil)
