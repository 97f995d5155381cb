package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQueueBusy is returned when another consumer holds the exclusive binding
var ErrQueueBusy = errors.New("queue is bound by another consumer")

const leaseRetryInterval = 250 * time.Millisecond

// The lease value is the owner token. Refresh and release only act on a
// lease the caller still owns.
var (
	refreshLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)
)

// acquireLease takes the exclusive binding on queue, waiting up to the
// configured bind timeout for the current owner to let go.
func (c *Client) acquireLease(ctx context.Context, queue, token string) error {
	key := c.leaseKey(queue)
	deadline := time.Now().Add(c.bindTimeout)

	for {
		ok, err := c.rdb.SetNX(ctx, key, token, c.leaseTTL).Result()
		if err != nil {
			return fmt.Errorf("acquire lease on queue %s: %w", queue, err)
		}
		if ok {
			return nil
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			owner, ttl, err := c.LeaseOwner(ctx, queue)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrQueueBusy, queue)
			}
			return fmt.Errorf("%w: %s held by %s for another %s", ErrQueueBusy, queue, owner, ttl)
		}
		if wait > leaseRetryInterval {
			wait = leaseRetryInterval
		}

		c.log.Debug("Queue %s is bound by another consumer, retrying in %s", queue, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// LeaseOwner returns the token of the consumer bound to queue and the
// remaining lease time. owner is empty when the queue is free.
func (c *Client) LeaseOwner(ctx context.Context, queue string) (owner string, ttl time.Duration, err error) {
	key := c.leaseKey(queue)
	owner, err = c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("get lease of queue %s: %w", queue, err)
	}
	ttl, err = c.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return "", 0, fmt.Errorf("pttl of lease on queue %s: %w", queue, err)
	}
	return owner, ttl, nil
}

// refresh extends the lease; held is false when the lease is no longer ours
func (c *Client) refresh(ctx context.Context, queue, token string) (held bool, err error) {
	n, err := refreshLease.Run(ctx, c.rdb, []string{c.leaseKey(queue)}, token, c.leaseTTL.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *Client) release(ctx context.Context, queue, token string) error {
	return releaseLease.Run(ctx, c.rdb, []string{c.leaseKey(queue)}, token).Err()
}

// maxRefreshFailures is the number of consecutive refresh errors tolerated
const maxRefreshFailures = 3

// refreshExhausted reports whether the keeper should give up the flow: too
// many consecutive failures, or the last good refresh is at least a TTL old.
func refreshExhausted(failures int, sinceOK, ttl time.Duration) bool {
	return failures >= maxRefreshFailures || sinceOK >= ttl
}

// refreshInterval keeps three refreshes inside one lease period
func refreshInterval(ttl time.Duration) time.Duration {
	d := ttl / 3
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}
