// Package coord wraps the shared coordination store used for locks, rate
// limits, caches, presence and pub/sub across instances.
//
// Every operation fails open: when the store is not configured, unreachable
// or slow, callers get a permissive or empty result and the condition is only
// visible through Available and the logs.
package coord

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/npezzotti/go-chatcore/internal/stats"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	lockPrefix      = "lock:"
	rateLimitPrefix = "rate_limit:"
	cachePrefix     = "cache:"
	presencePrefix  = "presence:"

	defaultOpTimeout      = 2 * time.Second
	defaultHealthInterval = 5 * time.Second
)

type Options struct {
	URL             string
	Addr            string
	Username        string
	Password        string
	DB              int
	DialTimeout     time.Duration
	OpTimeout       time.Duration
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
	HealthInterval  time.Duration
	ClientName      string
}

func (o Options) configured() bool {
	return o.URL != "" || o.Addr != ""
}

func (o Options) redisOptions() (*redis.Options, error) {
	ro := &redis.Options{}
	if o.URL != "" {
		parsed, err := redis.ParseURL(o.URL)
		if err != nil {
			return nil, err
		}
		ro = parsed
	} else {
		ro.Addr = o.Addr
		ro.Username = o.Username
		ro.Password = o.Password
		ro.DB = o.DB
	}

	if o.DialTimeout > 0 {
		ro.DialTimeout = o.DialTimeout
	}
	if o.MaxRetries != 0 {
		ro.MaxRetries = o.MaxRetries
	}
	if o.MinRetryBackoff > 0 {
		ro.MinRetryBackoff = o.MinRetryBackoff
	}
	if o.MaxRetryBackoff > 0 {
		ro.MaxRetryBackoff = o.MaxRetryBackoff
	}
	ro.ClientName = o.ClientName
	return ro, nil
}

type Client struct {
	rdb   *redis.Client
	opts  Options
	log   zerolog.Logger
	stats stats.StatsProvider
	now   func() time.Time

	available atomic.Bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient builds the client and starts its health loop. It never dials
// synchronously; call CheckHealth to block until the first ping completes.
// An Options value with neither URL nor Addr yields a client that is
// permanently unavailable.
func NewClient(opts Options, logger zerolog.Logger, sp stats.StatsProvider) (*Client, error) {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = defaultHealthInterval
	}
	if sp == nil {
		sp = stats.Discard
	}

	c := &Client{
		opts:  opts,
		log:   logger.With().Str("component", "coord").Logger(),
		stats: sp,
		now:   time.Now,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	if !opts.configured() {
		c.log.Warn().Msg("coordination store not configured, running without it")
		close(c.done)
		return c, nil
	}

	ro, err := opts.redisOptions()
	if err != nil {
		return nil, err
	}

	c.rdb = redis.NewClient(ro)
	// installed before the pool dials anything
	c.rdb.AddHook(lifecycleHook{c: c})

	go c.monitor()
	return c, nil
}

// Available reports whether the last interaction with the store succeeded.
func (c *Client) Available() bool {
	return c.rdb != nil && c.available.Load()
}

// CheckHealth pings the store once and updates availability.
func (c *Client) CheckHealth(ctx context.Context) bool {
	if c.rdb == nil {
		return false
	}
	ctx, cancel := c.opContext(ctx)
	defer cancel()

	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.markUnavailable(err)
		return false
	}
	c.markAvailable()
	return true
}

func (c *Client) monitor() {
	defer close(c.done)

	c.CheckHealth(context.Background())

	ticker := time.NewTicker(c.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.CheckHealth(context.Background())
		}
	}
}

// Close stops the health loop and releases the connection pool.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
		if c.rdb != nil {
			err = c.rdb.Close()
		}
		c.available.Store(false)
	})
	return err
}

// Publish sends payload, JSON encoded, to channel and returns the number of
// receivers. It returns 0 when the store is unavailable.
func (c *Client) Publish(ctx context.Context, channel string, payload any) int64 {
	if !c.Available() {
		c.failOpen("publish")
		return 0
	}

	data, err := marshal(payload)
	if err != nil {
		c.log.Warn().Err(err).Str("channel", channel).Msg("publish: encode payload")
		return 0
	}

	ctx, cancel := c.opContext(ctx)
	defer cancel()

	n, err := c.rdb.Publish(ctx, channel, data).Result()
	if err != nil {
		c.log.Warn().Err(err).Str("channel", channel).Msg("publish failed")
		return 0
	}
	return n
}

// Subscriber opens the dedicated subscribe-mode connection. It returns nil
// when the store is not configured.
func (c *Client) Subscriber(ctx context.Context) *redis.PubSub {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Subscribe(ctx)
}

func (c *Client) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opts.OpTimeout)
}

func (c *Client) failOpen(op string) {
	c.stats.Incr(stats.CoordFailOpen, op)
}

func (c *Client) markAvailable() {
	if !c.available.Swap(true) {
		c.log.Info().Msg("coordination store ready")
		c.stats.Set(stats.CoordAvailable, 1)
	}
}

func (c *Client) markUnavailable(err error) {
	if c.available.Swap(false) {
		c.log.Warn().Err(err).Msg("coordination store unavailable")
		c.stats.Set(stats.CoordAvailable, 0)
	}
}

// observe updates availability from the outcome of a command. Server side
// errors such as WRONGTYPE say nothing about reachability, and neither does
// a deadline or cancellation, which may belong to the caller. Only the
// health ping marks a slow store as down.
func (c *Client) observe(err error) {
	switch {
	case err == nil, errors.Is(err, redis.Nil):
		c.markAvailable()
	case isConnError(err):
		c.markUnavailable(err)
	}
}

func isConnError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && !netErr.Timeout()
}

type lifecycleHook struct {
	c *Client
}

func (h lifecycleHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil && ctx.Err() == nil {
			h.c.markUnavailable(err)
		}
		return conn, err
	}
}

func (h lifecycleHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		h.c.observe(err)
		return err
	}
}

func (h lifecycleHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		h.c.observe(err)
		return err
	}
}
