// Package client owns the connection to the Ethereum node. All raw network
// I/O of the engine goes through a Connector.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrServiceStopping is returned by every blocking call once Stop was requested
	ErrServiceStopping = errors.New("connector is stopping")

	// ErrInvalidEndpoint is returned for a missing or malformed node URL
	ErrInvalidEndpoint = errors.New("invalid rpc endpoint")
)

// Defaults
const (
	DefaultDialTimeout     = 10 * time.Second
	DefaultCheckInterval   = 10 * time.Second
	DefaultMaxBackoff      = 2 * time.Minute
	DefaultRetryDelay      = 2 * time.Second
	DefaultPollingInterval = 60 * time.Second
	MinPollingInterval     = 15 * time.Second
	DefaultReplayRate      = 20.0
)

// State is the connection state of a Connector
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config holds connector configuration
type Config struct {
	Endpoint      string
	DialTimeout   time.Duration
	CheckInterval time.Duration
	MaxBackoff    time.Duration
	// RetryDelay is the pause between retries of calls that never give up
	RetryDelay time.Duration
	// PollingInterval drives the block feed on transports without subscriptions
	PollingInterval time.Duration
	// ReplayRate limits header fetches per second while the feed catches up
	ReplayRate float64
	Logger     *zap.Logger
	Metrics    *Metrics
}

// session is an immutable snapshot of one established connection
type session struct {
	rpc        *rpc.Client
	eth        *ethclient.Client
	generation uint64
	subscribe  bool
}

// Connector keeps a connection to one node alive and serves node calls on
// top of it. Only the supervisor goroutine dials or closes connections.
type Connector struct {
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
	limiter *rate.Limiter

	mu           sync.Mutex
	endpoint     string
	state        State
	sess         *session
	ready        chan struct{} // closed while connected
	generation   uint64
	configFailed bool

	watermark    atomic.Uint64
	hasWatermark atomic.Bool

	brokenCh   chan uint64
	endpointCh chan struct{}
	stopCh     chan struct{}
	stopping   atomic.Bool
	startOnce  sync.Once
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewConnector creates a Connector. It does not dial until Start.
func NewConnector(cfg *Config) (*Connector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	c := *cfg
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.MaxBackoff < c.CheckInterval {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.PollingInterval <= 0 {
		c.PollingInterval = DefaultPollingInterval
	}
	if c.ReplayRate <= 0 {
		c.ReplayRate = DefaultReplayRate
	}
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Connector{
		cfg:        c,
		logger:     logger,
		metrics:    c.Metrics,
		limiter:    rate.NewLimiter(rate.Limit(c.ReplayRate), 1),
		endpoint:   c.Endpoint,
		ready:      make(chan struct{}),
		brokenCh:   make(chan uint64, 1),
		endpointCh: make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}, nil
}

// ValidateEndpoint checks that endpoint is a ws, wss, http or https URL
func ValidateEndpoint(endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		return fmt.Errorf("%w: endpoint is empty", ErrInvalidEndpoint)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	return nil
}

func supportsSubscriptions(endpoint string) bool {
	return strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://")
}

// Start launches the supervisor. Cancelling ctx has the same effect as Stop.
func (c *Connector) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.supervise(ctx)
	})
}

// Stop requests shutdown, releases all waiters and waits for the supervisor
func (c *Connector) Stop() {
	c.markStopping()
	c.wg.Wait()
}

func (c *Connector) markStopping() {
	c.stopOnce.Do(func() {
		c.stopping.Store(true)
		close(c.stopCh)
	})
}

// State returns the current connection state
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Endpoint returns the configured node URL
func (c *Connector) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// SetEndpoint replaces the node URL and forces a reconnect. It lifts the
// suspension caused by a configuration error.
func (c *Connector) SetEndpoint(endpoint string) {
	c.mu.Lock()
	c.endpoint = endpoint
	c.configFailed = false
	c.mu.Unlock()

	select {
	case c.endpointCh <- struct{}{}:
	default:
	}
}

// SetWatermark records the last block processed by the caller. The block
// feed resumes after it when it is re-established.
func (c *Connector) SetWatermark(block uint64) {
	for {
		cur := c.watermark.Load()
		if c.hasWatermark.Load() && block <= cur {
			return
		}
		if c.watermark.CompareAndSwap(cur, block) {
			c.hasWatermark.Store(true)
			return
		}
	}
}

// Watermark returns the last recorded watermark
func (c *Connector) Watermark() (uint64, bool) {
	return c.watermark.Load(), c.hasWatermark.Load()
}

func (c *Connector) supervise(ctx context.Context) {
	defer c.wg.Done()
	defer c.disconnect("shutdown")

	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	var (
		failures    int
		nextAttempt time.Time
	)
	attempt := func() {
		if c.isConfigSuspended() || time.Now().Before(nextAttempt) {
			return
		}
		if c.connect(ctx) {
			failures = 0
			nextAttempt = time.Time{}
			return
		}
		failures++
		nextAttempt = time.Now().Add(c.backoff(failures))
	}

	attempt()
	for {
		select {
		case <-ctx.Done():
			c.markStopping()
			return
		case <-c.stopCh:
			return
		case gen := <-c.brokenCh:
			if gen != c.currentGeneration() {
				continue
			}
			c.disconnect("broken session")
			nextAttempt = time.Time{}
			attempt()
		case <-c.endpointCh:
			c.disconnect("endpoint changed")
			failures = 0
			nextAttempt = time.Time{}
			attempt()
		case <-ticker.C:
			if c.State() != StateConnected {
				attempt()
			}
		}
	}
}

func (c *Connector) backoff(failures int) time.Duration {
	d := c.cfg.CheckInterval
	for i := 1; i < failures && d < c.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	return d
}

func (c *Connector) isConfigSuspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configFailed
}

func (c *Connector) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return 0
	}
	return c.sess.generation
}

func (c *Connector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.metrics.SetState(s)
}

// connect dials the configured endpoint. It reports whether a session is up.
func (c *Connector) connect(ctx context.Context) bool {
	endpoint := c.Endpoint()
	if err := ValidateEndpoint(endpoint); err != nil {
		c.mu.Lock()
		c.configFailed = true
		c.mu.Unlock()
		c.logger.Error("rpc endpoint misconfigured, reconnects suspended until reconfigured",
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		return false
	}

	c.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(dialCtx, endpoint)
	if err == nil {
		// http dials lazily, so ask the node something to prove it is there
		if _, err = ethclient.NewClient(rpcClient).ChainID(dialCtx); err != nil {
			rpcClient.Close()
		}
	}
	if err != nil {
		c.setState(StateDisconnected)
		c.metrics.RecordConnectAttempt(false)
		c.logger.Warn("failed to connect to rpc endpoint",
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		return false
	}

	c.mu.Lock()
	c.generation++
	c.sess = &session{
		rpc:        rpcClient,
		eth:        ethclient.NewClient(rpcClient),
		generation: c.generation,
		subscribe:  supportsSubscriptions(endpoint),
	}
	c.state = StateConnected
	close(c.ready)
	gen := c.generation
	c.mu.Unlock()

	c.metrics.SetState(StateConnected)
	c.metrics.RecordConnectAttempt(true)
	c.logger.Info("connected to Ethereum RPC",
		zap.String("endpoint", endpoint),
		zap.Uint64("generation", gen),
	)
	return true
}

func (c *Connector) disconnect(reason string) {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	if c.state == StateConnected {
		c.ready = make(chan struct{})
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	c.metrics.SetState(StateDisconnected)
	if s != nil {
		s.rpc.Close()
		c.logger.Info("disconnected from Ethereum RPC",
			zap.String("reason", reason),
			zap.Uint64("generation", s.generation),
		)
	}
}

// acquire waits until a session is available
func (c *Connector) acquire(ctx context.Context) (*session, error) {
	for {
		if c.stopping.Load() {
			return nil, ErrServiceStopping
		}
		c.mu.Lock()
		s, ready := c.sess, c.ready
		c.mu.Unlock()
		if s != nil {
			return s, nil
		}
		select {
		case <-ready:
		case <-c.stopCh:
			return nil, ErrServiceStopping
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// reportBroken asks the supervisor to redial when err shows the session is
// no longer usable
func (c *Connector) reportBroken(s *session, err error) {
	if !isTransient(err) {
		return
	}
	select {
	case c.brokenCh <- s.generation:
	default:
	}
}

// isTransient separates transport failures, which are retried, from
// answers the node gave, which are final
func isTransient(err error) bool {
	if err == nil ||
		errors.Is(err, ErrServiceStopping) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ethereum.NotFound) {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}

	if errors.Is(err, rpc.ErrClientQuit) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// call runs fn once on the current session
func (c *Connector) call(ctx context.Context, op string, fn func(*session) error) error {
	s, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	err = fn(s)
	c.metrics.ObserveCall(op, start, err)
	if err != nil {
		c.reportBroken(s, err)
	}
	return err
}

// callWithRetry runs fn until it succeeds or fails for a reason other
// than transport trouble
func (c *Connector) callWithRetry(ctx context.Context, op string, fn func(*session) error) error {
	for {
		err := c.call(ctx, op, fn)
		if !isTransient(err) {
			return err
		}
		c.metrics.RecordRetry(op)
		c.logger.Warn("transient node failure, retrying",
			zap.String("operation", op),
			zap.Duration("delay", c.cfg.RetryDelay),
			zap.Error(err),
		)

		timer := time.NewTimer(c.cfg.RetryDelay)
		select {
		case <-timer.C:
		case <-c.stopCh:
			timer.Stop()
			return ErrServiceStopping
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
