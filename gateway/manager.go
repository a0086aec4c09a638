/************************************************************************************
 *
 * gatewire, a Lightweight Go client for the Discord Gateway protocol
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package gateway

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/marouanesouiri/stdx/xlog"
)

// IdentifyRateLimiter controls how often shards in a group may send
// IDENTIFY, independent of the per-connection WindowLimiter that governs
// ordinary frame traffic. The Gateway documents a shared budget of one
// IDENTIFY per 5 seconds across an entire shard group.
type IdentifyRateLimiter interface {
	// Wait blocks until the caller may send the next IDENTIFY.
	Wait(ctx context.Context) error
}

// tokenBucketIdentifyLimiter is the default IdentifyRateLimiter: a
// channel-fed token bucket, matching the teacher's own
// DefaultShardsRateLimiter.
type tokenBucketIdentifyLimiter struct {
	tokens chan struct{}
	stop   chan struct{}
	once   sync.Once
}

// NewIdentifyRateLimiter builds a token bucket allowing burst tokens
// immediately, refilled one at a time every interval.
func NewIdentifyRateLimiter(burst int, interval time.Duration) IdentifyRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	l := &tokenBucketIdentifyLimiter{
		tokens: make(chan struct{}, burst),
		stop:   make(chan struct{}),
	}
	for range burst {
		l.tokens <- struct{}{}
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				select {
				case l.tokens <- struct{}{}:
				default:
				}
			}
		}
	}()
	return l
}

func (l *tokenBucketIdentifyLimiter) Wait(ctx context.Context) error {
	select {
	case <-l.tokens:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *tokenBucketIdentifyLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Token is the bot token shared by every shard in the group.
	Token string
	// URL is the base Gateway URL shared by every shard.
	URL string
	// TotalShards is the size of the shard group. A shard group of 1
	// behaves as a single un-sharded connection.
	TotalShards int
	// ShardIDs restricts this process to a subset of the group (for
	// clustering across processes). Nil or empty means every shard in
	// [0, TotalShards).
	ShardIDs []int
	// SessionOptions are applied to every shard's Session, after WithShard
	// is set by the Manager itself.
	SessionOptions []Option
	// MaxConcurrency is the IDENTIFY burst size, as reported by
	// GET /gateway/bot's session_start_limit.max_concurrency. Defaults to 1.
	// Ignored if IdentifyLimiter is set explicitly.
	MaxConcurrency int
	// IdentifyLimiter bounds the group's shared IDENTIFY rate. Defaults to
	// MaxConcurrency tokens refilled one per 5 seconds, per the Gateway's
	// documented budget.
	IdentifyLimiter IdentifyRateLimiter
	// Logger receives group-lifecycle logs.
	Logger xlog.Logger
}

// Manager owns one Session per shard in a shard group and coordinates their
// connection lifecycle: staggered IDENTIFY (via IdentifyLimiter), concurrent
// Connect loops, and group-wide shutdown. It is the embedder most callers
// reach for directly; Session itself stays usable standalone for a
// single-shard bot.
type Manager struct {
	cfg      ManagerConfig
	sessions []*Session

	mu      sync.Mutex
	running sync.WaitGroup
	cancel  context.CancelFunc
}

// NewManager constructs a Manager and its Sessions. Connections are not
// opened until Run is called.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.TotalShards <= 0 {
		cfg.TotalShards = 1
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.IdentifyLimiter == nil {
		cfg.IdentifyLimiter = NewIdentifyRateLimiter(cfg.MaxConcurrency, 5*time.Second)
	}
	if cfg.Logger == nil {
		cfg.Logger = xlog.NewTextLogger(os.Stdout, xlog.LogLevelInfoLevel)
	}

	ids := cfg.ShardIDs
	if len(ids) == 0 {
		ids = make([]int, cfg.TotalShards)
		for i := range ids {
			ids[i] = i
		}
	}

	m := &Manager{cfg: cfg}
	for _, id := range ids {
		opts := append([]Option{WithShard(id, cfg.TotalShards)}, cfg.SessionOptions...)
		m.sessions = append(m.sessions, New(cfg.Token, cfg.URL, opts...))
	}
	return m
}

// Sessions returns every shard's Session, in the order the Manager was
// configured to own them.
func (m *Manager) Sessions() []*Session { return m.sessions }

// Run connects every owned shard and blocks until ctx is cancelled or Close
// is called. Each shard reconnects on its own according to recoveryPolicy.
// The Manager applies PrepareReconnect to the shard's terminal error first;
// recoveryPolicy then receives that error and decides whether to stop
// retrying that shard entirely (return false) or keep going (return true,
// after whatever backoff it wants to apply).
func (m *Manager) Run(ctx context.Context, recoveryPolicy func(s *Session, err error) bool) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	for _, sess := range m.sessions {
		sess := sess
		m.running.Add(1)
		go func() {
			defer m.running.Done()
			m.runShard(runCtx, sess, recoveryPolicy)
		}()
	}

	<-runCtx.Done()
	for _, sess := range m.sessions {
		_ = sess.Close()
	}
	m.running.Wait()
	return runCtx.Err()
}

func (m *Manager) runShard(ctx context.Context, sess *Session, recoveryPolicy func(*Session, error) bool) {
	for {
		if err := m.cfg.IdentifyLimiter.Wait(ctx); err != nil {
			return
		}
		err := sess.Connect(ctx)
		m.cfg.Logger.WithFields(map[string]any{
			"shard_id": sess.ShardID(),
			"error":    err,
		}).Info(fmt.Sprintf("shard %d connection ended", sess.ShardID()))

		select {
		case <-ctx.Done():
			return
		default:
		}

		sess.PrepareReconnect(err)
		if recoveryPolicy == nil || !recoveryPolicy(sess, err) {
			return
		}
	}
}

// Close stops Run and disconnects every shard. Safe to call before Run, or
// more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	for _, sess := range m.sessions {
		_ = sess.Close()
	}
}
