package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AMD-melliott/mcp-amdsmi/pkg/clock"
)

// Config configures the session registry.
type Config struct {
	// Timeout is how long a session may sit idle before it expires.
	// Default: 1 hour.
	Timeout time.Duration

	// SweepInterval is how often expired sessions are removed in the
	// background. Default: 5 minutes.
	SweepInterval time.Duration

	// Clock is the clock to use for time operations. If nil, uses real time.
	Clock clock.Clock
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       time.Hour,
		SweepInterval: 5 * time.Minute,
	}
}

// Stats are cumulative registry counters.
type Stats struct {
	Active     int
	Created    uint64
	Expired    uint64
	Terminated uint64
}

// Registry owns all sessions. A coarse lock guards the session map; each
// session has its own lock for refresh and expiry. Lock order is always
// map then session.
type Registry struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger
	newID  func() string

	mu       sync.RWMutex
	sessions map[string]*Session

	created    atomic.Uint64
	expired    atomic.Uint64
	terminated atomic.Uint64

	loopMu  sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry(config Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = DefaultConfig().SweepInterval
	}

	clk := config.Clock
	if clk == nil {
		clk = clock.System()
	}

	return &Registry{
		config:   config,
		clock:    clk,
		logger:   logger.With(slog.String("component", "session-registry")),
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
	}
}

// Timeout returns the idle timeout applied to new sessions.
func (r *Registry) Timeout() time.Duration {
	return r.config.Timeout
}

// Create opens a new session.
func (r *Registry) Create(client ClientInfo) *Session {
	now := r.clock.Now()
	s := &Session{
		CreatedAt:    now,
		Timeout:      r.config.Timeout,
		Client:       client,
		lastActivity: now,
	}

	r.mu.Lock()
	for {
		s.ID = r.newID()
		if _, taken := r.sessions[s.ID]; !taken {
			break
		}
	}
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.created.Add(1)
	r.logger.Info("session created",
		slog.String("session_id", s.ID),
		slog.String("client", client.Name),
	)
	return s
}

// Touch validates id and refreshes its last activity. It returns
// ErrSessionInvalid for an unknown, expired or terminated session and
// removes an expired one.
func (r *Registry) Touch(id string) (*Session, error) {
	return r.lookup(id, r.clock.Now(), true)
}

// Get validates id without refreshing it.
func (r *Registry) Get(id string) (*Session, error) {
	return r.lookup(id, r.clock.Now(), false)
}

func (r *Registry) lookup(id string, now time.Time, touch bool) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: unknown session", ErrSessionInvalid)
	}
	if !s.refresh(now, touch) {
		if r.remove(s) {
			r.expired.Add(1)
			r.logger.Info("session expired", slog.String("session_id", id))
		}
		return nil, fmt.Errorf("%w: session expired", ErrSessionInvalid)
	}
	return s, nil
}

// remove deletes s if it is still the session registered under its id.
func (r *Registry) remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[s.ID]; ok && cur == s {
		delete(r.sessions, s.ID)
		return true
	}
	return false
}

// Terminate ends a session. It reports whether a session was removed;
// terminating an absent session is a no-op. Requests already in flight
// are not interrupted.
func (r *Registry) Terminate(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		s.terminate()
	}
	r.mu.Unlock()

	if ok {
		r.terminated.Add(1)
		r.logger.Info("session terminated", slog.String("session_id", id))
	}
	return ok
}

// Sweep removes every expired session and returns how many it removed.
func (r *Registry) Sweep() int {
	now := r.clock.Now()

	r.mu.RLock()
	candidates := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		candidates = append(candidates, s)
	}
	r.mu.RUnlock()

	removed := 0
	for _, s := range candidates {
		if s.refresh(now, false) {
			continue
		}
		if r.remove(s) {
			removed++
		}
	}

	if removed > 0 {
		r.expired.Add(uint64(removed))
		r.logger.Info("expired sessions removed",
			slog.Int("removed", removed),
			slog.Int("active", r.Count()),
		)
	}
	return removed
}

// Count returns the number of sessions currently held. Sessions that
// have expired but not yet been swept are included.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a copy of every held session, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stats returns the registry counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Active:     r.Count(),
		Created:    r.created.Load(),
		Expired:    r.expired.Load(),
		Terminated: r.terminated.Load(),
	}
}

// Start begins sweeping expired sessions in the background.
func (r *Registry) Start(ctx context.Context) {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()

	if r.started {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.started = true

	r.wg.Add(1)
	go r.sweepLoop(ctx)

	r.logger.Info("session sweeper started",
		slog.Duration("timeout", r.config.Timeout),
		slog.Duration("sweep_interval", r.config.SweepInterval),
	)
}

// Stop stops the background sweep.
func (r *Registry) Stop() {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()

	if !r.started {
		return
	}

	r.cancel()
	r.wg.Wait()
	r.started = false

	r.logger.Info("session sweeper stopped")
}

func (r *Registry) sweepLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := r.clock.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			r.Sweep()
		}
	}
}
