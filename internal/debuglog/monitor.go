// Package debuglog keeps a local view of the backend's debug telemetry.
// Access requires a short-lived token which the monitor requests and
// renews on demand. Refreshes are rate limited and failed refreshes back
// off exponentially.
package debuglog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	ManualCooldown = 5 * time.Second
	AutoInterval   = 10 * time.Minute
	baseBackoff    = time.Second
	maxBackoff     = 30 * time.Second
)

var (
	ErrDisabled = errors.New("debug mode is disabled")
	ErrNoToken  = errors.New("no valid debug token available")
	ErrFilter   = errors.New("unknown debug log filter")
)

// API is the backend debug surface.
type API interface {
	DebugToken(ctx context.Context) (Token, error)
	DebugLogs(ctx context.Context, filter, token string) (Logs, error)
	ClearDebugLogs(ctx context.Context, token string) error
}

type Monitor struct {
	api       API
	now       func() time.Time
	interval  time.Duration
	onRefresh func(Logs)

	mu       sync.Mutex
	enabled  bool
	filter   string
	token    string
	expiry   time.Time
	logs     []Log
	metrics  Metrics
	retries  int
	manual   *rate.Limiter
	lastAuto time.Time
}

type Option func(*Monitor)

// WithInterval replaces AutoInterval as the spacing of automatic
// refreshes.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// OnRefresh registers fn to receive every successfully fetched batch.
func OnRefresh(fn func(Logs)) Option {
	return func(m *Monitor) { m.onRefresh = fn }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func NewMonitor(api API, opts ...Option) *Monitor {
	m := &Monitor{
		api:      api,
		now:      time.Now,
		interval: AutoInterval,
		filter:   FilterAll,
		manual:   rate.NewLimiter(rate.Every(ManualCooldown), 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetEnabled follows the debugMode setting. Disabling drops the token.
func (m *Monitor) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
	if !enabled {
		m.token = ""
		m.expiry = time.Time{}
	}
}

func (m *Monitor) SetFilter(filter string) error {
	if !ValidFilter(filter) {
		return fmt.Errorf("%w: %q", ErrFilter, filter)
	}
	m.mu.Lock()
	m.filter = filter
	m.mu.Unlock()
	return nil
}

func (m *Monitor) Logs() []Log {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Log(nil), m.logs...)
}

func (m *Monitor) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// Backoff is the delay before retrying after the current run of failures.
func (m *Monitor) Backoff() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return backoff(m.retries)
}

func backoff(retries int) time.Duration {
	if retries > 5 {
		return maxBackoff
	}
	return min(baseBackoff<<retries, maxBackoff)
}

// Refresh fetches logs and metrics. It reports whether a fetch happened:
// manual refreshes inside the cooldown and automatic ones inside the
// interval are skipped, as is everything while debug mode is off.
func (m *Monitor) Refresh(ctx context.Context, manual bool) (bool, error) {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return false, nil
	}
	now := m.now()
	if manual {
		if !m.manual.AllowN(now, 1) {
			m.mu.Unlock()
			return false, nil
		}
	} else if !m.lastAuto.IsZero() && now.Sub(m.lastAuto) < m.interval {
		m.mu.Unlock()
		return false, nil
	}
	filter := m.filter
	m.mu.Unlock()

	if err := m.fetch(ctx, filter, manual, now); err != nil {
		m.mu.Lock()
		m.retries++
		m.mu.Unlock()
		return true, err
	}
	return true, nil
}

func (m *Monitor) fetch(ctx context.Context, filter string, manual bool, now time.Time) error {
	token, err := m.ensureToken(ctx)
	if err != nil {
		return err
	}

	query := filter
	if query == FilterAll {
		query = ""
	}
	resp, err := m.api.DebugLogs(ctx, query, token)
	if err != nil {
		if unauthorized(err) {
			m.dropToken()
		}
		return fmt.Errorf("refresh debug logs: %w", err)
	}
	if resp.Logs == nil || resp.Metrics == nil {
		return errors.New("refresh debug logs: invalid response format")
	}

	m.mu.Lock()
	m.logs = resp.Logs
	m.metrics = *resp.Metrics
	m.retries = 0
	if !manual {
		m.lastAuto = now
	}
	m.mu.Unlock()

	if m.onRefresh != nil {
		m.onRefresh(resp)
	}
	return nil
}

// Clear wipes the backend logs and resets the local view.
func (m *Monitor) Clear(ctx context.Context) error {
	m.mu.Lock()
	enabled := m.enabled
	m.mu.Unlock()
	if !enabled {
		return ErrDisabled
	}

	token, err := m.ensureToken(ctx)
	if err != nil {
		return err
	}
	if err := m.api.ClearDebugLogs(ctx, token); err != nil {
		if unauthorized(err) {
			m.dropToken()
		}
		return fmt.Errorf("clear debug logs: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = nil
	m.metrics = Metrics{}
	return nil
}

// Run refreshes automatically until ctx is done. Failures are retried
// with exponential backoff.
func (m *Monitor) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		next := m.interval
		if _, err := m.Refresh(ctx, false); err != nil {
			next = m.Backoff()
			log.Warn().Err(err).Dur("retry_in", next).Msg("debug log refresh failed")
		}
		timer.Reset(next)
	}
}

func (m *Monitor) ensureToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.token != "" && m.now().Before(m.expiry) {
		token := m.token
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	issued := m.now()
	tok, err := m.api.DebugToken(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoToken, err)
	}
	if tok.Token == "" {
		return "", ErrNoToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = tok.Token
	m.expiry = tok.ExpiresAt(issued)
	log.Debug().Time("expires", m.expiry).Msg("obtained debug token")
	return m.token, nil
}

func (m *Monitor) dropToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.expiry = time.Time{}
}

func unauthorized(err error) bool {
	var status interface{ HTTPStatus() int }
	if errors.As(err, &status) {
		code := status.HTTPStatus()
		return code == http.StatusUnauthorized || code == http.StatusForbidden
	}
	return false
}
