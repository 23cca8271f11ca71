package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cardauth/internal/config"
	"cardauth/internal/entitlement"
	autherrors "cardauth/internal/errors"
)

// State is the authorization state of the session
type State string

const (
	StateLoggedOut State = "logged_out"
	StateLoggingIn State = "logging_in"
	StateLoggedIn  State = "logged_in"
)

// Verifier performs the network exchange with the verification service
type Verifier interface {
	Verify(ctx context.Context, activationCode, userID, machineCode string) (*entitlement.Record, error)
}

// MachineCoder resolves the device identifier
type MachineCoder interface {
	MachineCode(ctx context.Context) string
}

// Status is a point-in-time snapshot of the session for the HTTP API and
// the push channel.
type Status struct {
	State       State               `json:"state"`
	LoggedIn    bool                `json:"loggedIn"`
	Expired     bool                `json:"expired"`
	Loading     bool                `json:"loading"`
	LastError   string              `json:"lastError,omitempty"`
	MachineCode string              `json:"machineCode,omitempty"`
	Record      *entitlement.Record `json:"authInfo,omitempty"`
}

// Controller owns the single auth session for the process: at most one
// entitlement record, replaced wholesale on every state change. It is safe
// for concurrent use.
type Controller struct {
	verifier Verifier
	machine  MachineCoder
	cache    *entitlement.Cache
	notifier Notifier
	logger   *slog.Logger
	metrics  *Metrics
	limiter  *rate.Limiter
	now      func() time.Time

	mu      sync.Mutex
	record  *entitlement.Record
	lastErr string
	loading bool

	// onChange observers receive a status snapshot after every completed
	// login attempt, successful or not, and after every logout. A login
	// rejected for being concurrent with another does not notify; the
	// in-flight attempt's own notification settles the state.
	onChange []func(Status)
}

// ControllerOption customizes controller construction
type ControllerOption func(*Controller)

// WithClock overrides the wall clock, for tests
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// WithRateLimit bounds login attempts
func WithRateLimit(cfg config.RateLimitConfig) ControllerOption {
	return func(c *Controller) {
		if cfg.Enabled {
			c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
		}
	}
}

// WithMetrics attaches OpenTelemetry counters
func WithMetrics(m *Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// NewController creates an auth controller. Call Restore afterwards to
// rebuild session state from the entitlement cache.
func NewController(verifier Verifier, machine MachineCoder, cache *entitlement.Cache, notifier Notifier, logger *slog.Logger, opts ...ControllerOption) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	c := &Controller{
		verifier: verifier,
		machine:  machine,
		cache:    cache,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "auth_controller")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers an observer for login/logout transitions. Observers
// must be registered before concurrent use begins.
func (c *Controller) OnChange(fn func(Status)) {
	c.onChange = append(c.onChange, fn)
}

// Restore rebuilds session state from the entitlement cache. No network
// call is made; an expired or unreadable entry simply leaves the session
// logged out.
func (c *Controller) Restore(ctx context.Context) error {
	rec, err := c.cache.Load()
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}

	c.mu.Lock()
	c.record = rec
	c.mu.Unlock()

	if rec != nil {
		c.logger.InfoContext(ctx, "session restored from cache",
			slog.String("card_id", rec.CardID),
			slog.Bool("time_limited", rec.HasTimeLimit))
		c.metrics.restored(ctx)
	} else {
		c.logger.InfoContext(ctx, "no cached session, starting logged out")
	}
	return nil
}

// Login exchanges the activation code for an entitlement. Overlapping
// calls are rejected with ErrLoginInFlight rather than serialized, so the
// caller gets an immediate busy signal instead of a queued request.
func (c *Controller) Login(ctx context.Context, activationCode, userID string) error {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return autherrors.ErrLoginInFlight
	}
	c.loading = true
	c.lastErr = ""
	c.mu.Unlock()

	// Backstop: every return path below settles loading itself before
	// notifying observers, but a panicking verifier must not leave the
	// session stuck in logging_in.
	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	if c.limiter != nil && !c.limiter.Allow() {
		c.finishWithError(autherrors.ErrTooManyAttempts.Error())
		c.metrics.failed(ctx, "rate_limited")
		c.notifyChange()
		return autherrors.ErrTooManyAttempts
	}

	machineCode := c.machine.MachineCode(ctx)
	c.metrics.attempted(ctx)

	rec, err := c.verifier.Verify(ctx, activationCode, userID, machineCode)
	if err != nil {
		return c.loginFailed(ctx, err)
	}

	if saveErr := c.cache.Save(rec); saveErr != nil {
		// The session is still authorized; only the restart path degrades.
		c.logger.ErrorContext(ctx, "failed to persist entitlement",
			slog.String("error", saveErr.Error()))
	}

	c.mu.Lock()
	c.record = rec
	c.loading = false
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "login succeeded",
		slog.String("card_id", rec.CardID),
		slog.String("expiry", rec.ExpiryDisplay()),
		slog.Int("remaining_times", rec.RemainingTimes))
	c.metrics.succeeded(ctx)
	c.notifier.Success(ctx, fmt.Sprintf("Login successful. Valid until: %s", rec.ExpiryDisplay()))
	c.notifyChange()

	return nil
}

// loginFailed records the failure and returns the session to logged out.
// Only structured rejections reach the user-facing notifier; transport
// detail stays in the last-error field. Observers are notified so a push
// channel sees the loading phase end and the failure message.
func (c *Controller) loginFailed(ctx context.Context, err error) error {
	msg := err.Error()
	if autherrors.IsRejected(err) {
		msg = autherrors.RejectionMessage(err)
		c.finishWithError(msg)
		c.metrics.failed(ctx, "rejected")
		c.notifier.Error(ctx, msg)
	} else {
		c.finishWithError(msg)
		c.metrics.failed(ctx, "transport")
	}

	c.logger.WarnContext(ctx, "login failed",
		slog.String("error", err.Error()),
		slog.Bool("rejected", autherrors.IsRejected(err)))
	c.notifyChange()
	return err
}

// Logout clears the in-memory record and the persisted cache entry. No
// network call is made.
func (c *Controller) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.record = nil
	c.lastErr = ""
	c.mu.Unlock()

	if err := c.cache.Clear(); err != nil {
		c.logger.ErrorContext(ctx, "failed to clear entitlement cache",
			slog.String("error", err.Error()))
		return err
	}

	c.logger.InfoContext(ctx, "logged out")
	c.notifyChange()
	return nil
}

// IsLoggedIn reports whether an entitlement record is present
func (c *Controller) IsLoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record != nil
}

// IsExpired reports whether the present record has passed its time limit.
// The predicate is advisory: it does not itself drive a transition to
// logged out; only the next Restore purges an expired record.
func (c *Controller) IsExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.Expired(c.now())
}

// LastError returns the most recent login failure message, empty when the
// last login succeeded or none was attempted.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Loading reports whether a verification call is in flight
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Record returns a copy of the current entitlement record, nil when
// logged out.
func (c *Controller) Record() *entitlement.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.record.Clone()
}

// State returns the current session state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.loading:
		return StateLoggingIn
	case c.record != nil:
		return StateLoggedIn
	default:
		return StateLoggedOut
	}
}

// Status returns a snapshot of the whole session
func (c *Controller) Status(ctx context.Context) Status {
	machineCode := ""
	if c.machine != nil {
		machineCode = c.machine.MachineCode(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	state := StateLoggedOut
	switch {
	case c.loading:
		state = StateLoggingIn
	case c.record != nil:
		state = StateLoggedIn
	}

	return Status{
		State:       state,
		LoggedIn:    c.record != nil,
		Expired:     c.record.Expired(c.now()),
		Loading:     c.loading,
		LastError:   c.lastErr,
		MachineCode: machineCode,
		Record:      c.record.Clone(),
	}
}

// finishWithError ends the loading phase and records the failure message
// under one lock, so observers never see a half-settled snapshot.
func (c *Controller) finishWithError(msg string) {
	c.mu.Lock()
	c.loading = false
	c.lastErr = msg
	c.mu.Unlock()
}

func (c *Controller) notifyChange() {
	if len(c.onChange) == 0 {
		return
	}
	status := c.Status(context.Background())
	for _, fn := range c.onChange {
		fn(status)
	}
}
