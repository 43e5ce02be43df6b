// Package session tracks which top-level screen a device should show:
// the first-run landing flow, the short intro that follows it, the
// email-confirmation gate, or the main app.
//
// The controller is a small state machine driven by three inputs: the
// one-time onboarding-completion signal, identity/confirmation changes
// reported by the auth layer, and a timed advance out of the intro.
// It renders nothing and knows nothing about HTTP — the handler layer
// asks it for the current phase and relays the answer.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/anfal/wificards/internal/apperror"
)

// Phase is the top-level screen state of one device session.
type Phase string

const (
	// PhaseUnknown means the identity state has not been reported
	// yet. Callers render nothing rather than guess.
	PhaseUnknown     Phase = ""
	PhaseLanding     Phase = "landing"
	PhaseIntro       Phase = "intro"
	PhaseVerifyEmail Phase = "verify_email"
	PhaseMain        Phase = "main"
)

// introDelay is how long the intro screen shows before advancing.
const introDelay = 2000 * time.Millisecond

// Persisted flag keys.
const (
	keyOnboardingDone = "onboarding_completed"
	keyWelcomeShown   = "welcome_shown"
)

// FlagStore is the slice of the prefs store the controller needs for
// its persisted one-shot flags. The sqlite prefs repository satisfies it.
type FlagStore interface {
	Get(ctx context.Context, scope, key string) (string, error)
	Set(ctx context.Context, scope, key, value string) error
}

// identityState is the controller's snapshot of the external identity.
type identityState struct {
	known     bool // has the auth layer reported at all yet
	present   bool
	userID    string
	name      string
	confirmed bool
}

// Notice is a one-shot notification for the device, currently only the
// post-confirmation welcome.
type Notice struct {
	Message string `json:"message"`
}

// Controller owns the phase for one device.
//
// Precedence rule: while the intro is active, the scheduled advance is
// solely authoritative. An identity change arriving mid-intro updates
// the recorded identity but does not switch the phase; the timer
// callback re-reads the identity when it fires, so the device still
// lands on the right screen. One code path decides, so the two inputs
// cannot race each other.
type Controller struct {
	deviceID string
	flags    FlagStore
	logger   *slog.Logger
	delay    time.Duration

	mu       sync.Mutex
	phase    Phase
	identity identityState
	notice   *Notice
	welcomed bool // welcome already fired this session
	timer    *time.Timer
	closed   bool

	lastAccess time.Time
}

// NewController creates a controller for the given device. Cold start:
// a device that completed onboarding before goes straight to the main
// phase, even signed out; a fresh device starts at landing.
func NewController(ctx context.Context, deviceID string, flags FlagStore, logger *slog.Logger) *Controller {
	c := &Controller{
		deviceID:   deviceID,
		flags:      flags,
		logger:     logger,
		delay:      introDelay,
		lastAccess: time.Now(),
	}

	if c.onboardingDone(ctx) {
		c.phase = PhaseMain
	} else {
		c.phase = PhaseLanding
	}
	return c
}

// Phase returns the current phase for rendering. PhaseUnknown until
// the first identity report arrives.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAccess = time.Now()
	if !c.identity.known {
		return PhaseUnknown
	}
	return c.phase
}

// CompleteOnboarding persists the onboarding flag, switches to the
// intro phase, and schedules the advance to the next screen. Calling
// it again while the intro is already running is a no-op.
func (c *Controller) CompleteOnboarding(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.phase == PhaseIntro {
		return
	}

	if err := c.flags.Set(ctx, deviceScope(c.deviceID), keyOnboardingDone, "true"); err != nil {
		// Worst case the device sees landing again next cold start.
		c.logger.Error("persisting onboarding flag",
			slog.String("deviceID", c.deviceID),
			slog.String("error", err.Error()),
		)
	}

	c.phase = PhaseIntro
	c.timer = time.AfterFunc(c.delay, c.advanceFromIntro)
}

// advanceFromIntro is the timer callback ending the intro. It reads
// the identity state as of now, not as of scheduling.
func (c *Controller) advanceFromIntro() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.phase != PhaseIntro {
		return
	}
	if c.identity.present && !c.identity.confirmed {
		c.phase = PhaseVerifyEmail
	} else {
		c.phase = PhaseMain
	}
}

// OnIdentityChanged records the externally reported identity and
// forces the phase to match it: unconfirmed → the verify-email gate,
// confirmed → main. Absent identity falls back to the cold-start rule.
// During the intro only the snapshot is updated (see precedence note
// on Controller).
func (c *Controller) OnIdentityChanged(ctx context.Context, userID, name string, confirmed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.identity = identityState{
		known:     true,
		present:   userID != "",
		userID:    userID,
		name:      name,
		confirmed: confirmed,
	}

	if c.identity.present && confirmed {
		c.maybeWelcome(ctx)
	}

	if c.phase == PhaseIntro {
		return
	}

	switch {
	case c.identity.present && !confirmed:
		c.phase = PhaseVerifyEmail
	case c.identity.present && confirmed:
		c.phase = PhaseMain
	}
}

// maybeWelcome queues the one-shot welcome notice the first time this
// identity is seen confirmed. The persisted per-identity flag makes it
// fire at most once ever; the session bool keeps a flag-store outage
// from repeating it within one session. Callers hold c.mu.
func (c *Controller) maybeWelcome(ctx context.Context) {
	if c.welcomed {
		return
	}

	scope := userScope(c.identity.userID)
	if _, err := c.flags.Get(ctx, scope, keyWelcomeShown); err == nil {
		c.welcomed = true
		return
	} else if !errors.Is(err, apperror.ErrNotFound) {
		c.logger.Error("reading welcome flag", slog.String("error", err.Error()))
		return
	}

	name := c.identity.name
	if name == "" {
		name = c.identity.userID
	}
	c.notice = &Notice{Message: "Welcome, " + name + "! Your email is confirmed."}
	c.welcomed = true

	if err := c.flags.Set(ctx, scope, keyWelcomeShown, "true"); err != nil {
		c.logger.Error("persisting welcome flag", slog.String("error", err.Error()))
	}
}

// ConsumeNotice returns the pending notice, if any, and clears it.
func (c *Controller) ConsumeNotice() *Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.notice
	c.notice = nil
	return n
}

// Close stops the intro timer so a torn-down controller can never
// mutate state afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// idleSince reports the last time the controller was asked anything.
func (c *Controller) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAccess
}

func (c *Controller) onboardingDone(ctx context.Context) bool {
	v, err := c.flags.Get(ctx, deviceScope(c.deviceID), keyOnboardingDone)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			c.logger.Error("reading onboarding flag", slog.String("error", err.Error()))
		}
		return false
	}
	return v == "true"
}

func deviceScope(deviceID string) string { return "device:" + deviceID }
func userScope(userID string) string     { return "user:" + userID }
