package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/anfal/wificards/internal/apperror"
)

// memFlags is an in-memory FlagStore.
type memFlags struct {
	mu    sync.Mutex
	items map[string]string
}

func newMemFlags() *memFlags {
	return &memFlags{items: make(map[string]string)}
}

func (m *memFlags) Get(_ context.Context, scope, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[scope+"|"+key]
	if !ok {
		return "", apperror.NotFound("pref", scope+"/"+key)
	}
	return v, nil
}

func (m *memFlags) Set(_ context.Context, scope, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[scope+"|"+key] = value
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestController builds a controller with a short intro delay so
// tests don't sit through the real 2 seconds.
func newTestController(t *testing.T, flags *memFlags, deviceID string) *Controller {
	t.Helper()
	c := NewController(context.Background(), deviceID, flags, testLogger())
	c.delay = 10 * time.Millisecond
	t.Cleanup(c.Close)
	return c
}

func waitForPhase(t *testing.T, c *Controller, want Phase) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Phase() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("phase = %q, want %q (timed out)", c.Phase(), want)
}

func TestPhaseUnknownUntilIdentityReported(t *testing.T) {
	c := newTestController(t, newMemFlags(), "dev1")

	if got := c.Phase(); got != PhaseUnknown {
		t.Errorf("Phase() before identity report = %q, want %q", got, PhaseUnknown)
	}

	c.OnIdentityChanged(context.Background(), "", "", false)
	if got := c.Phase(); got != PhaseLanding {
		t.Errorf("Phase() = %q, want %q", got, PhaseLanding)
	}
}

func TestOnboardingFlowToMain(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t, newMemFlags(), "dev1")
	c.OnIdentityChanged(ctx, "", "", false) // anonymous

	c.CompleteOnboarding(ctx)
	if got := c.Phase(); got != PhaseIntro {
		t.Fatalf("Phase() right after CompleteOnboarding = %q, want %q", got, PhaseIntro)
	}

	waitForPhase(t, c, PhaseMain)
}

func TestOnboardingFlowToVerifyEmail(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t, newMemFlags(), "dev1")
	c.OnIdentityChanged(ctx, "user1", "Ada", false) // signed in, unconfirmed

	// unconfirmed identity forces the gate even pre-onboarding
	if got := c.Phase(); got != PhaseVerifyEmail {
		t.Fatalf("Phase() = %q, want %q", got, PhaseVerifyEmail)
	}

	c.CompleteOnboarding(ctx)
	waitForPhase(t, c, PhaseVerifyEmail)
}

func TestOnboardingPersistsAcrossSessions(t *testing.T) {
	ctx := context.Background()
	flags := newMemFlags()

	c1 := newTestController(t, flags, "dev1")
	c1.OnIdentityChanged(ctx, "", "", false)
	c1.CompleteOnboarding(ctx)
	waitForPhase(t, c1, PhaseMain)

	// a fresh controller for the same device skips landing, even
	// with no identity present
	c2 := newTestController(t, flags, "dev1")
	c2.OnIdentityChanged(ctx, "", "", false)
	if got := c2.Phase(); got != PhaseMain {
		t.Errorf("cold-start Phase() = %q, want %q", got, PhaseMain)
	}

	// a different device still lands on landing
	c3 := newTestController(t, flags, "dev2")
	c3.OnIdentityChanged(ctx, "", "", false)
	if got := c3.Phase(); got != PhaseLanding {
		t.Errorf("other device Phase() = %q, want %q", got, PhaseLanding)
	}
}

func TestUnconfirmedIdentityForcesGateFromAnyPhase(t *testing.T) {
	ctx := context.Background()
	flags := newMemFlags()
	flags.Set(ctx, "device:dev1", keyOnboardingDone, "true")

	c := newTestController(t, flags, "dev1")
	c.OnIdentityChanged(ctx, "", "", false)
	if got := c.Phase(); got != PhaseMain {
		t.Fatalf("Phase() = %q, want %q", got, PhaseMain)
	}

	c.OnIdentityChanged(ctx, "user1", "Ada", false)
	if got := c.Phase(); got != PhaseVerifyEmail {
		t.Errorf("Phase() = %q, want %q", got, PhaseVerifyEmail)
	}

	// confirmation moves the device on to main
	c.OnIdentityChanged(ctx, "user1", "Ada", true)
	if got := c.Phase(); got != PhaseMain {
		t.Errorf("Phase() = %q, want %q", got, PhaseMain)
	}
}

func TestIdentityChangeDuringIntroDoesNotPreempt(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t, newMemFlags(), "dev1")
	c.delay = 50 * time.Millisecond
	c.OnIdentityChanged(ctx, "", "", false)

	c.CompleteOnboarding(ctx)

	// an unconfirmed sign-in lands mid-intro
	c.OnIdentityChanged(ctx, "user1", "Ada", false)
	if got := c.Phase(); got != PhaseIntro {
		t.Fatalf("identity change preempted the intro: phase = %q", got)
	}

	// but the timer's own check sees the latest identity
	waitForPhase(t, c, PhaseVerifyEmail)
}

func TestWelcomeNoticeFiresOncePerIdentity(t *testing.T) {
	ctx := context.Background()
	flags := newMemFlags()

	c := newTestController(t, flags, "dev1")
	c.OnIdentityChanged(ctx, "user1", "ada@example.com", true)

	n := c.ConsumeNotice()
	if n == nil {
		t.Fatal("expected a welcome notice on first confirmed sighting")
	}
	if n.Message != "Welcome, ada@example.com! Your email is confirmed." {
		t.Errorf("Message = %q", n.Message)
	}

	// consumed, and not re-queued by repeat reports
	if c.ConsumeNotice() != nil {
		t.Error("notice returned twice")
	}
	c.OnIdentityChanged(ctx, "user1", "ada@example.com", true)
	if c.ConsumeNotice() != nil {
		t.Error("notice fired again for the same identity")
	}

	// a new session for the same identity stays silent — the flag is
	// persisted per identity, not per session
	c2 := newTestController(t, flags, "dev1")
	c2.OnIdentityChanged(ctx, "user1", "ada@example.com", true)
	if c2.ConsumeNotice() != nil {
		t.Error("notice fired again in a later session")
	}
}

func TestCloseCancelsIntroTimer(t *testing.T) {
	ctx := context.Background()
	c := newTestController(t, newMemFlags(), "dev1")
	c.OnIdentityChanged(ctx, "", "", false)

	c.CompleteOnboarding(ctx)
	c.Close()

	time.Sleep(30 * time.Millisecond)
	// the controller is closed; the timer must not have advanced it
	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()
	if phase != PhaseIntro {
		t.Errorf("phase mutated after Close(): %q", phase)
	}
}

func TestManagerReusesAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newMemFlags(), testLogger())
	defer m.Stop()

	c1 := m.Get(ctx, "dev1")
	c2 := m.Get(ctx, "dev1")
	if c1 != c2 {
		t.Fatal("Manager.Get returned different controllers for one device")
	}

	c1.OnIdentityChanged(ctx, "", "", false)
	m.Broadcast(ctx, "dev1", "user1", "Ada", false)
	if got := c1.Phase(); got != PhaseVerifyEmail {
		t.Errorf("Phase() after broadcast = %q, want %q", got, PhaseVerifyEmail)
	}

	// broadcast to an unknown device is a quiet no-op
	m.Broadcast(ctx, "devX", "user1", "Ada", false)
}
