package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/anfal/wificards/internal/apperror"
	"github.com/anfal/wificards/internal/model"
	"github.com/anfal/wificards/internal/repository"
)

// mockCardRepo is an in-memory repository.CardRepository. It stores
// copies, like the real one, and can be told to fail to simulate an
// outage.
type mockCardRepo struct {
	cards  map[string]*model.WifiCard
	nextID int

	listCalls int
	failList  bool
	failAll   bool
}

func newMockCardRepo() *mockCardRepo {
	return &mockCardRepo{cards: make(map[string]*model.WifiCard)}
}

var _ repository.CardRepository = (*mockCardRepo)(nil)

var errMockDown = errors.New("mock repository down")

func (m *mockCardRepo) Create(_ context.Context, card *model.WifiCard) error {
	if m.failAll {
		return errMockDown
	}
	for _, c := range m.cards {
		if c.UserID == card.UserID && c.QRRef == card.QRRef {
			return apperror.Conflict("card", "identical QR code already saved")
		}
	}
	m.nextID++
	card.ID = fmt.Sprintf("card-%d", m.nextID)
	card.CreatedAt = time.Now()
	card.UpdatedAt = card.CreatedAt
	stored := *card
	m.cards[card.ID] = &stored
	return nil
}

func (m *mockCardRepo) GetByID(_ context.Context, id string) (*model.WifiCard, error) {
	c, ok := m.cards[id]
	if !ok {
		return nil, apperror.NotFound("card", id)
	}
	result := *c
	return &result, nil
}

func (m *mockCardRepo) ListByUser(_ context.Context, userID string) ([]model.WifiCard, error) {
	m.listCalls++
	if m.failList || m.failAll {
		return nil, errMockDown
	}
	var result []model.WifiCard
	for _, c := range m.cards {
		if c.UserID == userID {
			result = append(result, *c)
		}
	}
	// newest first, matching the real query's ORDER BY
	for i := 0; i < len(result); i++ {
		for j := i + 1; j < len(result); j++ {
			if result[j].CreatedAt.After(result[i].CreatedAt) {
				result[i], result[j] = result[j], result[i]
			}
		}
	}
	return result, nil
}

func (m *mockCardRepo) Update(_ context.Context, userID, id string, patch model.CardPatch) (*model.WifiCard, error) {
	if m.failAll {
		return nil, errMockDown
	}
	c, ok := m.cards[id]
	if !ok || c.UserID != userID {
		return nil, apperror.NotFound("card", id)
	}
	if patch.Title != nil {
		c.Title = *patch.Title
	}
	if patch.SSID != nil {
		c.SSID = *patch.SSID
	}
	if patch.Password != nil {
		c.Password = *patch.Password
	}
	if patch.Security != nil {
		c.Security = *patch.Security
	}
	if patch.QRRef != nil {
		c.QRRef = *patch.QRRef
	}
	c.UpdatedAt = time.Now()
	result := *c
	return &result, nil
}

func (m *mockCardRepo) Delete(_ context.Context, userID, id string) error {
	if m.failAll {
		return errMockDown
	}
	if c, ok := m.cards[id]; ok && c.UserID == userID {
		delete(m.cards, id)
	}
	return nil
}

func (m *mockCardRepo) DeleteAllByUser(_ context.Context, userID string) error {
	if m.failAll {
		return errMockDown
	}
	for id, c := range m.cards {
		if c.UserID == userID {
			delete(m.cards, id)
		}
	}
	return nil
}

func (m *mockCardRepo) CountByUser(_ context.Context, userID string) (int, error) {
	n := 0
	for _, c := range m.cards {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}

// stubEncoder produces a distinct, deterministic ref per payload
// without pulling image encoding into service tests.
type stubEncoder struct{}

func (stubEncoder) Encode(payload string) (string, error) {
	if payload == "" {
		return "", errors.New("empty payload")
	}
	return "data:stub," + payload, nil
}

func newTestCardService(t *testing.T) (*CardService, *mockCardRepo) {
	t.Helper()
	repo := newMockCardRepo()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCardService(repo, stubEncoder{}, logger), repo
}

// compose is a test shorthand for a valid card.
func compose(t *testing.T, svc *CardService, title, ssid string) *model.WifiCard {
	t.Helper()
	card, err := svc.Compose(title, ssid, "secret123", "WPA")
	if err != nil {
		t.Fatalf("Compose(%q, %q) failed: %v", title, ssid, err)
	}
	return card
}

func TestComposeBuildsCompleteCard(t *testing.T) {
	svc, _ := newTestCardService(t)

	card, err := svc.Compose("  Home  ", "MyNetwork", "password123", "wpa2")
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}
	if card.Title != "Home" {
		t.Errorf("Title = %q, want trimmed %q", card.Title, "Home")
	}
	if card.Security != "WPA" {
		t.Errorf("Security = %q, want normalized %q", card.Security, "WPA")
	}
	if card.QRRef != "data:stub,WIFI:T:WPA;S:MyNetwork;P:password123;;" {
		t.Errorf("QRRef = %q", card.QRRef)
	}
	if !card.Complete() {
		t.Error("composed card is not complete")
	}
}

func TestComposeValidation(t *testing.T) {
	svc, _ := newTestCardService(t)

	tests := []struct {
		name     string
		title    string
		ssid     string
		password string
		security string
	}{
		{"missing title", "", "net", "pw", "WPA"},
		{"missing ssid", "Home", "", "pw", "WPA"},
		{"bad security", "Home", "net", "pw", "ROT13"},
		{"secured without password", "Home", "net", "", "WPA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Compose(tt.title, tt.ssid, tt.password, tt.security)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Errorf("Compose() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestCreateRejectionOrder(t *testing.T) {
	svc, _ := newTestCardService(t)
	ctx := context.Background()
	card := compose(t, svc, "Home", "net")

	if _, err := svc.Create(ctx, "", true, card); !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("anonymous create error = %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Create(ctx, "user1", false, card); !errors.Is(err, apperror.ErrUnconfirmed) {
		t.Errorf("unconfirmed create error = %v, want ErrUnconfirmed", err)
	}
	if _, err := svc.Create(ctx, "user1", true, &model.WifiCard{SSID: "net"}); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("incomplete create error = %v, want ErrValidation", err)
	}
}

func TestCreateAndFetchRoundTrip(t *testing.T) {
	svc, _ := newTestCardService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "user1", true, compose(t, svc, "Home", "net"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == "" {
		t.Error("created card has no ID")
	}

	cards, err := svc.Fetch(ctx, "user1")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(cards) != 1 || cards[0].ID != created.ID {
		t.Errorf("Fetch = %+v, want the created card", cards)
	}
}

func TestCreateDuplicateLeavesListUnchanged(t *testing.T) {
	svc, _ := newTestCardService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "user1", true, compose(t, svc, "Home", "net")); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}

	// identical network details encode to the identical QR ref
	_, err := svc.Create(ctx, "user1", true, compose(t, svc, "Home again", "net"))
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("duplicate Create error = %v, want ErrConflict", err)
	}

	n, err := svc.Count(ctx, "user1")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d after rejected duplicate, want 1", n)
	}
}

func TestCreateEnforcesCardLimit(t *testing.T) {
	svc, _ := newTestCardService(t)
	ctx := context.Background()

	for i := 0; i < MaxCards; i++ {
		card := compose(t, svc, "Card", fmt.Sprintf("net-%d", i))
		if _, err := svc.Create(ctx, "user1", true, card); err != nil {
			t.Fatalf("Create #%d failed: %v", i+1, err)
		}
	}

	_, err := svc.Create(ctx, "user1", true, compose(t, svc, "One too many", "net-overflow"))
	if !errors.Is(err, apperror.ErrCapacity) {
		t.Fatalf("create past the limit error = %v, want ErrCapacity", err)
	}

	n, _ := svc.Count(ctx, "user1")
	if n != MaxCards {
		t.Errorf("Count = %d, want %d", n, MaxCards)
	}

	// the limit is per user, not global
	if _, err := svc.Create(ctx, "user2", true, compose(t, svc, "Home", "other")); err != nil {
		t.Errorf("other user's Create failed: %v", err)
	}
}

func TestFetchHitsRepositoryOnce(t *testing.T) {
	svc, repo := newTestCardService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Fetch(ctx, "user1"); err != nil {
			t.Fatalf("Fetch #%d failed: %v", i+1, err)
		}
	}
	if repo.listCalls != 1 {
		t.Errorf("repository listed %d times, want 1", repo.listCalls)
	}

	// mutations update the cache in place, still no refetch
	if _, err := svc.Create(ctx, "user1", true, compose(t, svc, "Home", "net")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.Fetch(ctx, "user1"); err != nil {
		t.Fatalf("Fetch after create failed: %v", err)
	}
	if repo.listCalls != 1 {
		t.Errorf("repository listed %d times after mutation, want 1", repo.listCalls)
	}

	// sign-out invalidates, next session fetches fresh
	svc.Invalidate("user1")
	if _, err := svc.Fetch(ctx, "user1"); err != nil {
		t.Fatalf("Fetch after invalidate failed: %v", err)
	}
	if repo.listCalls != 2 {
		t.Errorf("repository listed %d times after invalidate, want 2", repo.listCalls)
	}
}

func TestFetchServesStaleOnRepositoryFailure(t *testing.T) {
	svc, repo := newTestCardService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "user1", true, compose(t, svc, "Home", "net")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.Fetch(ctx, "user1"); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	svc.Invalidate("user1")
	repo.failList = true

	// no cache after invalidation: the failure surfaces
	if _, err := svc.Fetch(ctx, "user1"); !errors.Is(err, apperror.ErrUnavailable) {
		t.Fatalf("Fetch with no cache error = %v, want ErrUnavailable", err)
	}

	// with a cached list, the stale copy is served instead
	repo.failList = false
	if _, err := svc.Fetch(ctx, "user1"); err != nil {
		t.Fatalf("recovery Fetch failed: %v", err)
	}
	repo.failList = true
	cards, err := svc.Fetch(ctx, "user1")
	if err != nil {
		t.Fatalf("stale Fetch failed: %v", err)
	}
	if len(cards) != 1 {
		t.Errorf("stale Fetch returned %d cards, want 1", len(cards))
	}
}

func TestCreatePrependsNewestFirst(t *testing.T) {
	svc, _ := newTestCardService(t)
	ctx := context.Background()

	first, _ := svc.Create(ctx, "user1", true, compose(t, svc, "First", "net-a"))
	second, _ := svc.Create(ctx, "user1", true, compose(t, svc, "Second", "net-b"))

	cards, err := svc.Fetch(ctx, "user1")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(cards) != 2 || cards[0].ID != second.ID || cards[1].ID != first.ID {
		t.Errorf("order = [%s %s], want newest first [%s %s]",
			cards[0].ID, cards[1].ID, second.ID, first.ID)
	}

	latest, err := svc.Latest(ctx, "user1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest == nil || latest.ID != second.ID {
		t.Errorf("Latest = %+v, want the second card", latest)
	}
}

func TestUpdateRegeneratesQROnNetworkChange(t *testing.T) {
	svc, _ := newTestCardService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "user1", true, compose(t, svc, "Home", "net"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	newSSID := "renamed"
	updated, err := svc.Update(ctx, "user1", created.ID, model.CardPatch{SSID: &newSSID})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.SSID != "renamed" {
		t.Errorf("SSID = %q, want %q", updated.SSID, "renamed")
	}
	if updated.QRRef == created.QRRef {
		t.Error("QR ref unchanged after the network name changed")
	}
	if updated.QRRef != "data:stub,WIFI:T:WPA;S:renamed;P:secret123;;" {
		t.Errorf("QRRef = %q", updated.QRRef)
	}

	// a title-only patch leaves the QR alone
	newTitle := "Home v2"
	updated2, err := svc.Update(ctx, "user1", created.ID, model.CardPatch{Title: &newTitle})
	if err != nil {
		t.Fatalf("title Update failed: %v", err)
	}
	if updated2.QRRef != updated.QRRef {
		t.Error("QR ref changed on a title-only patch")
	}

	// the cache entry was replaced with the stored record
	cards, _ := svc.Fetch(ctx, "user1")
	if cards[0].Title != "Home v2" || cards[0].SSID != "renamed" {
		t.Errorf("cached card = %+v, want the updated record", cards[0])
	}
}

func TestUpdateErrors(t *testing.T) {
	svc, _ := newTestCardService(t)
	ctx := context.Background()
	title := "X"

	if _, err := svc.Update(ctx, "user1", "nope", model.CardPatch{Title: &title}); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("missing id error = %v, want ErrNotFound", err)
	}
	created, _ := svc.Create(ctx, "user1", true, compose(t, svc, "Home", "net"))
	if _, err := svc.Update(ctx, "user1", created.ID, model.CardPatch{}); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("empty patch error = %v, want ErrValidation", err)
	}
	// another user cannot touch the card
	if _, err := svc.Update(ctx, "user2", created.ID, model.CardPatch{Title: &title}); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("cross-user update error = %v, want ErrNotFound", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	svc, _ := newTestCardService(t)
	ctx := context.Background()

	created, _ := svc.Create(ctx, "user1", true, compose(t, svc, "Home", "net"))

	if err := svc.Delete(ctx, "user1", created.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := svc.Delete(ctx, "user1", created.ID); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}

	n, _ := svc.Count(ctx, "user1")
	if n != 0 {
		t.Errorf("Count = %d after delete, want 0", n)
	}
}

func TestDeleteAll(t *testing.T) {
	svc, _ := newTestCardService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		svc.Create(ctx, "user1", true, compose(t, svc, "Card", fmt.Sprintf("net-%d", i)))
	}
	svc.Create(ctx, "user2", true, compose(t, svc, "Other", "net-x"))

	if err := svc.DeleteAll(ctx, "user1"); err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}
	n, _ := svc.Count(ctx, "user1")
	if n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}

	// scoped to the one user
	n, _ = svc.Count(ctx, "user2")
	if n != 1 {
		t.Errorf("other user's Count = %d, want 1", n)
	}

	// freeing slots reopens creation
	if _, err := svc.Create(ctx, "user1", true, compose(t, svc, "Home", "net-0")); err != nil {
		t.Errorf("Create after DeleteAll failed: %v", err)
	}
}

func TestLatestWithNoCards(t *testing.T) {
	svc, _ := newTestCardService(t)

	latest, err := svc.Latest(context.Background(), "user1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest != nil {
		t.Errorf("Latest = %+v, want nil", latest)
	}
}
