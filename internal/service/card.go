// Package service contains the business logic layer of the application.
//
// Handlers parse HTTP and write responses, services enforce the rules,
// repositories talk to the database. Services accept primitives and
// domain types, never *http.Request, and return domain errors from the
// apperror package for the handler layer to translate.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/anfal/wificards/internal/apperror"
	"github.com/anfal/wificards/internal/model"
	"github.com/anfal/wificards/internal/qr"
	"github.com/anfal/wificards/internal/repository"
	"github.com/anfal/wificards/internal/wifi"
)

const (
	// MaxCards is the hard per-user ceiling on saved cards. The 11th
	// create is rejected no matter what the client claims.
	MaxCards = 10

	MaxTitleLength = 100
)

// fetchState tags the per-user cache so a session never lists from the
// repository more than once and concurrent fetches cannot stampede.
type fetchState int

const (
	notFetched fetchState = iota
	fetching
	fetched
)

// cardCache holds one user's saved cards, newest first. Its mutex is
// also the per-user mutation lock: capacity and duplicate checks run
// under it, so two concurrent creates cannot both pass the checks and
// overshoot the limit.
type cardCache struct {
	mu    sync.Mutex
	state fetchState
	cards []model.WifiCard
}

// CardService manages saved WiFi cards: composing the QR image from
// network details, enforcing the per-user limit and duplicate rule,
// and keeping an in-memory per-user view in sync with storage.
type CardService struct {
	repo    repository.CardRepository
	encoder qr.Encoder
	logger  *slog.Logger

	mu     sync.Mutex
	caches map[string]*cardCache
}

// NewCardService creates a CardService.
func NewCardService(repo repository.CardRepository, encoder qr.Encoder, logger *slog.Logger) *CardService {
	return &CardService{
		repo:    repo,
		encoder: encoder,
		logger:  logger,
		caches:  make(map[string]*cardCache),
	}
}

func (s *CardService) cacheFor(userID string) *cardCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[userID]
	if !ok {
		c = &cardCache{}
		s.caches[userID] = c
	}
	return c
}

// Compose validates the network details and builds an unsaved card,
// QR image included. Used both by card creation and by the preview
// endpoint, which encodes without saving.
func (s *CardService) Compose(title, ssid, password, security string) (*model.WifiCard, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, apperror.ValidationFailed("title", "card title is required")
	}
	if len(title) > MaxTitleLength {
		return nil, apperror.ValidationFailed("title",
			fmt.Sprintf("card title must be %d characters or less", MaxTitleLength))
	}

	ssid = strings.TrimSpace(ssid)
	sec, err := wifi.NormalizeSecurity(security)
	if err != nil {
		return nil, err
	}
	payload, err := wifi.JoinString(ssid, password, sec)
	if err != nil {
		return nil, err
	}
	ref, err := s.encoder.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding QR image: %w", err)
	}

	return &model.WifiCard{
		Title:    title,
		SSID:     ssid,
		Password: password,
		Security: sec,
		QRRef:    ref,
	}, nil
}

// Create saves a composed card for the user. The checks run in a fixed
// order, each one only after the previous passed: signed in, email
// confirmed, card complete, not a duplicate, under the limit. The
// duplicate and capacity checks read the cached list under the user's
// mutation lock, so they see every earlier create of this session.
func (s *CardService) Create(ctx context.Context, userID string, confirmed bool, card *model.WifiCard) (*model.WifiCard, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("sign in to save cards")
	}
	if !confirmed {
		return nil, apperror.Unconfirmed("confirm your email address to save cards")
	}
	if card == nil || !card.Complete() {
		return nil, apperror.ValidationFailed("card", "card must have a title and a QR code")
	}

	c := s.cacheFor(userID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := s.ensureFetchedLocked(ctx, userID, c); err != nil {
		return nil, err
	}

	for i := range c.cards {
		if c.cards[i].QRRef == card.QRRef {
			return nil, apperror.Conflict("card", "identical QR code already saved")
		}
	}
	if len(c.cards) >= MaxCards {
		return nil, apperror.CapacityExceeded(MaxCards)
	}

	card.UserID = userID
	if err := s.repo.Create(ctx, card); err != nil {
		s.logger.Error("failed to create card",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	// Prepend: the list stays newest-first without a refetch.
	c.cards = append([]model.WifiCard{*card}, c.cards...)

	s.logger.Info("card created",
		slog.String("id", card.ID),
		slog.String("userID", userID),
		slog.Int("total", len(c.cards)),
	)
	return card, nil
}

// Fetch returns the user's saved cards, newest first. The repository
// is consulted at most once per session; afterwards mutations keep the
// cache current and Fetch serves from memory. If the repository fails
// while a previously fetched list is still cached, the stale list is
// served rather than an error.
func (s *CardService) Fetch(ctx context.Context, userID string) ([]model.WifiCard, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("sign in to list cards")
	}

	c := s.cacheFor(userID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := s.ensureFetchedLocked(ctx, userID, c); err != nil {
		if c.cards != nil {
			s.logger.Warn("serving stale card list after fetch failure",
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
			return copyCards(c.cards), nil
		}
		return nil, err
	}
	return copyCards(c.cards), nil
}

// ensureFetchedLocked loads the list from the repository unless the
// cache is already current. Callers hold c.mu, which is what makes a
// concurrent fetch for the same user wait and then hit the cache.
func (s *CardService) ensureFetchedLocked(ctx context.Context, userID string, c *cardCache) error {
	if c.state == fetched {
		return nil
	}

	c.state = fetching
	cards, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		c.state = notFetched
		s.logger.Error("failed to list cards",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return apperror.Unavailable(err)
	}

	c.cards = cards
	c.state = fetched
	return nil
}

// Update applies a field patch to one of the user's cards. When any
// network field changes, the QR image is recomputed from the merged
// fields so the stored image always matches the stored details. The
// repository's canonical record replaces the cache entry wholesale.
func (s *CardService) Update(ctx context.Context, userID, id string, patch model.CardPatch) (*model.WifiCard, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("sign in to edit cards")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "card ID is required")
	}
	if patch.Empty() {
		return nil, apperror.ValidationFailed("patch", "no fields to update")
	}

	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, apperror.ValidationFailed("title", "card title is required")
		}
		if len(title) > MaxTitleLength {
			return nil, apperror.ValidationFailed("title",
				fmt.Sprintf("card title must be %d characters or less", MaxTitleLength))
		}
		patch.Title = &title
	}
	if patch.Security != nil {
		sec, err := wifi.NormalizeSecurity(*patch.Security)
		if err != nil {
			return nil, err
		}
		patch.Security = &sec
	}

	c := s.cacheFor(userID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := s.ensureFetchedLocked(ctx, userID, c); err != nil {
		return nil, err
	}

	idx := -1
	for i := range c.cards {
		if c.cards[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, apperror.NotFound("card", id)
	}

	if patch.SSID != nil || patch.Password != nil || patch.Security != nil {
		current := c.cards[idx]
		ssid, password, security := current.SSID, current.Password, current.Security
		if patch.SSID != nil {
			ssid = *patch.SSID
		}
		if patch.Password != nil {
			password = *patch.Password
		}
		if patch.Security != nil {
			security = *patch.Security
		}

		payload, err := wifi.JoinString(ssid, password, security)
		if err != nil {
			return nil, err
		}
		ref, err := s.encoder.Encode(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding QR image: %w", err)
		}
		patch.QRRef = &ref
	}

	stored, err := s.repo.Update(ctx, userID, id, patch)
	if err != nil {
		return nil, err
	}

	c.cards[idx] = *stored
	return stored, nil
}

// Delete removes one card. Deleting a card that is already gone is a
// success, so a retried delete never surfaces an error.
func (s *CardService) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return apperror.Unauthorized("sign in to delete cards")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return apperror.ValidationFailed("id", "card ID is required")
	}

	c := s.cacheFor(userID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return err
	}

	for i := range c.cards {
		if c.cards[i].ID == id {
			c.cards = append(c.cards[:i], c.cards[i+1:]...)
			break
		}
	}
	return nil
}

// DeleteAll removes every card the user has saved.
func (s *CardService) DeleteAll(ctx context.Context, userID string) error {
	if userID == "" {
		return apperror.Unauthorized("sign in to delete cards")
	}

	c := s.cacheFor(userID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := s.repo.DeleteAllByUser(ctx, userID); err != nil {
		return err
	}

	c.cards = []model.WifiCard{}
	c.state = fetched
	return nil
}

// Latest returns the most recently created card, or nil when the user
// has none.
func (s *CardService) Latest(ctx context.Context, userID string) (*model.WifiCard, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("sign in to list cards")
	}

	c := s.cacheFor(userID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := s.ensureFetchedLocked(ctx, userID, c); err != nil {
		return nil, err
	}
	if len(c.cards) == 0 {
		return nil, nil
	}
	latest := c.cards[0]
	return &latest, nil
}

// Count returns how many cards the user has saved.
func (s *CardService) Count(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, apperror.Unauthorized("sign in to list cards")
	}

	c := s.cacheFor(userID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := s.ensureFetchedLocked(ctx, userID, c); err != nil {
		return 0, err
	}
	return len(c.cards), nil
}

// Invalidate drops the user's cached list. Called on sign-out so the
// next session fetches fresh.
func (s *CardService) Invalidate(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.caches, userID)
}

func copyCards(cards []model.WifiCard) []model.WifiCard {
	out := make([]model.WifiCard, len(cards))
	copy(out, cards)
	return out
}
