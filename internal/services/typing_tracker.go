package services

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/realtime"
)

const defaultTypingTTL = 5 * time.Second

// TypingPayload mirrors the user-typing event body.
type TypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// TypingTracker holds the ephemeral typing set per chat. State lives only in
// memory; a restart forgets everything and clients simply re-emit. Indicators
// fan out to everyone in the room except the typist.
type TypingTracker struct {
	mu      sync.Mutex
	entries map[string]map[string]time.Time

	hub     *realtime.Hub
	ttl     time.Duration
	timeNow func() time.Time
}

// TypingOption customises a TypingTracker.
type TypingOption func(*TypingTracker)

// WithTypingTTL overrides how long a start marker survives without a refresh.
func WithTypingTTL(ttl time.Duration) TypingOption {
	return func(t *TypingTracker) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithTypingClock overrides the tracker clock.
func WithTypingClock(now func() time.Time) TypingOption {
	return func(t *TypingTracker) {
		if now != nil {
			t.timeNow = now
		}
	}
}

// NewTypingTracker constructs a TypingTracker. The hub may be nil in tests
// that only exercise bookkeeping.
func NewTypingTracker(hub *realtime.Hub, opts ...TypingOption) *TypingTracker {
	tracker := &TypingTracker{
		entries: make(map[string]map[string]time.Time),
		hub:     hub,
		ttl:     defaultTypingTTL,
		timeNow: time.Now,
	}
	for _, opt := range opts {
		opt(tracker)
	}
	return tracker
}

// Start marks the user as typing in the chat and notifies the other room
// members. Repeated starts refresh the expiry without re-ordering anything.
func (t *TypingTracker) Start(chatID, userID string) {
	chatID = strings.TrimSpace(chatID)
	userID = strings.TrimSpace(userID)
	if chatID == "" || userID == "" {
		return
	}

	t.mu.Lock()
	if t.entries[chatID] == nil {
		t.entries[chatID] = make(map[string]time.Time)
	}
	t.entries[chatID][userID] = t.timeNow().Add(t.ttl)
	t.mu.Unlock()

	t.broadcast(chatID, userID, true)
}

// Stop clears the user's typing marker and notifies the room. Stopping when
// no marker exists is a no-op; no residue and no broadcast.
func (t *TypingTracker) Stop(chatID, userID string) {
	chatID = strings.TrimSpace(chatID)
	userID = strings.TrimSpace(userID)
	if chatID == "" || userID == "" {
		return
	}

	t.mu.Lock()
	removed := t.removeLocked(chatID, userID)
	t.mu.Unlock()

	if removed {
		t.broadcast(chatID, userID, false)
	}
}

// Clear drops the typing marker the way sending a message implicitly ends the
// typing gesture. Identical to Stop; kept separate so call sites read clearly.
func (t *TypingTracker) Clear(chatID, userID string) {
	t.Stop(chatID, userID)
}

// ActiveUsers returns the users currently marked typing in the chat, pruning
// markers that outlived the TTL. Result is sorted for stable assertions.
func (t *TypingTracker) ActiveUsers(chatID string) []string {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil
	}

	now := t.timeNow()

	t.mu.Lock()
	defer t.mu.Unlock()

	markers := t.entries[chatID]
	var active []string
	for userID, expiresAt := range markers {
		if now.After(expiresAt) {
			delete(markers, userID)
			continue
		}
		active = append(active, userID)
	}
	if len(markers) == 0 {
		delete(t.entries, chatID)
	}

	sort.Strings(active)
	return active
}

func (t *TypingTracker) removeLocked(chatID, userID string) bool {
	markers := t.entries[chatID]
	if _, exists := markers[userID]; !exists {
		return false
	}
	delete(markers, userID)
	if len(markers) == 0 {
		delete(t.entries, chatID)
	}
	return true
}

func (t *TypingTracker) broadcast(chatID, userID string, isTyping bool) {
	if t.hub == nil {
		return
	}
	t.hub.BroadcastRoomExcept(chatID, userID, realtime.Message{
		Event: realtime.EventUserTyping,
		Data:  TypingPayload{UserID: userID, IsTyping: isTyping},
	})
}
