package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/realtime"
	apperrors "github.com/parleyhq/parley/pkg/errors"
	"github.com/parleyhq/parley/pkg/metrics"
)

// InitiateCallParams carries the payload for a new call.
type InitiateCallParams struct {
	ChatID        string
	InitiatorID   string
	RecipientID   string
	CallType      string
	InitiatorName string
	RecipientName string
}

// RecordingMeta is optional recording metadata attached when a call ends.
type RecordingMeta struct {
	URL             string    `json:"url"`
	DurationSeconds int       `json:"durationSeconds,omitempty"`
	SavedAt         time.Time `json:"savedAt,omitempty"`
}

// CallAnsweredPayload mirrors the callAnswered event body.
type CallAnsweredPayload struct {
	CallID string `json:"callId"`
	ChatID string `json:"chatId"`
}

// CallEndedPayload mirrors the callEnded event body.
type CallEndedPayload struct {
	CallID string `json:"callId"`
	Status string `json:"status"`
}

// CallService drives the call signaling state machine:
// initiated -> ringing -> connected -> completed, with declined and missed
// as the non-answer exits. Terminal states are written once; racing retries
// and double hang-ups observe a no-op.
type CallService struct {
	db      *gorm.DB
	hub     *realtime.Hub
	chats   *ChatService
	timeNow func() time.Time
}

// NewCallService constructs a CallService. The hub may be nil in tests that
// only exercise the state machine.
func NewCallService(db *gorm.DB, chats *ChatService, hub *realtime.Hub) (*CallService, error) {
	if db == nil {
		return nil, errors.New("call service: db is required")
	}
	if chats == nil {
		return nil, errors.New("call service: chat service is required")
	}
	return &CallService{db: db, hub: hub, chats: chats, timeNow: time.Now}, nil
}

// Initiate creates a call session and rings the recipient. When no explicit
// recipient is given, the peer is resolved from the chat's two participants;
// a chat without a resolvable peer rejects the call.
func (s *CallService) Initiate(ctx context.Context, params InitiateCallParams) (*models.CallSession, error) {
	ctx = ensureContext(ctx)

	params.ChatID = strings.TrimSpace(params.ChatID)
	params.InitiatorID = strings.TrimSpace(params.InitiatorID)
	params.RecipientID = strings.TrimSpace(params.RecipientID)
	if params.ChatID == "" || params.InitiatorID == "" {
		return nil, apperrors.NewBadRequest("chat id and initiator id are required")
	}

	member, err := s.chats.IsParticipant(ctx, params.ChatID, params.InitiatorID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, apperrors.ErrNotParticipant
	}

	if params.RecipientID == "" {
		peer, err := s.chats.OtherParticipant(ctx, params.ChatID, params.InitiatorID)
		if err != nil {
			return nil, err
		}
		params.RecipientID = peer
	}
	if params.RecipientID == "" || params.RecipientID == params.InitiatorID {
		return nil, apperrors.ErrRecipientRequired
	}

	callType := strings.TrimSpace(params.CallType)
	switch callType {
	case "":
		callType = models.CallTypeAudio
	case models.CallTypeAudio, models.CallTypeVideo:
	default:
		return nil, apperrors.NewBadRequest("call type must be audio or video")
	}

	now := s.timeNow().UTC()
	call := models.CallSession{
		ChatID:        params.ChatID,
		InitiatorID:   params.InitiatorID,
		RecipientID:   params.RecipientID,
		InitiatorName: strings.TrimSpace(params.InitiatorName),
		RecipientName: strings.TrimSpace(params.RecipientName),
		CallType:      callType,
		Status:        models.CallStatusInitiated,
		StartedAt:     now,
	}

	if err := s.db.WithContext(ctx).Create(&call).Error; err != nil {
		return nil, fmt.Errorf("call service: create call: %w", err)
	}

	// The session is durable; move straight to ringing before fan-out so a
	// crash between the writes leaves a sweepable initiated row at worst.
	result := s.db.WithContext(ctx).
		Model(&models.CallSession{}).
		Where("id = ? AND status = ?", call.ID, models.CallStatusInitiated).
		Update("status", models.CallStatusRinging)
	if result.Error != nil {
		return nil, fmt.Errorf("call service: ring call: %w", result.Error)
	}
	call.Status = models.CallStatusRinging

	// The payload names the recipient explicitly; every room subscriber
	// receives the event and non-recipients ignore it client-side.
	s.broadcastRoom(call.ChatID, realtime.EventCallInitiated, call)
	return &call, nil
}

// Answer moves a ringing call to connected. Only the named recipient may
// answer. Answering an already-connected or finished call changes nothing.
func (s *CallService) Answer(ctx context.Context, callID, userID string) (*models.CallSession, error) {
	ctx = ensureContext(ctx)

	call, err := s.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) != call.RecipientID {
		return nil, apperrors.ErrForbidden
	}
	if call.Status == models.CallStatusConnected || call.IsTerminal() {
		return call, nil
	}

	result := s.db.WithContext(ctx).
		Model(&models.CallSession{}).
		Where("id = ? AND status IN ?", call.ID, []string{models.CallStatusInitiated, models.CallStatusRinging}).
		Update("status", models.CallStatusConnected)
	if result.Error != nil {
		return nil, fmt.Errorf("call service: answer call: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return s.Get(ctx, callID)
	}
	call.Status = models.CallStatusConnected

	s.sendToUser(call.InitiatorID, call.ChatID, realtime.EventCallAnswered, CallAnsweredPayload{
		CallID: call.ID,
		ChatID: call.ChatID,
	})
	return call, nil
}

// Decline rejects a call that has not connected yet. Only the recipient may
// decline; once the call is connected the only exit is End.
func (s *CallService) Decline(ctx context.Context, callID, userID string) (*models.CallSession, error) {
	ctx = ensureContext(ctx)

	call, err := s.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) != call.RecipientID {
		return nil, apperrors.ErrForbidden
	}
	if call.IsTerminal() {
		return call, nil
	}
	if call.Status == models.CallStatusConnected {
		return nil, apperrors.ErrCallConnected
	}

	return s.finishPreAnswer(ctx, call, models.CallStatusDeclined, call.InitiatorID)
}

// End terminates the call. Either party may end. A connected call completes
// with its duration computed exactly once, end time minus the initiate time;
// ending before the recipient answers cancels the call as declined. Ending a
// call that is already finished returns it unchanged.
func (s *CallService) End(ctx context.Context, callID, userID string, recording *RecordingMeta) (*models.CallSession, error) {
	ctx = ensureContext(ctx)

	call, err := s.Get(ctx, callID)
	if err != nil {
		return nil, err
	}

	userID = strings.TrimSpace(userID)
	if userID != call.InitiatorID && userID != call.RecipientID {
		return nil, apperrors.ErrForbidden
	}
	if call.IsTerminal() {
		return call, nil
	}

	if call.Status != models.CallStatusConnected {
		other := call.RecipientID
		if userID == call.RecipientID {
			other = call.InitiatorID
		}
		return s.finishPreAnswer(ctx, call, models.CallStatusDeclined, other)
	}

	now := s.timeNow().UTC()
	duration := int(now.Sub(call.StartedAt).Seconds())
	if duration < 0 {
		duration = 0
	}

	updates := map[string]any{
		"status":           models.CallStatusCompleted,
		"ended_at":         now,
		"duration_seconds": duration,
	}
	if recording != nil {
		encoded, err := json.Marshal(recording)
		if err != nil {
			return nil, fmt.Errorf("call service: encode recording: %w", err)
		}
		updates["recording"] = datatypes.JSON(encoded)
	}

	result := s.db.WithContext(ctx).
		Model(&models.CallSession{}).
		Where("id = ? AND status = ?", call.ID, models.CallStatusConnected).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("call service: end call: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// The other party finished first; their write stands.
		return s.Get(ctx, callID)
	}

	call.Status = models.CallStatusCompleted
	call.EndedAt = &now
	call.DurationSeconds = duration
	if encoded, ok := updates["recording"].(datatypes.JSON); ok {
		call.Recording = encoded
	}

	metrics.CallOutcomes.WithLabelValues(models.CallStatusCompleted).Inc()

	other := call.RecipientID
	if userID == call.RecipientID {
		other = call.InitiatorID
	}
	s.sendToUser(other, call.ChatID, realtime.EventCallEnded, CallEndedPayload{
		CallID: call.ID,
		Status: call.Status,
	})
	return call, nil
}

// finishPreAnswer settles a call that never connected. The guarded update
// keeps the write single-shot under races with Answer and the sweeper.
func (s *CallService) finishPreAnswer(ctx context.Context, call *models.CallSession, status, notifyUserID string) (*models.CallSession, error) {
	now := s.timeNow().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.CallSession{}).
		Where("id = ? AND status IN ?", call.ID, []string{models.CallStatusInitiated, models.CallStatusRinging}).
		Updates(map[string]any{
			"status":   status,
			"ended_at": now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("call service: finish call: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return s.Get(ctx, call.ID)
	}

	call.Status = status
	call.EndedAt = &now

	metrics.CallOutcomes.WithLabelValues(status).Inc()
	s.sendToUser(notifyUserID, call.ChatID, realtime.EventCallEnded, CallEndedPayload{
		CallID: call.ID,
		Status: status,
	})
	return call, nil
}

// ExpireUnanswered marks calls still ringing past the timeout as missed and
// notifies both parties. Returns the number of calls settled.
func (s *CallService) ExpireUnanswered(ctx context.Context, olderThan time.Duration) (int, error) {
	ctx = ensureContext(ctx)
	if olderThan <= 0 {
		return 0, errors.New("call service: timeout must be positive")
	}

	cutoff := s.timeNow().UTC().Add(-olderThan)

	var stale []models.CallSession
	err := s.db.WithContext(ctx).
		Where("status IN ? AND started_at < ?", []string{models.CallStatusInitiated, models.CallStatusRinging}, cutoff).
		Find(&stale).Error
	if err != nil {
		return 0, fmt.Errorf("call service: list stale calls: %w", err)
	}

	expired := 0
	now := s.timeNow().UTC()
	for i := range stale {
		call := &stale[i]
		result := s.db.WithContext(ctx).
			Model(&models.CallSession{}).
			Where("id = ? AND status IN ?", call.ID, []string{models.CallStatusInitiated, models.CallStatusRinging}).
			Updates(map[string]any{
				"status":   models.CallStatusMissed,
				"ended_at": now,
			})
		if result.Error != nil {
			return expired, fmt.Errorf("call service: expire call: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			continue
		}

		expired++
		metrics.CallOutcomes.WithLabelValues(models.CallStatusMissed).Inc()

		payload := CallEndedPayload{CallID: call.ID, Status: models.CallStatusMissed}
		s.sendToUser(call.InitiatorID, call.ChatID, realtime.EventCallEnded, payload)
		s.sendToUser(call.RecipientID, call.ChatID, realtime.EventCallEnded, payload)
	}
	return expired, nil
}

// Get loads a call session by id.
func (s *CallService) Get(ctx context.Context, callID string) (*models.CallSession, error) {
	ctx = ensureContext(ctx)
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return nil, apperrors.NewBadRequest("call id is required")
	}

	var call models.CallSession
	if err := s.db.WithContext(ctx).Take(&call, "id = ?", callID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("call service: load call: %w", err)
	}
	return &call, nil
}

// ListForChat returns recent call sessions for a chat, newest first.
func (s *CallService) ListForChat(ctx context.Context, chatID string, limit int) ([]models.CallSession, error) {
	ctx = ensureContext(ctx)
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, apperrors.NewBadRequest("chat id is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var calls []models.CallSession
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("started_at DESC").
		Limit(limit).
		Find(&calls).Error
	if err != nil {
		return nil, fmt.Errorf("call service: list calls: %w", err)
	}
	return calls, nil
}

func (s *CallService) broadcastRoom(chatID, event string, data any) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastRoom(chatID, realtime.Message{Event: event, Data: data})
}

func (s *CallService) sendToUser(userID, chatID, event string, data any) {
	if s.hub == nil {
		return
	}
	s.hub.SendToUser(userID, realtime.Message{ChatID: chatID, Event: event, Data: data})
}
