package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parleyhq/parley/internal/models"
	"github.com/parleyhq/parley/internal/realtime"
	apperrors "github.com/parleyhq/parley/pkg/errors"
	"github.com/parleyhq/parley/pkg/metrics"
)

// SendMessageParams carries the payload for a new message.
type SendMessageParams struct {
	ChatID   string
	SenderID string
	Text     string
	MediaURL string
	GifURL   string
	ReplyTo  string
}

// MessageEditedPayload mirrors the message-edited event body.
type MessageEditedPayload struct {
	MessageID string    `json:"messageId"`
	NewText   string    `json:"newText"`
	EditedAt  time.Time `json:"editedAt"`
}

// MessageDeletedPayload mirrors the message-deleted event body.
type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
}

// MessageReactionPayload mirrors the message-reaction event body.
type MessageReactionPayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
}

// MessageStatusPayload mirrors the message-status-update event body.
type MessageStatusPayload struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// MessageService owns the durable message lifecycle: creation, edit and
// delete mutations, reactions, and the monotonic delivery status.
type MessageService struct {
	db      *gorm.DB
	hub     *realtime.Hub
	chats   *ChatService
	typing  *TypingTracker
	timeNow func() time.Time
}

// NewMessageService constructs a MessageService. The hub and typing tracker
// are optional so storage behaviour can be tested in isolation.
func NewMessageService(db *gorm.DB, chats *ChatService, hub *realtime.Hub, typing *TypingTracker) (*MessageService, error) {
	if db == nil {
		return nil, errors.New("message service: db is required")
	}
	if chats == nil {
		return nil, errors.New("message service: chat service is required")
	}
	return &MessageService{
		db:      db,
		hub:     hub,
		chats:   chats,
		typing:  typing,
		timeNow: time.Now,
	}, nil
}

// Send validates, persists, and fans out a new message. At least one of text,
// media, or gif must be present. Sending also clears the sender's typing
// marker; composing ends when the message lands.
func (s *MessageService) Send(ctx context.Context, params SendMessageParams) (*models.Message, error) {
	ctx = ensureContext(ctx)

	params.ChatID = strings.TrimSpace(params.ChatID)
	params.SenderID = strings.TrimSpace(params.SenderID)
	params.Text = strings.TrimSpace(params.Text)
	if params.ChatID == "" || params.SenderID == "" {
		return nil, apperrors.NewBadRequest("chat id and sender id are required")
	}
	if params.Text == "" && strings.TrimSpace(params.MediaURL) == "" && strings.TrimSpace(params.GifURL) == "" {
		return nil, apperrors.ErrEmptyMessage
	}

	if err := s.requireParticipant(ctx, params.ChatID, params.SenderID); err != nil {
		return nil, err
	}

	now := s.timeNow().UTC()
	message := models.Message{
		ID:        newMessageID(now),
		CreatedAt: now,
		UpdatedAt: now,
		ChatID:    params.ChatID,
		SenderID:  params.SenderID,
		Text:      params.Text,
		MediaURL:  strings.TrimSpace(params.MediaURL),
		GifURL:    strings.TrimSpace(params.GifURL),
		ReplyToID: strings.TrimSpace(params.ReplyTo),
		Status:    models.MessageStatusSent,
		ReadBy:    datatypes.JSON([]byte("[]")),
		Reactions: datatypes.JSON([]byte("{}")),
	}

	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		return nil, fmt.Errorf("message service: create message: %w", err)
	}

	if s.typing != nil {
		s.typing.Clear(params.ChatID, params.SenderID)
	}

	metrics.MessagesSent.Inc()
	s.broadcast(params.ChatID, realtime.EventNewMessage, message)
	return &message, nil
}

// Edit replaces the message text. Only the sender may edit; a tombstoned
// message can no longer be edited.
func (s *MessageService) Edit(ctx context.Context, chatID, messageID, requesterID, newText string) (*models.Message, error) {
	ctx = ensureContext(ctx)

	newText = strings.TrimSpace(newText)
	if newText == "" {
		return nil, apperrors.NewBadRequest("new text is required")
	}

	message, err := s.load(ctx, chatID, messageID)
	if err != nil {
		return nil, err
	}
	if message.Deleted {
		return nil, apperrors.ErrNotFound
	}
	if message.SenderID != strings.TrimSpace(requesterID) {
		return nil, apperrors.ErrNotMessageOwner
	}

	now := s.timeNow().UTC()
	updates := map[string]any{
		"text":      newText,
		"edited":    true,
		"edited_at": now,
	}
	if err := s.db.WithContext(ctx).Model(message).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("message service: edit message: %w", err)
	}

	message.Text = newText
	message.Edited = true
	message.EditedAt = &now

	s.broadcast(message.ChatID, realtime.EventMessageEdited, MessageEditedPayload{
		MessageID: message.ID,
		NewText:   newText,
		EditedAt:  now,
	})
	return message, nil
}

// Delete tombstones the message. Only the sender may delete. Deleting an
// already-deleted message succeeds without a second broadcast.
func (s *MessageService) Delete(ctx context.Context, chatID, messageID, requesterID string) error {
	ctx = ensureContext(ctx)

	message, err := s.load(ctx, chatID, messageID)
	if err != nil {
		return err
	}
	if message.SenderID != strings.TrimSpace(requesterID) {
		return apperrors.ErrNotMessageOwner
	}
	if message.Deleted {
		return nil
	}

	now := s.timeNow().UTC()
	updates := map[string]any{
		"deleted":    true,
		"deleted_at": now,
	}
	if err := s.db.WithContext(ctx).Model(message).Updates(updates).Error; err != nil {
		return fmt.Errorf("message service: delete message: %w", err)
	}

	s.broadcast(message.ChatID, realtime.EventMessageDeleted, MessageDeletedPayload{MessageID: message.ID})
	return nil
}

// React records the user's reaction. Each user holds exactly one reaction
// slot per message; reacting again overwrites the previous emoji.
func (s *MessageService) React(ctx context.Context, chatID, messageID, userID, emoji string) (*models.Message, error) {
	ctx = ensureContext(ctx)

	emoji = strings.TrimSpace(emoji)
	userID = strings.TrimSpace(userID)
	if emoji == "" {
		return nil, apperrors.NewBadRequest("emoji is required")
	}
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}

	var message models.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&message, "id = ? AND chat_id = ?", strings.TrimSpace(messageID), strings.TrimSpace(chatID)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrNotFound
			}
			return err
		}
		if message.Deleted {
			return apperrors.ErrNotFound
		}

		reactions := decodeReactions(message.Reactions)
		reactions[userID] = emoji
		encoded, err := json.Marshal(reactions)
		if err != nil {
			return err
		}
		message.Reactions = datatypes.JSON(encoded)
		return tx.Model(&message).Update("reactions", message.Reactions).Error
	})
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("message service: react: %w", err)
	}

	s.broadcast(message.ChatID, realtime.EventMessageReaction, MessageReactionPayload{
		MessageID: message.ID,
		UserID:    userID,
		Emoji:     emoji,
	})
	return &message, nil
}

// MarkDelivered advances the message to delivered on behalf of a recipient.
// Senders cannot advance their own messages, and the status only moves
// forward; a late or repeated signal is silently absorbed.
func (s *MessageService) MarkDelivered(ctx context.Context, chatID, messageID, userID string) error {
	return s.advanceStatus(ctx, chatID, messageID, userID, models.MessageStatusDelivered)
}

// MarkRead advances the message to read and records the reader in the read
// set. Re-reading adds nothing; the read set holds each user once.
func (s *MessageService) MarkRead(ctx context.Context, chatID, messageID, userID string) error {
	return s.advanceStatus(ctx, chatID, messageID, userID, models.MessageStatusRead)
}

func (s *MessageService) advanceStatus(ctx context.Context, chatID, messageID, userID, target string) error {
	ctx = ensureContext(ctx)

	message, err := s.load(ctx, chatID, messageID)
	if err != nil {
		return err
	}

	userID = strings.TrimSpace(userID)
	if userID == "" || userID == message.SenderID {
		// A sender's own receipt carries no information; drop it.
		return nil
	}
	if err := s.requireParticipant(ctx, message.ChatID, userID); err != nil {
		return err
	}

	accepted := false
	if models.MessageStatusRank(target) > models.MessageStatusRank(message.Status) {
		// Compare-and-set guarded on the lower-ranked statuses so concurrent
		// receipts can never move the status backwards.
		result := s.db.WithContext(ctx).
			Model(&models.Message{}).
			Where("id = ? AND status IN ?", message.ID, lowerStatuses(target)).
			Update("status", target)
		if result.Error != nil {
			return fmt.Errorf("message service: advance status: %w", result.Error)
		}
		accepted = result.RowsAffected > 0
	}

	if target == models.MessageStatusRead {
		if err := s.recordReader(ctx, message.ID, userID); err != nil {
			return err
		}
	}

	if accepted {
		s.broadcast(message.ChatID, realtime.EventMessageStatusUpdate, MessageStatusPayload{
			MessageID: message.ID,
			Status:    target,
		})
	}
	return nil
}

func (s *MessageService) recordReader(ctx context.Context, messageID, userID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var message models.Message
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&message, "id = ?", messageID).Error; err != nil {
			return err
		}

		readers := decodeReaders(message.ReadBy)
		if containsString(readers, userID) {
			return nil
		}
		readers = append(readers, userID)

		encoded, err := json.Marshal(readers)
		if err != nil {
			return err
		}
		return tx.Model(&message).Update("read_by", datatypes.JSON(encoded)).Error
	})
	if err != nil {
		return fmt.Errorf("message service: record reader: %w", err)
	}
	return nil
}

// History returns messages for a chat, newest window first in the query but
// ascending in the result. Tombstoned rows are included; clients render the
// placeholder.
func (s *MessageService) History(ctx context.Context, chatID string, limit int, before time.Time) ([]models.Message, error) {
	ctx = ensureContext(ctx)
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, apperrors.NewBadRequest("chat id is required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC").
		Limit(limit)
	if !before.IsZero() {
		query = query.Where("created_at < ?", before.UTC())
	}

	var page []models.Message
	if err := query.Find(&page).Error; err != nil {
		return nil, fmt.Errorf("message service: load history: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

// Get loads one message by chat and id.
func (s *MessageService) Get(ctx context.Context, chatID, messageID string) (*models.Message, error) {
	return s.load(ensureContext(ctx), chatID, messageID)
}

func (s *MessageService) load(ctx context.Context, chatID, messageID string) (*models.Message, error) {
	chatID = strings.TrimSpace(chatID)
	messageID = strings.TrimSpace(messageID)
	if chatID == "" || messageID == "" {
		return nil, apperrors.NewBadRequest("chat id and message id are required")
	}

	var message models.Message
	if err := s.db.WithContext(ctx).Take(&message, "id = ? AND chat_id = ?", messageID, chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("message service: load message: %w", err)
	}
	return &message, nil
}

func (s *MessageService) requireParticipant(ctx context.Context, chatID, userID string) error {
	member, err := s.chats.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !member {
		return apperrors.ErrNotParticipant
	}
	return nil
}

func (s *MessageService) broadcast(chatID, event string, data any) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastRoom(chatID, realtime.Message{Event: event, Data: data})
}

func lowerStatuses(target string) []string {
	switch target {
	case models.MessageStatusDelivered:
		return []string{models.MessageStatusSent}
	case models.MessageStatusRead:
		return []string{models.MessageStatusSent, models.MessageStatusDelivered}
	default:
		return nil
	}
}

func decodeReactions(data datatypes.JSON) map[string]string {
	out := make(map[string]string)
	if len(data) > 0 {
		_ = json.Unmarshal(data, &out)
	}
	return out
}

func decodeReaders(data datatypes.JSON) []string {
	if len(data) == 0 {
		return nil
	}
	var out []string
	_ = json.Unmarshal(data, &out)
	return out
}

// newMessageID builds a push-style key: a millisecond timestamp prefix keeps
// ids sortable by send time within a chat, the uuid suffix keeps them unique.
func newMessageID(now time.Time) string {
	return fmt.Sprintf("%013d-%s", now.UnixMilli(), uuid.NewString()[:8])
}
