package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/parleyhq/parley/internal/models"
	apperrors "github.com/parleyhq/parley/pkg/errors"
)

// ChatService answers participant questions for conversations. Membership is
// authoritative here; live room subscriptions are transient hub state.
type ChatService struct {
	db *gorm.DB
}

// NewChatService constructs a ChatService.
func NewChatService(db *gorm.DB) (*ChatService, error) {
	if db == nil {
		return nil, errors.New("chat service: db is required")
	}
	return &ChatService{db: db}, nil
}

// EnsureDirectChat returns the 1:1 chat between the two users, creating it with
// its deterministic id when absent. Both orderings of the pair resolve to the
// same chat.
func (s *ChatService) EnsureDirectChat(ctx context.Context, a, b string) (*models.Chat, error) {
	ctx = ensureContext(ctx)

	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return nil, apperrors.NewBadRequest("both participant ids are required")
	}
	if a == b {
		return nil, apperrors.NewBadRequest("cannot open a direct chat with yourself")
	}

	participants, err := json.Marshal(normaliseIDs([]string{a, b}))
	if err != nil {
		return nil, fmt.Errorf("chat service: encode participants: %w", err)
	}

	chat := models.Chat{
		BaseModel:      models.BaseModel{ID: models.DirectChatID(a, b)},
		Kind:           models.ChatKindDirect,
		ParticipantIDs: datatypes.JSON(participants),
	}

	err = s.db.WithContext(ctx).Create(&chat).Error
	if err != nil && !isUniqueConstraintError(err) {
		return nil, fmt.Errorf("chat service: create chat: %w", err)
	}
	if err != nil {
		// Lost the race; someone else created the same chat.
		return s.Get(ctx, chat.ID)
	}
	return &chat, nil
}

// Get loads a chat by id.
func (s *ChatService) Get(ctx context.Context, chatID string) (*models.Chat, error) {
	ctx = ensureContext(ctx)
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, apperrors.NewBadRequest("chat id is required")
	}

	var chat models.Chat
	if err := s.db.WithContext(ctx).Take(&chat, "id = ?", chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("chat service: load chat: %w", err)
	}
	return &chat, nil
}

// Participants returns the user ids belonging to the chat.
func (s *ChatService) Participants(ctx context.Context, chatID string) ([]string, error) {
	chat, err := s.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return decodeParticipants(chat.ParticipantIDs), nil
}

// IsParticipant reports whether the user belongs to the chat.
func (s *ChatService) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	participants, err := s.Participants(ctx, chatID)
	if err != nil {
		return false, err
	}
	return containsString(participants, userID), nil
}

// OtherParticipant resolves the peer of userID in a two-party chat. It returns
// an empty string when the chat has more or fewer than two participants, so
// callers can fail fast instead of guessing a recipient.
func (s *ChatService) OtherParticipant(ctx context.Context, chatID, userID string) (string, error) {
	participants, err := s.Participants(ctx, chatID)
	if err != nil {
		return "", err
	}
	if len(participants) != 2 {
		return "", nil
	}

	userID = strings.TrimSpace(userID)
	switch userID {
	case participants[0]:
		return participants[1], nil
	case participants[1]:
		return participants[0], nil
	default:
		return "", nil
	}
}

func decodeParticipants(data datatypes.JSON) []string {
	if len(data) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
