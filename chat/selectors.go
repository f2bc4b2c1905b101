package chat

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/KodaTao/chatweb/auth"
	"github.com/KodaTao/chatweb/model"
)

// Store 会话与消息的查询和写入
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// UserConversations 返回用户的全部会话，最近更新的在前
func (s *Store) UserConversations(ctx context.Context, p auth.Principal) ([]model.Conversation, error) {
	if p.IsAnonymous() {
		return nil, ErrAnonymous
	}

	var convs []model.Conversation
	err := s.db.WithContext(ctx).
		Select("id", "user_id", "title", "created_at", "updated_at").
		Where("user_id = ?", p.UserID).
		Order("updated_at DESC").Order("id DESC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// MostRecentConversation 返回最近更新的会话
func (s *Store) MostRecentConversation(ctx context.Context, p auth.Principal) (*model.Conversation, error) {
	if p.IsAnonymous() {
		return nil, ErrAnonymous
	}

	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", p.UserID).
		Order("updated_at DESC").Order("id DESC").
		First(&conv).Error
	if err != nil {
		return nil, notFound(err, "most recent conversation")
	}
	return &conv, nil
}

// ConversationFor 返回属于 p 的会话；不存在和不属于 p 都返回 ErrNotFound
func (s *Store) ConversationFor(ctx context.Context, p auth.Principal, id uint) (*model.Conversation, error) {
	if p.IsAnonymous() {
		return nil, ErrNotFound
	}

	var conv model.Conversation
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, p.UserID).First(&conv).Error
	if err != nil {
		return nil, notFound(err, "conversation")
	}
	return &conv, nil
}

// ConversationMessages 按创建时间升序返回消息
func (s *Store) ConversationMessages(ctx context.Context, conv *model.Conversation) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conv.ID).
		Order("created_at ASC").Order("id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// UserMessage 返回会话中的一条用户消息
func (s *Store) UserMessage(ctx context.Context, conv *model.Conversation, id uint) (*model.Message, error) {
	var msg model.Message
	err := s.db.WithContext(ctx).
		Where("id = ? AND conversation_id = ? AND role = ?", id, conv.ID, model.RoleUser).
		First(&msg).Error
	if err != nil {
		return nil, notFound(err, "message")
	}
	return &msg, nil
}

// AsHistory 将消息转换为生成后端使用的 (role, content) 序列
func AsHistory(msgs []model.Message) []model.Turn {
	turns := make([]model.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, model.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("load %s: %w", what, err)
}
