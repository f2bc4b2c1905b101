package chat

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/KodaTao/chatweb/auth"
	"github.com/KodaTao/chatweb/model"
)

const (
	titleMaxRunes = 80
	// PlaceholderTitle 首条消息去除空白后为空时使用的标题
	PlaceholderTitle = "New Conversation"
)

// CreateConversationFor 为用户创建一个空标题的会话
func (s *Store) CreateConversationFor(ctx context.Context, p auth.Principal) (*model.Conversation, error) {
	if p.IsAnonymous() {
		return nil, ErrAnonymous
	}

	conv := model.Conversation{UserID: p.UserID}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &conv, nil
}

// AddUserMessage 写入用户消息；标题为空时在同一事务里用消息内容生成标题
func (s *Store) AddUserMessage(ctx context.Context, conv *model.Conversation, text string) (*model.Message, error) {
	msg := model.Message{ConversationID: conv.ID, Role: model.RoleUser, Content: text}
	var newTitle string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("create user message: %w", err)
		}

		// 只在标题仍为空时写入，避免并发发送覆盖已有标题
		title := DeriveTitle(text)
		res := tx.Model(&model.Conversation{}).
			Where("id = ? AND title = ?", conv.ID, "").
			Update("title", title)
		if res.Error != nil {
			return fmt.Errorf("set conversation title: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			newTitle = title
		}

		return touch(tx, conv.ID)
	})
	if err != nil {
		return nil, err
	}

	if newTitle != "" {
		conv.Title = newTitle
	}
	conv.UpdatedAt = msg.CreatedAt
	return &msg, nil
}

// AddAssistantMessage 写入助手回复
func (s *Store) AddAssistantMessage(ctx context.Context, conv *model.Conversation, text string) (*model.Message, error) {
	msg := model.Message{ConversationID: conv.ID, Role: model.RoleAssistant, Content: text}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("create assistant message: %w", err)
		}
		return touch(tx, conv.ID)
	})
	if err != nil {
		return nil, err
	}

	conv.UpdatedAt = msg.CreatedAt
	return &msg, nil
}

// DeriveTitle 去除首尾空白后截取前 80 个字符
func DeriveTitle(text string) string {
	trimmed := []rune(strings.TrimSpace(text))
	if len(trimmed) == 0 {
		return PlaceholderTitle
	}
	if len(trimmed) > titleMaxRunes {
		trimmed = trimmed[:titleMaxRunes]
	}
	return string(trimmed)
}

func touch(tx *gorm.DB, convID uint) error {
	err := tx.Model(&model.Conversation{}).
		Where("id = ?", convID).
		Update("updated_at", tx.NowFunc()).Error
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}
