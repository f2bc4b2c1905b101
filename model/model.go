package model

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/KodaTao/chatweb/config"
)

// Role 消息角色，只允许 user 和 assistant 两种取值
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type User struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Username      string         `gorm:"size:150;uniqueIndex;not null" json:"username"`
	Email         string         `gorm:"size:254" json:"email"`
	PasswordHash  string         `gorm:"not null" json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
	Conversations []Conversation `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Conversation 属于唯一的用户；标题为空，直到第一条用户消息自动填充
type Conversation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Title     string    `gorm:"size:200;not null;default:''" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
	Messages  []Message `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// DisplayTitle 标题为空时的展示名
func (c Conversation) DisplayTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return fmt.Sprintf("Conversation %d", c.ID)
}

type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `gorm:"index:idx_messages_conversation_created,priority:1;not null" json:"conversation_id"`
	Role           Role      `gorm:"size:10;not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `gorm:"index:idx_messages_conversation_created,priority:2" json:"created_at"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if !m.Role.Valid() {
		return fmt.Errorf("invalid message role %q", m.Role)
	}
	return nil
}

func (m Message) String() string {
	content := []rune(m.Content)
	if len(content) > 40 {
		content = content[:40]
	}
	return fmt.Sprintf("%s: %s", m.Role, string(content))
}

// Turn 是交给生成后端的一条历史记录 (role, content)
type Turn struct {
	Role    Role
	Content string
}

func InitDB(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(sqliteDSN(cfg.Path))
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&User{}, &Conversation{}, &Message{}); err != nil {
		return nil, err
	}

	return db, nil
}

// sqliteDSN 打开外键约束（级联删除依赖它），并设置写锁等待时间
func sqliteDSN(path string) string {
	var params []string
	if !strings.Contains(path, "_foreign_keys") && !strings.Contains(path, "_fk=") {
		params = append(params, "_foreign_keys=on")
	}
	if !strings.Contains(path, "_busy_timeout") && !strings.Contains(path, "_timeout=") {
		params = append(params, "_busy_timeout=5000")
	}
	if len(params) == 0 {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}
