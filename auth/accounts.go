package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/KodaTao/chatweb/model"
)

var (
	ErrInvalidCredentials = errors.New("Invalid username or password.")
	ErrUsernameTaken      = errors.New("A user with that username already exists.")
	ErrPasswordMismatch   = errors.New("Passwords do not match.")
	ErrMissingFields      = errors.New("Username and password are required.")
)

// Registration 注册表单
type Registration struct {
	Username        string `form:"username"`
	Email           string `form:"email"`
	Password        string `form:"password"`
	PasswordConfirm string `form:"password_confirm"`
}

func (r Registration) validate() error {
	if strings.TrimSpace(r.Username) == "" || r.Password == "" {
		return ErrMissingFields
	}
	if r.Password != r.PasswordConfirm {
		return ErrPasswordMismatch
	}
	return nil
}

// Accounts 用户注册与认证
type Accounts struct {
	db   *gorm.DB
	cost int
}

func NewAccounts(db *gorm.DB) *Accounts {
	return &Accounts{db: db, cost: bcrypt.DefaultCost}
}

func (a *Accounts) Register(ctx context.Context, r Registration) (Principal, error) {
	if err := r.validate(); err != nil {
		return Anonymous, err
	}
	username := strings.TrimSpace(r.Username)

	var existing int64
	if err := a.db.WithContext(ctx).Model(&model.User{}).Where("username = ?", username).Count(&existing).Error; err != nil {
		return Anonymous, fmt.Errorf("lookup user: %w", err)
	}
	if existing > 0 {
		return Anonymous, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), a.cost)
	if err != nil {
		return Anonymous, fmt.Errorf("hash password: %w", err)
	}

	user := model.User{
		Username:     username,
		Email:        strings.TrimSpace(r.Email),
		PasswordHash: string(hash),
	}
	if err := a.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Anonymous, ErrUsernameTaken
		}
		return Anonymous, fmt.Errorf("create user: %w", err)
	}
	return Principal{UserID: user.ID, Username: user.Username}, nil
}

func (a *Accounts) Authenticate(ctx context.Context, username, password string) (Principal, error) {
	var user model.User
	err := a.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Anonymous, ErrInvalidCredentials
	}
	if err != nil {
		return Anonymous, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Anonymous, ErrInvalidCredentials
	}
	return Principal{UserID: user.ID, Username: user.Username}, nil
}
