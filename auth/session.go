package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/KodaTao/chatweb/config"
)

const issuer = "chatweb"

// LoginPath 未登录请求被重定向到的地址
const LoginPath = "/accounts/login"

type sessionClaims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Sessions 用签名 cookie 保存登录状态
type Sessions struct {
	secret []byte
	cookie string
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func NewSessions(cfg config.AuthConfig) *Sessions {
	return &Sessions{
		secret: []byte(cfg.Secret),
		cookie: cfg.CookieName,
		ttl:    cfg.TTL(),
		secure: cfg.Secure,
		now:    time.Now,
	}
}

// Issue 为用户签发会话 token
func (s *Sessions) Issue(p Principal) (string, error) {
	if p.IsAnonymous() {
		return "", errors.New("cannot issue session for anonymous principal")
	}
	now := s.now()
	claims := &sessionClaims{
		UserID:   p.UserID,
		Username: p.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse 校验 token 并还原身份
func (s *Sessions) Parse(token string) (Principal, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return Anonymous, err
	}
	if !parsed.Valid || claims.UserID == 0 {
		return Anonymous, errors.New("invalid session token")
	}
	return Principal{UserID: claims.UserID, Username: claims.Username}, nil
}

// Login 写入会话 cookie
func (s *Sessions) Login(c *gin.Context, p Principal) error {
	token, err := s.Issue(p)
	if err != nil {
		return err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookie, token, int(s.ttl.Seconds()), "/", "", s.secure, true)
	setPrincipal(c, p)
	return nil
}

// Logout 清除会话 cookie
func (s *Sessions) Logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookie, "", -1, "/", "", s.secure, true)
	setPrincipal(c, Anonymous)
}

// Middleware 从 cookie 解析身份；缺失或无效时为匿名
func (s *Sessions) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := Anonymous
		if token, err := c.Cookie(s.cookie); err == nil && token != "" {
			if parsed, err := s.Parse(token); err == nil {
				p = parsed
			}
		}
		setPrincipal(c, p)
		c.Next()
	}
}

// RequireLogin 匿名请求重定向到登录页
func RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if PrincipalFrom(c).IsAnonymous() {
			target := LoginPath + "?next=" + url.QueryEscape(c.Request.URL.RequestURI())
			c.Redirect(http.StatusFound, target)
			c.Abort()
			return
		}
		c.Next()
	}
}
