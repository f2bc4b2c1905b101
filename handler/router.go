package handler

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/KodaTao/chatweb/auth"
	"github.com/KodaTao/chatweb/chat"
	"github.com/KodaTao/chatweb/llm"
	"github.com/KodaTao/chatweb/logger"
	"github.com/KodaTao/chatweb/web"
)

// Deps 路由依赖，全部由调用方构造并注入
type Deps struct {
	DB        *gorm.DB
	Backend   llm.Backend
	Sessions  *auth.Sessions
	Guard     *StreamGuard
	Log       *zap.Logger
	Templates *template.Template
}

// NewRouter 组装全部路由
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Templates == nil {
		d.Templates = web.MustTemplates()
	}

	chatHandler := NewChatHandler(chat.NewStore(d.DB), d.Backend, d.Log)
	if d.Guard != nil {
		chatHandler.Guard = d.Guard
	}
	accountHandler := &AccountHandler{
		Accounts: auth.NewAccounts(d.DB),
		Sessions: d.Sessions,
		Log:      d.Log,
	}

	r := gin.New()
	r.Use(logger.Recovery(d.Log), logger.Middleware(d.Log), auth.SameOrigin(), d.Sessions.Middleware())
	r.SetHTMLTemplate(d.Templates)

	r.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, chatHome) })
	r.GET("/healthz", Health(d.DB))

	accounts := r.Group("/accounts")
	accounts.GET("/login", accountHandler.LoginPage)
	accounts.POST("/login", accountHandler.Login)
	accounts.GET("/register", accountHandler.RegisterPage)
	accounts.POST("/register", accountHandler.Register)
	accounts.POST("/logout", accountHandler.Logout)

	chats := r.Group("/chat", auth.RequireLogin())
	chats.GET("", chatHandler.Index)
	chats.POST("/new", chatHandler.New)
	chats.GET("/:id", chatHandler.Detail)
	chats.POST("/:id/send", chatHandler.Send)
	chats.GET("/:id/stream", chatHandler.Stream)

	return r
}

// Health 检查数据库连接
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
