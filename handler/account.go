package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KodaTao/chatweb/auth"
)

const chatHome = "/chat"

// AccountHandler 注册、登录、登出
type AccountHandler struct {
	Accounts *auth.Accounts
	Sessions *auth.Sessions
	Log      *zap.Logger
}

type loginForm struct {
	Username string `form:"username" binding:"required"`
	Password string `form:"password" binding:"required"`
	Next     string `form:"next"`
}

func (h *AccountHandler) LoginPage(c *gin.Context) {
	c.HTML(http.StatusOK, "login.html", gin.H{"Title": "Sign in", "Next": c.Query("next")})
}

func (h *AccountHandler) Login(c *gin.Context) {
	var form loginForm
	if err := c.ShouldBind(&form); err != nil {
		h.renderLogin(c, http.StatusBadRequest, form, "Username and password are required.")
		return
	}

	p, err := h.Accounts.Authenticate(c.Request.Context(), form.Username, form.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.renderLogin(c, http.StatusUnauthorized, form, err.Error())
		return
	}
	if err != nil {
		h.Log.Error("authenticate failed", zap.Error(err))
		h.renderLogin(c, http.StatusInternalServerError, form, "Something went wrong, please try again.")
		return
	}

	if err := h.Sessions.Login(c, p); err != nil {
		h.Log.Error("issue session failed", zap.Error(err))
		h.renderLogin(c, http.StatusInternalServerError, form, "Something went wrong, please try again.")
		return
	}
	h.Log.Info("user logged in", zap.Uint("user_id", p.UserID))
	c.Redirect(http.StatusFound, safeNext(form.Next))
}

func (h *AccountHandler) renderLogin(c *gin.Context, status int, form loginForm, msg string) {
	c.HTML(status, "login.html", gin.H{
		"Title":    "Sign in",
		"Error":    msg,
		"Next":     form.Next,
		"Username": form.Username,
	})
}

func (h *AccountHandler) RegisterPage(c *gin.Context) {
	c.HTML(http.StatusOK, "register.html", gin.H{"Title": "Register"})
}

func (h *AccountHandler) Register(c *gin.Context) {
	var form auth.Registration
	if err := c.ShouldBind(&form); err != nil {
		h.renderRegister(c, http.StatusBadRequest, form, "Invalid form.")
		return
	}

	p, err := h.Accounts.Register(c.Request.Context(), form)
	switch {
	case errors.Is(err, auth.ErrPasswordMismatch), errors.Is(err, auth.ErrMissingFields), errors.Is(err, auth.ErrUsernameTaken):
		h.renderRegister(c, http.StatusBadRequest, form, err.Error())
		return
	case err != nil:
		h.Log.Error("register failed", zap.Error(err))
		h.renderRegister(c, http.StatusInternalServerError, form, "Something went wrong, please try again.")
		return
	}

	if err := h.Sessions.Login(c, p); err != nil {
		h.Log.Error("issue session failed", zap.Error(err))
		c.Redirect(http.StatusFound, auth.LoginPath)
		return
	}
	h.Log.Info("user registered", zap.Uint("user_id", p.UserID))
	c.Redirect(http.StatusFound, chatHome)
}

func (h *AccountHandler) renderRegister(c *gin.Context, status int, form auth.Registration, msg string) {
	c.HTML(status, "register.html", gin.H{
		"Title":    "Register",
		"Error":    msg,
		"Username": form.Username,
		"Email":    form.Email,
	})
}

func (h *AccountHandler) Logout(c *gin.Context) {
	h.Sessions.Logout(c)
	c.Redirect(http.StatusFound, auth.LoginPath)
}

// safeNext 只允许站内跳转
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return chatHome
	}
	return next
}
