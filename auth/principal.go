package auth

import "github.com/gin-gonic/gin"

const principalKey = "principal"

// Principal 当前请求的身份，零值表示匿名
type Principal struct {
	UserID   uint
	Username string
}

var Anonymous = Principal{}

func (p Principal) IsAnonymous() bool {
	return p.UserID == 0
}

// PrincipalFrom 取出 Session 中间件设置的身份，未设置时为匿名
func PrincipalFrom(c *gin.Context) Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(Principal); ok {
			return p
		}
	}
	return Anonymous
}

func setPrincipal(c *gin.Context, p Principal) {
	c.Set(principalKey, p)
}
