package chat

import "errors"

var (
	// ErrAnonymous 匿名身份不能拥有会话
	ErrAnonymous = errors.New("anonymous principal cannot own conversations")
	// ErrNotFound 资源不存在或不属于当前用户，两者刻意不作区分
	ErrNotFound = errors.New("not found")
	// ErrEmptyMessage 去除空白后消息为空
	ErrEmptyMessage = errors.New("Empty message.")
)
