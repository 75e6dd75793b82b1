// Package rocketchat 在 DDP 客户端之上实现 Rocket.Chat 的登录、房间和推送订阅。
package rocketchat

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrLoginFailed 登录被拒绝（REST 或 DDP）
var ErrLoginFailed = errors.New("rocketchat: login failed")

// Credentials 是登录凭据：用户名密码或者 resume token
type Credentials interface {
	// LoginParams 返回 DDP login 方法的参数
	LoginParams() map[string]any
	// Form 返回 REST 登录的表单
	Form() url.Values
}

// Password 明文凭据，发送前对密码做 sha-256
type Password struct {
	User     string
	Password string
}

// Token 是登录后得到的 resume token
type Token struct {
	Token string
}

// Digest 返回密码的 sha-256 十六进制摘要
func (p Password) Digest() string {
	sum := sha256.Sum256([]byte(p.Password))
	return hex.EncodeToString(sum[:])
}

func (p Password) LoginParams() map[string]any {
	return map[string]any{
		"user": map[string]any{"username": p.User},
		"password": map[string]any{
			"digest":    p.Digest(),
			"algorithm": "sha-256",
		},
	}
}

func (p Password) Form() url.Values {
	return url.Values{"user": {p.User}, "password": {p.Password}}
}

func (p Password) String() string {
	return "password:" + p.User
}

func (t Token) LoginParams() map[string]any {
	return map[string]any{"resume": t.Token}
}

func (t Token) Form() url.Values {
	return url.Values{"resume": {t.Token}}
}

func (t Token) String() string {
	return "token"
}

// ParseCredentials 从命令行参数解析凭据：
// 一个参数含 ':' 时为 user:pass，否则为 token；两个参数为 user 和 pass。
func ParseCredentials(args ...string) (Credentials, error) {
	switch len(args) {
	case 1:
		if user, password, ok := strings.Cut(args[0], ":"); ok {
			if user == "" {
				return nil, fmt.Errorf("empty user in %q", args[0])
			}
			return Password{User: user, Password: password}, nil
		}
		if args[0] == "" {
			return nil, errors.New("empty token")
		}
		return Token{Token: args[0]}, nil
	case 2:
		if args[0] == "" {
			return nil, errors.New("empty user")
		}
		return Password{User: args[0], Password: args[1]}, nil
	}
	return nil, fmt.Errorf("expected 1 or 2 credential arguments, got %d", len(args))
}
