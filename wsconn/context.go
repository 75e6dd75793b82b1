package wsconn

import (
	"context"
)

// ProxyContext 携带代理的 context，Dial 和 REST 请求会使用其中的代理
type ProxyContext interface {
	context.Context
	WithProxy() *Proxy
}

type proxyContext struct {
	context.Context
	proxy *Proxy
}

func (ctx *proxyContext) WithProxy() *Proxy {
	return ctx.proxy
}

// NewProxyContext 返回携带 proxy 的 context
func NewProxyContext(ctx context.Context, proxy *Proxy) ProxyContext {
	return &proxyContext{Context: ctx, proxy: proxy}
}
