package wsconn

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"

	"github.com/zdypro888/utils"
	xproxy "golang.org/x/net/proxy"
)

// Proxy 代理，Address 支持 utils 的随机模板
type Proxy struct {
	Address string `yaml:"address" json:"Address"`
}

// LoadProxys 从文件读取所有代理信息，每行一个
func LoadProxys(i any) ([]*Proxy, error) {
	proxys := make([]*Proxy, 0)
	if err := utils.ReadLines(i, func(line string) error {
		proxys = append(proxys, &Proxy{Address: line})
		return nil
	}); err != nil {
		return nil, err
	}
	return proxys, nil
}

// PickProxy 随机选择一个代理，列表为空时返回 nil
func PickProxy(proxys []*Proxy) *Proxy {
	if len(proxys) == 0 {
		return nil
	}
	return proxys[rand.IntN(len(proxys))]
}

func (proxy *Proxy) resolve() (*url.URL, error) {
	address, err := utils.RandomTemplateText(proxy.Address)
	if err != nil {
		return nil, err
	}
	return url.Parse(address)
}

// DialContext 通过代理拨号，支持 socks5 和 http CONNECT
func (proxy *Proxy) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	proxyURL, err := proxy.resolve()
	if err != nil {
		return nil, err
	}
	switch proxyURL.Scheme {
	case "socks5", "socks5h":
		var auth *xproxy.Auth
		if proxyURL.User != nil {
			auth = &xproxy.Auth{User: proxyURL.User.Username()}
			auth.Password, _ = proxyURL.User.Password()
		}
		dialer, err := xproxy.SOCKS5("tcp", proxyURL.Host, auth, &net.Dialer{})
		if err != nil {
			return nil, err
		}
		if contextDialer, ok := dialer.(xproxy.ContextDialer); ok {
			return contextDialer.DialContext(ctx, network, address)
		}
		return dialer.Dial(network, address)
	case "http", "https":
		return dialConnect(ctx, proxyURL, address)
	}
	return nil, fmt.Errorf("type: %s not supported", proxyURL.Scheme)
}

// dialConnect 通过 http CONNECT 建立隧道
func dialConnect(ctx context.Context, proxyURL *url.URL, address string) (net.Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", proxyURL.Host)
	if err != nil {
		return nil, err
	}
	connectReq, err := http.NewRequestWithContext(ctx, http.MethodConnect, "", nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	connectReq.URL = &url.URL{Opaque: address}
	connectReq.Host = address
	connectReq.Header = make(http.Header)
	if proxyURL.User != nil {
		auth := proxyURL.User.String()
		connectReq.Header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(auth)))
	}
	if err = connectReq.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}
	br := bufio.NewReader(conn)
	response, err := http.ReadResponse(br, connectReq)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if response.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("connect http tunnel failed: %d", response.StatusCode)
	}
	return conn, nil
}
