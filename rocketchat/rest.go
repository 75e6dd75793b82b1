package rocketchat

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/zdypro888/rasta/wsconn"
)

// ResponseError 是非 2xx 的 REST 响应
type ResponseError struct {
	Code int
	Body []byte
}

func (res *ResponseError) Error() string {
	return fmt.Sprintf("response status code: %d", res.Code)
}

type restLogin struct {
	userID string
	token  string
}

// RESTClient 是 Rocket.Chat REST API 的客户端，用于登录回退和成员查询
type RESTClient struct {
	baseURL string
	client  *http.Client

	locker sync.RWMutex
	login  *restLogin
}

// RESTOption 配置 RESTClient
type RESTOption func(*RESTClient)

// WithBaseURL 覆盖默认的 https://host/api/
func WithBaseURL(baseURL string) RESTOption {
	return func(c *RESTClient) {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		c.baseURL = baseURL
	}
}

// WithHTTPClient 使用自定义的 http.Client
func WithHTTPClient(client *http.Client) RESTOption {
	return func(c *RESTClient) { c.client = client }
}

// WithHTTP3 使用 HTTP/3 传输
func WithHTTP3() RESTOption {
	return func(c *RESTClient) { c.client = newHTTP3Client() }
}

// WithProxy 通过代理发送请求
func WithProxy(proxy *wsconn.Proxy) RESTOption {
	return func(c *RESTClient) {
		if proxy == nil {
			return
		}
		if transport, ok := c.client.Transport.(*http.Transport); ok {
			transport = transport.Clone()
			transport.Proxy = nil
			transport.DialContext = proxy.DialContext
			c.client.Transport = transport
		}
	}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: 20 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: 20 * time.Second,
		ExpectContinueTimeout: 5 * time.Second,
		TLSHandshakeTimeout:   30 * time.Second,
	}
}

// NewRESTClient 创建 host 的 REST 客户端
func NewRESTClient(host string, opts ...RESTOption) *RESTClient {
	c := &RESTClient{
		baseURL: "https://" + host + "/api/",
		client: &http.Client{
			Transport: newTransport(),
			Timeout:   120 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UserID 返回登录后的用户 id
func (c *RESTClient) UserID() string {
	c.locker.RLock()
	defer c.locker.RUnlock()
	if c.login == nil {
		return ""
	}
	return c.login.userID
}

func (c *RESTClient) request(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Accept-Encoding", "gzip, br")
	c.locker.RLock()
	if c.login != nil {
		request.Header.Set("X-User-Id", c.login.userID)
		request.Header.Set("X-Auth-Token", c.login.token)
	}
	c.locker.RUnlock()
	return request, nil
}

// do 发送请求，将 JSON 响应解码到 reply
func (c *RESTClient) do(request *http.Request, reply any) error {
	response, err := c.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	data, err := ReadResponse(response)
	if err != nil {
		return err
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return &ResponseError{Code: response.StatusCode, Body: data}
	}
	if reply == nil {
		return nil
	}
	if err := json.Unmarshal(data, reply); err != nil {
		return fmt.Errorf("decode %s: %w", request.URL.Path, err)
	}
	return nil
}

// ReadResponse 按 Content-Encoding 读取 response body
func ReadResponse(response *http.Response) ([]byte, error) {
	switch response.Header.Get("Content-Encoding") {
	case "gzip":
		reader, err := gzip.NewReader(response.Body)
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		return io.ReadAll(reader)
	case "br":
		return io.ReadAll(brotli.NewReader(response.Body))
	}
	return io.ReadAll(response.Body)
}

// Login 通过 v1/login 登录，成功后保存凭据并返回 resume token
func (c *RESTClient) Login(ctx context.Context, creds Credentials) (Token, error) {
	request, err := c.request(ctx, http.MethodPost, "v1/login", strings.NewReader(creds.Form().Encode()))
	if err != nil {
		return Token{}, err
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var reply struct {
		Status string `json:"status"`
		Data   struct {
			AuthToken string `json:"authToken"`
			UserID    string `json:"userId"`
		} `json:"data"`
		Message string `json:"message"`
	}
	if err := c.do(request, &reply); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if reply.Status != "success" || reply.Data.AuthToken == "" {
		return Token{}, fmt.Errorf("%w: status %q %s", ErrLoginFailed, reply.Status, reply.Message)
	}

	c.locker.Lock()
	c.login = &restLogin{userID: reply.Data.UserID, token: reply.Data.AuthToken}
	c.locker.Unlock()
	return Token{Token: reply.Data.AuthToken}, nil
}

// ChannelMembers 返回房间成员，只支持 chat 和 private 房间
func (c *RESTClient) ChannelMembers(ctx context.Context, room *Room) ([]ShortUser, error) {
	var endpoint string
	switch room.Type {
	case RoomChat:
		endpoint = "v1/channels.members"
	case RoomPrivate:
		endpoint = "v1/groups.members"
	default:
		return nil, nil
	}
	request, err := c.request(ctx, http.MethodGet, endpoint+"?"+url.Values{"roomId": {room.ID}}.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var reply struct {
		Members []ShortUser `json:"members"`
	}
	if err := c.do(request, &reply); err != nil {
		return nil, err
	}
	return reply.Members, nil
}
