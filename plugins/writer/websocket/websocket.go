package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"

	"luabundle/pkg/contract"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

// Options: 推送通道配置。执行器侧脚本连接后即可收到最新 bundle。
type Options struct {
	// Addr: 监听地址（例如 "127.0.0.1:7331"）；仅 Start 使用。
	Addr string `json:"addr"`
	// Path: WebSocket 路径，缺省 "/bundle"。
	Path string `json:"path,omitempty"`
	// QueueSize: 每个连接的待发队列长度；<=0 为 8。队列满的连接被断开。
	QueueSize int `json:"queue_size,omitempty"`
	// Replay: 新连接是否立即收到最近一次 bundle；nil 视为 true。
	Replay *bool `json:"replay,omitempty"`
}

// Message 为推送给客户端的 JSON 帧。
type Message struct {
	Type   string `json:"type"`
	Name   string `json:"name,omitempty"`
	Seq    uint64 `json:"seq,omitempty"`
	Size   int    `json:"size,omitempty"`
	Source string `json:"source,omitempty"`
}

type client struct {
	conn *gws.Conn
	send chan Message
	once sync.Once
	done chan struct{}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub 向全部已连接客户端广播 bundle。
type Hub struct {
	path     string
	addr     string
	queue    int
	replay   bool
	upgrader gws.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	last    *Message
	seq     uint64
	srv     *http.Server
	bound   net.Addr
	closed  bool
}

var _ contract.Writer = (*Hub)(nil)

// New 创建 Hub；不监听端口（见 Start），也可直接作为 http.Handler 挂载。
func New(opts *Options) (*Hub, error) {
	if opts == nil {
		opts = &Options{}
	}
	p := strings.TrimSpace(opts.Path)
	if p == "" {
		p = "/bundle"
	}
	if !strings.HasPrefix(p, "/") {
		return nil, fmt.Errorf("%w: websocket path must start with '/': %q", contract.ErrInvalidInput, p)
	}
	q := opts.QueueSize
	if q <= 0 {
		q = 8
	}
	replay := true
	if opts.Replay != nil {
		replay = *opts.Replay
	}
	return &Hub{
		path:   p,
		addr:   strings.TrimSpace(opts.Addr),
		queue:  q,
		replay: replay,
		upgrader: gws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}, nil
}

// Start 在 Options.Addr 上监听并在后台服务；返回实际监听地址。
func (h *Hub) Start() (net.Addr, error) {
	if h.addr == "" {
		return nil, fmt.Errorf("%w: websocket addr is required", contract.ErrInvalidInput)
	}
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle(h.path, h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	h.mu.Lock()
	h.srv = srv
	h.bound = ln.Addr()
	h.mu.Unlock()
	go func() { _ = srv.Serve(ln) }()
	return ln.Addr(), nil
}

// Addr 返回 Start 后的实际监听地址；未监听时为 nil。
func (h *Hub) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bound
}

// URL 返回客户端连接地址（ws://host:port/path）；未监听时为空。
func (h *Hub) URL() string {
	a := h.Addr()
	if a == nil {
		return ""
	}
	return "ws://" + a.String() + h.path
}

// Close 断开所有客户端并停止监听。
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	srv := h.srv
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
	h.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := srv.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Clients 返回当前连接数。
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Write 读入 bundle 并广播；无客户端时仅记录为最近一次。
func (h *Hub) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return net.ErrClosed
	}
	h.seq++
	msg := Message{Type: "bundle", Name: string(id), Seq: h.seq, Size: len(data), Source: string(data)}
	h.last = &msg
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// 慢连接直接断开
			c.close()
			delete(h.clients, c)
		}
	}
	return nil
}

// ServeHTTP 升级连接并注册客户端；注册与最近 bundle 的回放在同一临界区内完成。
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, send: make(chan Message, h.queue), done: make(chan struct{})}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.replay && h.last != nil {
		c.send <- *h.last
	}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// readLoop 只用于感知断开与维持 pong 截止时间；客户端的 {"type":"ping"} 回 pong。
func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var in Message
		if err := c.conn.ReadJSON(&in); err != nil {
			return
		}
		if strings.EqualFold(strings.TrimSpace(in.Type), "ping") {
			select {
			case c.send <- Message{Type: "pong"}:
			default:
			}
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseGoingAway, ""))
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(gws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
