package handbook

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures real-time sockets.
type RealtimeConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HTTPClient           *http.Client
	Logger               *slog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// Socket is a real-time connection delivering envelopes.
type Socket interface {
	EventSource
	Connect(ctx context.Context) error
	Disconnect() error
	State() RealtimeState
	OnConnected(h func())
	OnDisconnected(h func(code int, reason string))
	OnReconnecting(h func(attempt int, delay time.Duration))
}

var (
	_ Socket = (*WSSocket)(nil)
	_ Socket = (*SSESocket)(nil)
)

// ============================================================================
// Envelope hub
// ============================================================================

type hubHandler struct {
	id string
	fn EnvelopeHandler
}

// envelopeHub fans envelopes out to subscribers synchronously, in
// subscription order, so every subscriber sees events in delivery order.
type envelopeHub struct {
	mu             sync.RWMutex
	handlers       []hubHandler
	onConnected    []func()
	onDisconnected []func(code int, reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

func (h *envelopeHub) Subscribe(fn EnvelopeHandler) (unsubscribe func()) {
	id := xid.New().String()
	h.mu.Lock()
	h.handlers = append(h.handlers, hubHandler{id: id, fn: fn})
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, hh := range h.handlers {
			if hh.id == id {
				h.handlers = append(h.handlers[:i:i], h.handlers[i+1:]...)
				return
			}
		}
	}
}

func (h *envelopeHub) dispatch(env Envelope) {
	h.mu.RLock()
	handlers := append([]hubHandler(nil), h.handlers...)
	h.mu.RUnlock()
	for _, hh := range handlers {
		hh.fn(env)
	}
}

func (h *envelopeHub) emitConnected() {
	h.mu.RLock()
	handlers := append([]func(){}, h.onConnected...)
	h.mu.RUnlock()
	for _, fn := range handlers {
		fn()
	}
}

func (h *envelopeHub) emitDisconnected(code int, reason string) {
	h.mu.RLock()
	handlers := append([]func(int, string){}, h.onDisconnected...)
	h.mu.RUnlock()
	for _, fn := range handlers {
		fn(code, reason)
	}
}

func (h *envelopeHub) emitReconnecting(attempt int, delay time.Duration) {
	h.mu.RLock()
	handlers := append([]func(int, time.Duration){}, h.onReconnecting...)
	h.mu.RUnlock()
	for _, fn := range handlers {
		fn(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts < 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

// nextDelay returns base*2^attempt plus up to 50% jitter, capped at the max
// delay. A connection that stayed up for a minute resets the attempt count.
func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
		r.connectedAt = time.Time{}
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// Shared socket state
// ============================================================================

type socketCore struct {
	envelopeHub

	baseURL string
	config  *RealtimeConfig
	logger  *slog.Logger
	recon   *reconnector

	mu               sync.Mutex
	state            RealtimeState
	intentionalClose bool
	parent           context.Context
	cancelFn         context.CancelFunc
}

func newSocketCore(baseURL string, config *RealtimeConfig) socketCore {
	cfg := *config
	cfg.defaults()
	return socketCore{
		baseURL: strings.TrimRight(baseURL, "/"),
		config:  &cfg,
		logger:  cfg.Logger,
		recon:   newReconnector(&cfg),
		state:   StateDisconnected,
	}
}

// OnConnected registers a handler for the connected meta-event.
func (s *socketCore) OnConnected(h func()) {
	s.envelopeHub.mu.Lock()
	s.onConnected = append(s.onConnected, h)
	s.envelopeHub.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (s *socketCore) OnDisconnected(h func(code int, reason string)) {
	s.envelopeHub.mu.Lock()
	s.onDisconnected = append(s.onDisconnected, h)
	s.envelopeHub.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (s *socketCore) OnReconnecting(h func(attempt int, delay time.Duration)) {
	s.envelopeHub.mu.Lock()
	s.onReconnecting = append(s.onReconnecting, h)
	s.envelopeHub.mu.Unlock()
}

// State returns the current connection state.
func (s *socketCore) State() RealtimeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *socketCore) setState(state RealtimeState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// begin moves to connecting. It returns false if a connection is already
// up or in progress.
func (s *socketCore) begin(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnected || s.state == StateConnecting {
		return false
	}
	if s.state != StateReconnecting {
		s.parent = ctx
	}
	s.state = StateConnecting
	s.intentionalClose = false
	return true
}

func (s *socketCore) intentional() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intentionalClose
}

// stop marks the close as intentional and cancels the connection context.
func (s *socketCore) stop() {
	s.mu.Lock()
	s.intentionalClose = true
	if s.cancelFn != nil {
		s.cancelFn()
		s.cancelFn = nil
	}
	s.state = StateDisconnected
	s.mu.Unlock()
}

func (s *socketCore) streamURL(path string) string {
	u := s.baseURL + path
	if s.config.Token != "" {
		u += "?" + url.Values{"token": {s.config.Token}}.Encode()
	}
	return u
}

// lost handles an unexpected end of the connection.
func (s *socketCore) lost(reason string, connect func(context.Context) error) {
	s.mu.Lock()
	if s.intentionalClose {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	if s.cancelFn != nil {
		s.cancelFn()
		s.cancelFn = nil
	}
	parent := s.parent
	s.mu.Unlock()

	s.logger.Warn("real-time connection lost", slog.String("reason", reason))
	s.emitDisconnected(0, reason)

	if s.config.AutoReconnect && s.recon.shouldReconnect() {
		s.scheduleReconnect(parent, connect)
	}
}

func (s *socketCore) scheduleReconnect(ctx context.Context, connect func(context.Context) error) {
	for {
		delay := s.recon.nextDelay()
		s.setState(StateReconnecting)
		s.emitReconnecting(s.recon.attempt, delay)
		s.logger.Info("real-time reconnecting",
			slog.Int("attempt", s.recon.attempt),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			s.setState(StateDisconnected)
			return
		case <-time.After(delay):
		}
		if s.intentional() {
			return
		}

		err := connect(ctx)
		if err == nil {
			return
		}
		s.logger.Warn("real-time reconnect failed", slog.Any("error", err))
		if !s.config.AutoReconnect || !s.recon.shouldReconnect() {
			s.setState(StateDisconnected)
			return
		}
	}
}

// ============================================================================
// WSSocket
// ============================================================================

// WSSocket is a WebSocket real-time connection with auto-reconnect and
// heartbeat.
type WSSocket struct {
	socketCore
	conn *websocket.Conn
}

// NewWSSocket creates a WebSocket socket for baseURL. Call Connect to dial.
func NewWSSocket(baseURL string, config *RealtimeConfig) *WSSocket {
	return &WSSocket{socketCore: newSocketCore(baseURL, config)}
}

// URL returns the WebSocket endpoint.
func (ws *WSSocket) URL() string {
	u := ws.streamURL("/ws")
	if rest, ok := strings.CutPrefix(u, "https://"); ok {
		return "wss://" + rest
	}
	if rest, ok := strings.CutPrefix(u, "http://"); ok {
		return "ws://" + rest
	}
	return u
}

// Connect dials the server and waits for the authenticated event.
func (ws *WSSocket) Connect(ctx context.Context) error {
	if !ws.begin(ctx) {
		return nil
	}

	conn, _, err := websocket.Dial(ctx, ws.URL(), &websocket.DialOptions{HTTPClient: ws.config.HTTPClient})
	if err != nil {
		ws.setState(StateDisconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	var env Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		ws.setState(StateDisconnected)
		return fmt.Errorf("read auth message: %w", err)
	}
	if env.Type != EventAuthenticated {
		conn.Close(websocket.StatusPolicyViolation, "expected authenticated")
		ws.setState(StateDisconnected)
		return fmt.Errorf("expected %q, got %q", EventAuthenticated, env.Type)
	}

	ws.mu.Lock()
	connCtx, cancel := context.WithCancel(ws.parent)
	ws.conn = conn
	ws.cancelFn = cancel
	ws.state = StateConnected
	ws.mu.Unlock()
	ws.recon.markConnected()

	ws.logger.Info("real-time connected", slog.String("transport", "ws"))
	ws.dispatch(env)
	ws.emitConnected()

	go ws.readLoop(connCtx, conn)
	go ws.heartbeatLoop(connCtx, conn)
	return nil
}

// Disconnect gracefully closes the connection.
func (ws *WSSocket) Disconnect() error {
	ws.stop()
	ws.mu.Lock()
	conn := ws.conn
	ws.conn = nil
	ws.mu.Unlock()

	ws.emitDisconnected(int(websocket.StatusNormalClosure), "client disconnect")
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// Send writes a command. A request id is assigned when missing.
func (ws *WSSocket) Send(ctx context.Context, cmd *Command) error {
	ws.mu.Lock()
	conn := ws.conn
	ws.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if cmd.RequestID == "" {
		cmd.RequestID = xid.New().String()
	}
	return wsjson.Write(ctx, conn, cmd)
}

// JoinConversation subscribes to a conversation's room.
func (ws *WSSocket) JoinConversation(ctx context.Context, conversationID string) error {
	return ws.Send(ctx, &Command{
		Type:    "conversation.join",
		Payload: map[string]string{"conversationId": conversationID},
	})
}

// LeaveConversation unsubscribes from a conversation's room.
func (ws *WSSocket) LeaveConversation(ctx context.Context, conversationID string) error {
	return ws.Send(ctx, &Command{
		Type:    "conversation.leave",
		Payload: map[string]string{"conversationId": conversationID},
	})
}

// SendCallSignal relays video-call signaling to another user.
func (ws *WSSocket) SendCallSignal(ctx context.Context, sig *CallSignal) error {
	return ws.Send(ctx, &Command{Type: sig.Kind, Payload: sig})
}

func (ws *WSSocket) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			ws.mu.Lock()
			if ws.conn == conn {
				ws.conn = nil
			}
			ws.mu.Unlock()
			ws.lost(err.Error(), ws.Connect)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			ws.logger.Warn("real-time frame dropped", slog.Any("error", err))
			continue
		}
		ws.dispatch(env)
	}
}

func (ws *WSSocket) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(ws.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

// ============================================================================
// SSESocket
// ============================================================================

// SSESocket is a server-push only real-time connection with auto-reconnect.
type SSESocket struct {
	socketCore
	lastDataTime time.Time
}

// NewSSESocket creates an SSE socket for baseURL. Call Connect to open it.
func NewSSESocket(baseURL string, config *RealtimeConfig) *SSESocket {
	return &SSESocket{socketCore: newSocketCore(baseURL, config)}
}

// URL returns the SSE endpoint.
func (sse *SSESocket) URL() string {
	return sse.streamURL("/sse")
}

// Connect opens the event stream.
func (sse *SSESocket) Connect(ctx context.Context) error {
	if !sse.begin(ctx) {
		return nil
	}

	sse.mu.Lock()
	connCtx, cancel := context.WithCancel(sse.parent)
	sse.mu.Unlock()

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, sse.URL(), nil)
	if err != nil {
		cancel()
		sse.setState(StateDisconnected)
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := sse.config.HTTPClient.Do(req)
	if err != nil {
		cancel()
		sse.setState(StateDisconnected)
		return fmt.Errorf("sse connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		sse.setState(StateDisconnected)
		return &APIError{Status: resp.StatusCode, Message: "sse connect rejected"}
	}

	sse.mu.Lock()
	sse.state = StateConnected
	sse.lastDataTime = time.Now()
	sse.cancelFn = cancel
	sse.mu.Unlock()
	sse.recon.markConnected()

	sse.logger.Info("real-time connected", slog.String("transport", "sse"))
	sse.emitConnected()

	go sse.readLoop(connCtx, resp)
	go sse.heartbeatWatchdog(connCtx, cancel)
	return nil
}

// Disconnect closes the event stream.
func (sse *SSESocket) Disconnect() error {
	sse.stop()
	sse.emitDisconnected(1000, "client disconnect")
	return nil
}

func (sse *SSESocket) readLoop(ctx context.Context, resp *http.Response) {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Text()
		sse.mu.Lock()
		sse.lastDataTime = time.Now()
		sse.mu.Unlock()

		if strings.HasPrefix(line, ":") {
			continue // heartbeat comment
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var env Envelope
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &env); err != nil {
			sse.logger.Warn("real-time frame dropped", slog.Any("error", err))
			continue
		}
		sse.dispatch(env)
	}

	reason := "stream ended"
	if err := scanner.Err(); err != nil {
		reason = err.Error()
	}
	sse.lost(reason, sse.Connect)
}

func (sse *SSESocket) heartbeatWatchdog(ctx context.Context, cancel context.CancelFunc) {
	interval := sse.config.HeartbeatInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sse.mu.Lock()
			stale := time.Since(sse.lastDataTime) > 2*interval
			sse.mu.Unlock()
			if stale {
				cancel()
				return
			}
		}
	}
}
