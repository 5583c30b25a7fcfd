// Package skrumble is a client for the Skrumble team messaging platform.
//
// A Socket holds the credentials of one session. After Login it keeps a
// websocket open to the realtime endpoint; every API request travels over it
// and push events arrive on it. The model types (User, Team, Chat, ...) take
// the Socket through the API interface.
package skrumble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skrumble/skrumble-go/sio"
)

const tracerName = "github.com/skrumble/skrumble-go/skrumble"

// Socket is a session with the platform. It is safe for concurrent use.
type Socket struct {
	cfg      Config
	apiBase  string
	authBase string
	log      *slog.Logger
	tracer   trace.Tracer

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	user         *User
	guest        *Guest
	conn         *connection
	listeners    map[EventCategory][]listener
	nextListener ListenerID
}

// NewSocket validates cfg and returns an unconnected Socket. No network
// activity happens until Login.
func NewSocket(cfg Config) (*Socket, error) {
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	return &Socket{
		cfg:       cfg,
		apiBase:   cfg.httpScheme() + "://" + cfg.APIHostname,
		authBase:  cfg.httpScheme() + "://" + cfg.AuthHostname,
		log:       cfg.Logger,
		tracer:    otel.Tracer(tracerName),
		listeners: make(map[EventCategory][]listener),
	}, nil
}

// APIURL is the base URL of the REST API.
func (s *Socket) APIURL() string { return s.apiBase }

func (s *Socket) Logger() *slog.Logger { return s.log }

func (s *Socket) socketURL() string {
	q := url.Values{}
	q.Set("EIO", "3")
	q.Set("transport", "websocket")
	q.Set("__sails_io_sdk_version", sailsSDKVersion)
	q.Set("__sk_go_sdk_version", SDKVersion)
	return s.cfg.wsScheme() + "://" + s.cfg.APIHostname + "/socket.io/?" + q.Encode()
}

// Connected reports whether a socket connection is live.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// ConnectSocket opens the realtime connection and registers it with the
// platform. It is a no-op when a connection is already live.
func (s *Socket) ConnectSocket(ctx context.Context) error {
	if s.Connected() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	ws, resp, err := s.cfg.Dialer.DialContext(ctx, s.socketURL(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrConnectTimeout
		}
		return fmt.Errorf("skrumble: dial socket: %w", err)
	}

	c := newConnection(ws)
	go s.readLoop(c)

	select {
	case <-c.connected:
	case <-c.done:
		return c.closeErr()
	case <-ctx.Done():
		c.close(ErrConnectTimeout)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrConnectTimeout
		}
		return ctx.Err()
	}

	s.mu.Lock()
	old := s.conn
	s.conn = c
	s.mu.Unlock()
	if old != nil {
		old.close(ErrConnectionClosed)
	}

	if _, err := s.Post(ctx, "socket/register", nil); err != nil {
		s.dropConnection(c)
		c.close(ErrConnectionClosed)
		return fmt.Errorf("skrumble: register socket: %w", err)
	}
	s.log.Info("socket connected", "host", s.cfg.APIHostname)
	return nil
}

func (s *Socket) dropConnection(c *connection) {
	s.mu.Lock()
	if s.conn == c {
		s.conn = nil
	}
	s.mu.Unlock()
}

func (s *Socket) readLoop(c *connection) {
	defer s.dropConnection(c)
	go s.deliverLoop(c)
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			c.close(err)
			return
		}
		typ, payload, err := sio.ParseFrame(frame)
		if err != nil {
			s.log.Warn("skipping malformed frame", "error", err)
			continue
		}
		switch typ {
		case sio.EngineOpen:
			open, err := sio.ParseOpen(payload)
			if err != nil {
				s.log.Warn("bad open packet", "error", err)
				continue
			}
			if open.PingInterval > 0 {
				go c.keepalive(time.Duration(open.PingInterval) * time.Millisecond)
			}
		case sio.EnginePing:
			if err := c.write(sio.Frame(sio.EnginePong, payload)); err != nil {
				c.close(err)
				return
			}
		case sio.EngineClose:
			c.close(ErrConnectionClosed)
			return
		case sio.EngineMessage:
			s.handlePacket(c, payload)
		case sio.EnginePong, sio.EngineNoop, sio.EngineUpgrade:
		}
	}
}

func (s *Socket) handlePacket(c *connection, payload []byte) {
	p, err := sio.Decode(payload)
	if err != nil {
		s.log.Warn("skipping malformed packet", "error", err)
		return
	}
	switch p.Type {
	case sio.Connect:
		c.markConnected()
	case sio.Disconnect:
		c.close(ErrConnectionClosed)
	case sio.Event:
		name, args, err := p.EventName()
		if err != nil {
			s.log.Warn("skipping malformed event", "error", err)
			return
		}
		if len(args) == 0 {
			return
		}
		c.enqueuePush(EventCategory(name), args[0])
	case sio.Ack:
		args, err := p.Args()
		if err != nil {
			s.log.Warn("skipping malformed ack", "id", p.ID, "error", err)
			return
		}
		c.resolve(p.ID, args)
	case sio.Error:
		if !c.isConnected() {
			c.close(&ConnectError{Data: p.Data})
			return
		}
		s.log.Warn("socket error packet", "data", string(p.Data))
	case sio.BinaryEvent, sio.BinaryAck:
		s.log.Debug("ignoring binary packet")
	}
}

// deliverLoop hands queued push events to listeners one at a time, in
// arrival order. Listeners may issue requests: their acks are resolved by
// readLoop meanwhile. Events queued before the connection closed are still
// delivered.
func (s *Socket) deliverLoop(c *connection) {
	for {
		if p, ok := c.nextPush(); ok {
			s.dispatch(p.category, p.raw)
			continue
		}
		select {
		case <-c.wake:
		case <-c.done:
			for {
				p, ok := c.nextPush()
				if !ok {
					return
				}
				s.dispatch(p.category, p.raw)
			}
		}
	}
}

func (s *Socket) dispatch(category EventCategory, raw json.RawMessage) {
	ev, err := decodePushEvent(category, raw)
	if err != nil {
		s.log.Warn("skipping push event", "category", category, "error", err)
		return
	}
	s.cfg.Observer.EventReceived(category, ev.Verb)

	s.mu.Lock()
	handlers := make([]listener, 0, len(s.listeners[category])+len(s.listeners[CategoryAll]))
	handlers = append(handlers, s.listeners[category]...)
	if category != CategoryAll {
		handlers = append(handlers, s.listeners[CategoryAll]...)
	}
	s.mu.Unlock()

	for _, l := range handlers {
		l.handler(ev)
	}
}

// RequestOption tunes a single Request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	absolute bool
}

// WithAbsoluteURL sends the url as given instead of under the API base.
func WithAbsoluteURL() RequestOption {
	return func(o *requestOptions) { o.absolute = true }
}

type requestEnvelope struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Method  string            `json:"method"`
	Data    any               `json:"data,omitempty"`
}

type replyEnvelope struct {
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body"`
}

// Request sends an API call over the socket and returns the reply body.
// Non-2xx replies return an *APIError. Cancelling ctx abandons the wait; the
// server may still apply the call.
func (s *Socket) Request(ctx context.Context, method, path string, body any, opts ...RequestOption) (json.RawMessage, error) {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}
	method = strings.ToLower(method)

	s.mu.Lock()
	c := s.conn
	token := s.accessToken
	s.mu.Unlock()
	if c == nil {
		return nil, ErrNotConnected
	}

	target := path
	if !o.absolute {
		target = s.apiBase + "/v3/" + strings.TrimLeft(path, "/")
	}

	ctx, span := s.tracer.Start(ctx, "skrumble.request", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("skrumble.path", path),
	))
	defer span.End()

	start := time.Now()
	args, err := c.emit(ctx, method, requestEnvelope{
		URL:     target,
		Headers: map[string]string{"Authorization": "Bearer " + token},
		Method:  method,
		Data:    body,
	})
	if err != nil {
		s.cfg.Observer.RequestDone(method, 0, time.Since(start), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var reply replyEnvelope
	if len(args) == 0 {
		err = fmt.Errorf("%w: empty ack for %s %s", ErrUnexpectedResponse, method, path)
	} else if jerr := json.Unmarshal(args[0], &reply); jerr != nil {
		err = fmt.Errorf("%w: %v", ErrUnexpectedResponse, jerr)
	} else if reply.StatusCode/100 != 2 {
		err = &APIError{Method: method, URL: target, StatusCode: reply.StatusCode, Body: reply.Body}
	}
	s.cfg.Observer.RequestDone(method, reply.StatusCode, time.Since(start), err)
	span.SetAttributes(attribute.Int("http.status_code", reply.StatusCode))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return reply.Body, nil
}

func (s *Socket) Get(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return s.Request(ctx, "get", path, body)
}

func (s *Socket) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return s.Request(ctx, "post", path, body)
}

func (s *Socket) Patch(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return s.Request(ctx, "patch", path, body)
}

func (s *Socket) Delete(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return s.Request(ctx, "delete", path, body)
}

// On registers h for a push-event category. Without a live connection it
// logs a warning and returns the zero ListenerID.
func (s *Socket) On(category EventCategory, h EventHandler) ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		s.log.Warn("socket not connected", "op", "on", "category", category)
		return 0
	}
	if !category.Known() {
		s.log.Debug("listening on unknown category", "category", category)
	}
	s.nextListener++
	id := s.nextListener
	s.listeners[category] = append(s.listeners[category], listener{id: id, handler: h})
	return id
}

// Off removes one handler.
func (s *Socket) Off(category EventCategory, id ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		s.log.Warn("socket not connected", "op", "off", "category", category)
		return
	}
	ls := s.listeners[category]
	for i, l := range ls {
		if l.id == id {
			s.listeners[category] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// OffAll removes every handler of a category.
func (s *Socket) OffAll(category EventCategory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		s.log.Warn("socket not connected", "op", "off", "category", category)
		return
	}
	delete(s.listeners, category)
}

// Logout drops the connection and clears the session and tokens. The server
// is not notified.
func (s *Socket) Logout() {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.user = nil
	s.guest = nil
	s.accessToken = ""
	s.refreshToken = ""
	s.listeners = make(map[EventCategory][]listener)
	s.mu.Unlock()
	if c != nil {
		c.close(ErrConnectionClosed)
	}
}

// CurrentUser returns the logged-in user, or nil.
func (s *Socket) CurrentUser() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// CurrentGuest returns the logged-in guest, or nil.
func (s *Socket) CurrentGuest() *Guest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guest
}

// Current returns the logged-in principal, or nil.
func (s *Socket) Current() Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.user != nil:
		return s.user
	case s.guest != nil:
		return s.guest
	default:
		return nil
	}
}

// connection is one websocket and its in-flight requests.
type connection struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu        sync.Mutex
	pending   map[int64]chan []json.RawMessage
	nextID    int64
	connected chan struct{}
	isConn    bool

	done      chan struct{}
	err       error
	closeOnce sync.Once

	// pushes is unbounded so a slow listener never stalls the reader.
	pushMu sync.Mutex
	pushes []queuedPush
	wake   chan struct{}
}

type queuedPush struct {
	category EventCategory
	raw      json.RawMessage
}

func newConnection(ws *websocket.Conn) *connection {
	return &connection{
		ws:        ws,
		pending:   make(map[int64]chan []json.RawMessage),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
		wake:      make(chan struct{}, 1),
	}
}

func (c *connection) enqueuePush(category EventCategory, raw json.RawMessage) {
	c.pushMu.Lock()
	c.pushes = append(c.pushes, queuedPush{category: category, raw: raw})
	c.pushMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *connection) nextPush() (queuedPush, bool) {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()
	if len(c.pushes) == 0 {
		return queuedPush{}, false
	}
	p := c.pushes[0]
	c.pushes[0] = queuedPush{}
	c.pushes = c.pushes[1:]
	return p, true
}

func (c *connection) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *connection) markConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isConn {
		c.isConn = true
		close(c.connected)
	}
}

func (c *connection) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConn
}

// close records why the connection ended and wakes every pending request.
func (c *connection) close(reason error) {
	c.closeOnce.Do(func() {
		if reason == nil {
			reason = ErrConnectionClosed
		}
		c.mu.Lock()
		c.err = reason
		c.pending = make(map[int64]chan []json.RawMessage)
		c.mu.Unlock()
		close(c.done)
		_ = c.ws.Close()
	})
}

// closeErr always wraps ErrConnectionClosed.
func (c *connection) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if errors.Is(c.err, ErrConnectionClosed) {
		return c.err
	}
	return fmt.Errorf("%w: %w", ErrConnectionClosed, c.err)
}

func (c *connection) emit(ctx context.Context, event string, arg any) ([]json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, c.closeErr()
	default:
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan []json.RawMessage, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	p, err := sio.NewEvent(event, arg)
	if err != nil {
		c.forget(id)
		return nil, err
	}
	p.ID, p.HasID = id, true
	if err := c.write(sio.Encode(p)); err != nil {
		c.forget(id)
		return nil, fmt.Errorf("%w: write: %w", ErrConnectionClosed, err)
	}

	select {
	case args := <-ch:
		return args, nil
	case <-c.done:
		return nil, c.closeErr()
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *connection) resolve(id int64, args []json.RawMessage) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ok {
		ch <- args
	}
}

func (c *connection) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *connection) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(sio.Frame(sio.EnginePing, nil)); err != nil {
				c.close(err)
				return
			}
		}
	}
}
