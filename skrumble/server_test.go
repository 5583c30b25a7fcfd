package skrumble

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/skrumble/skrumble-go/sio"
)

// fakeRequest is one API call received over the socket.
type fakeRequest struct {
	Method        string
	Path          string
	Authorization string
	Data          json.RawMessage
}

type fakeReply struct {
	status int
	body   any
	// silent leaves the request unanswered.
	silent bool
}

func okReply(body any) fakeReply { return fakeReply{status: http.StatusOK, body: body} }

type fakeRoute func(req fakeRequest) fakeReply

// fakeServer speaks enough of the platform's HTTP and socket.io surface to
// drive a Socket end to end.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu            sync.Mutex
	routes        map[string]fakeRoute
	requests      []fakeRequest
	logins        []map[string]string
	conns         []*fakeConn
	rejectConnect bool
	loginStatus   int
	tokens        tokenReply
}

type fakeConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *fakeConn) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		t:           t,
		routes:      make(map[string]fakeRoute),
		loginStatus: http.StatusOK,
		tokens:      tokenReply{AccessToken: "access-1", RefreshToken: "refresh-1"},
	}
	fs.handle("post", "socket/register", func(fakeRequest) fakeReply { return okReply(map[string]any{}) })

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/login-user", fs.serveLogin)
	mux.HandleFunc("/guest/join", fs.serveLogin)
	mux.HandleFunc("/v1/client", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, map[string]string{
			"id":            "client-1",
			"name":          body["name"],
			"client_id":     "generated-id",
			"client_secret": "generated-secret",
		})
	})
	mux.HandleFunc("/socket.io/", fs.serveSocket)
	fs.srv = httptest.NewServer(mux)
	t.Cleanup(fs.close)
	return fs
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (fs *fakeServer) host() string { return strings.TrimPrefix(fs.srv.URL, "http://") }

func (fs *fakeServer) handle(method, path string, route fakeRoute) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.routes[method+" "+path] = route
}

// reply registers a fixed 200 reply.
func (fs *fakeServer) reply(method, path string, body any) {
	fs.handle(method, path, func(fakeRequest) fakeReply { return okReply(body) })
}

func (fs *fakeServer) serveLogin(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	fs.mu.Lock()
	body["_path"] = r.URL.Path
	fs.logins = append(fs.logins, body)
	status, tokens := fs.loginStatus, fs.tokens
	fs.mu.Unlock()
	if status != http.StatusOK {
		writeJSON(w, status, map[string]string{"error": "invalid_grant"})
		return
	}
	writeJSON(w, status, tokens)
}

var fakeUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (fs *fakeServer) serveSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := fakeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &fakeConn{ws: ws}
	fs.mu.Lock()
	fs.conns = append(fs.conns, c)
	reject := fs.rejectConnect
	fs.mu.Unlock()

	_ = c.write(sio.Frame(sio.EngineOpen, []byte(`{"sid":"sid-1","upgrades":[],"pingInterval":25000,"pingTimeout":60000}`)))
	if reject {
		_ = c.write([]byte(`44{"message":"not authorized"}`))
		return
	}
	_ = c.write([]byte("40"))

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return
		}
		typ, payload, err := sio.ParseFrame(frame)
		if err != nil {
			continue
		}
		switch typ {
		case sio.EnginePing:
			_ = c.write(sio.Frame(sio.EnginePong, payload))
		case sio.EngineMessage:
			fs.answer(c, payload)
		}
	}
}

func (fs *fakeServer) answer(c *fakeConn, payload []byte) {
	p, err := sio.Decode(payload)
	if err != nil || p.Type != sio.Event {
		return
	}
	method, args, err := p.EventName()
	if err != nil || len(args) == 0 {
		return
	}
	var env requestEnvelope
	var raw struct {
		Data json.RawMessage `json:"data"`
	}
	_ = json.Unmarshal(args[0], &env)
	_ = json.Unmarshal(args[0], &raw)

	path := env.URL
	if i := strings.Index(path, "/v3/"); i >= 0 {
		path = path[i+len("/v3/"):]
	}
	req := fakeRequest{
		Method:        method,
		Path:          path,
		Authorization: env.Headers["Authorization"],
		Data:          raw.Data,
	}

	fs.mu.Lock()
	fs.requests = append(fs.requests, req)
	route, found := fs.routes[method+" "+path]
	fs.mu.Unlock()

	reply := fakeReply{status: http.StatusNotFound, body: map[string]string{"error": "no route for " + method + " " + path}}
	if found {
		reply = route(req)
	}
	if reply.silent || !p.HasID {
		return
	}
	ack, err := sio.NewAck(p.ID, map[string]any{"statusCode": reply.status, "body": reply.body})
	if err != nil {
		return
	}
	_ = c.write(sio.Encode(ack))
}

// push emits a push event to every open connection.
func (fs *fakeServer) push(category EventCategory, event any) {
	fs.t.Helper()
	p, err := sio.NewEvent(string(category), event)
	require.NoError(fs.t, err)
	fs.mu.Lock()
	conns := append([]*fakeConn(nil), fs.conns...)
	fs.mu.Unlock()
	for _, c := range conns {
		_ = c.write(sio.Encode(p))
	}
}

// drop closes every open connection from the server side.
func (fs *fakeServer) drop() {
	fs.mu.Lock()
	conns := fs.conns
	fs.conns = nil
	fs.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.Close()
	}
}

func (fs *fakeServer) close() {
	fs.drop()
	fs.srv.Close()
}

func (fs *fakeServer) received() []fakeRequest {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]fakeRequest(nil), fs.requests...)
}

func (fs *fakeServer) loginBodies() []map[string]string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]map[string]string(nil), fs.logins...)
}

// find returns the first request made to method and path.
func (fs *fakeServer) find(method, path string) (fakeRequest, bool) {
	for _, r := range fs.received() {
		if r.Method == method && r.Path == path {
			return r, true
		}
	}
	return fakeRequest{}, false
}

func (fs *fakeServer) socket(t *testing.T) *Socket {
	t.Helper()
	s, err := NewSocket(Config{
		ClientID:       "client-id",
		ClientSecret:   "client-secret",
		APIHostname:    fs.host(),
		AuthHostname:   fs.host(),
		Insecure:       true,
		ConnectTimeout: 2 * time.Second,
		Logger:         NewLogger(io.Discard, LogNone),
	})
	require.NoError(t, err)
	t.Cleanup(s.Logout)
	return s
}

// connected returns a socket holding tokens and a live connection.
func (fs *fakeServer) connected(t *testing.T) *Socket {
	t.Helper()
	s := fs.socket(t)
	s.storeTokens(fs.tokens)
	require.NoError(t, s.ConnectSocket(testContext(t)))
	return s
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}
