package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skrumble/skrumble-go/skrumble"
)

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(context.Context, string, any, map[string]string) error {
	p.calls++
	return errors.New("channel closed")
}

func TestPublishEventCountsErrors(t *testing.T) {
	SetPublisher(nil)
	require.NoError(t, PublishEvent(context.Background(), "events.chat", EventEnvelope{}, nil))

	p := &failingPublisher{}
	SetPublisher(p)
	t.Cleanup(func() { SetPublisher(nil) })

	before := testutil.ToFloat64(amqpPublishErrorsTotal)
	err := PublishEvent(context.Background(), EventRoutingKey("chat"), EventEnvelope{EventType: "push_event"}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, before+1, testutil.ToFloat64(amqpPublishErrorsTotal))
}

func TestBuildHeaders(t *testing.T) {
	assert.Empty(t, BuildHeaders("", ""))
	assert.Equal(t, map[string]string{"x-request-id": "r1", "trace_id": "t1"}, BuildHeaders("r1", "t1"))
	assert.Equal(t, "events.teamuser", EventRoutingKey("teamuser"))
	assert.Empty(t, TraceID(context.Background()))
}

func TestIPFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:4242"
	assert.Equal(t, "10.0.0.5", IPFromRequest(r))

	r.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	assert.Equal(t, "203.0.113.9", IPFromRequest(r))

	r.Header.Set("X-Request-Id", "req-1")
	r.Header.Set("X-Client-Id", "dashboard")
	assert.Equal(t, "req-1", RequestIDFromRequest(r))
	assert.Equal(t, "dashboard", ClientIDFromRequest(r))
}

func TestSDKObserver(t *testing.T) {
	obs := SDKObserver{}

	before := testutil.ToFloat64(sdkRequestsTotal.WithLabelValues("GET", "404"))
	obs.RequestDone("GET", 404, 10*time.Millisecond, errors.New("not found"))
	assert.Equal(t, before+1, testutil.ToFloat64(sdkRequestsTotal.WithLabelValues("GET", "404")))

	before = testutil.ToFloat64(sdkRequestsTotal.WithLabelValues("POST", "disconnected"))
	obs.RequestDone("POST", 0, 0, skrumble.ErrNotConnected)
	assert.Equal(t, before+1, testutil.ToFloat64(sdkRequestsTotal.WithLabelValues("POST", "disconnected")))

	before = testutil.ToFloat64(pushEventsTotal.WithLabelValues("chat", "addedTo"))
	obs.EventReceived(skrumble.CategoryChat, skrumble.VerbAddedTo)
	assert.Equal(t, before+1, testutil.ToFloat64(pushEventsTotal.WithLabelValues("chat", "addedTo")))
}

func TestSDKStatusLabel(t *testing.T) {
	assert.Equal(t, "200", sdkStatusLabel(200, nil))
	assert.Equal(t, "ok", sdkStatusLabel(0, nil))
	assert.Equal(t, "disconnected", sdkStatusLabel(0, skrumble.ErrConnectionClosed))
	assert.Equal(t, "error", sdkStatusLabel(0, context.DeadlineExceeded))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMetricsMiddleware())
	r.GET("/chats/:chat_id", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, "/chats/:chat_id", "418")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chats/c1", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
