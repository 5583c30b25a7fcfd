package sio

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	typ, payload, err := ParseFrame([]byte(`0{"sid":"abc","pingInterval":25000,"pingTimeout":60000}`))
	require.NoError(t, err)
	assert.Equal(t, EngineOpen, typ)

	open, err := ParseOpen(payload)
	require.NoError(t, err)
	assert.Equal(t, "abc", open.SID)
	assert.Equal(t, int64(25000), open.PingInterval)

	typ, payload, err = ParseFrame([]byte("2"))
	require.NoError(t, err)
	assert.Equal(t, EnginePing, typ)
	assert.Empty(t, payload)

	_, _, err = ParseFrame(nil)
	assert.ErrorIs(t, err, ErrEmptyFrame)

	_, _, err = ParseFrame([]byte("9"))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeConnect(t *testing.T) {
	p, err := Decode([]byte("0"))
	require.NoError(t, err)
	assert.Equal(t, Connect, p.Type)
	assert.False(t, p.HasID)
	assert.Empty(t, p.Namespace)
}

func TestDecodeConnectError(t *testing.T) {
	p, err := Decode([]byte(`4{"message":"not authorized"}`))
	require.NoError(t, err)
	assert.Equal(t, Error, p.Type)
	assert.False(t, p.HasID)
	assert.JSONEq(t, `{"message":"not authorized"}`, string(p.Data))

	p, err = Decode([]byte(`4"bad handshake"`))
	require.NoError(t, err)
	assert.Equal(t, Error, p.Type)
	assert.JSONEq(t, `"bad handshake"`, string(p.Data))
}

func TestDecodeEventWithAckID(t *testing.T) {
	p, err := Decode([]byte(`217["get",{"url":"/v3/user/me"}]`))
	require.NoError(t, err)
	assert.Equal(t, Event, p.Type)
	assert.True(t, p.HasID)
	assert.Equal(t, int64(17), p.ID)

	name, args, err := p.EventName()
	require.NoError(t, err)
	assert.Equal(t, "get", name)
	require.Len(t, args, 1)
	assert.JSONEq(t, `{"url":"/v3/user/me"}`, string(args[0]))
}

func TestDecodeNamespace(t *testing.T) {
	p, err := Decode([]byte(`2/admin,5["ping"]`))
	require.NoError(t, err)
	assert.Equal(t, "/admin", p.Namespace)
	assert.Equal(t, int64(5), p.ID)

	p, err = Decode([]byte(`0/admin`))
	require.NoError(t, err)
	assert.Equal(t, Connect, p.Type)
	assert.Equal(t, "/admin", p.Namespace)
}

func TestDecodeRejectsBadPayload(t *testing.T) {
	_, err := Decode([]byte(`2["chat",`))
	assert.Error(t, err)

	_, err = Decode([]byte(`5-["bin"]`))
	assert.ErrorIs(t, err, ErrBinaryPacket)

	_, err = Decode([]byte("x"))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestEncodeEventRoundTrip(t *testing.T) {
	p, err := NewEvent("post", map[string]any{"url": "/v3/socket/register"})
	require.NoError(t, err)
	p.ID, p.HasID = 3, true

	frame := Encode(p)
	assert.Equal(t, `423["post",{"url":"/v3/socket/register"}]`, string(frame))

	typ, payload, err := ParseFrame(frame)
	require.NoError(t, err)
	require.Equal(t, EngineMessage, typ)

	decoded, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, p.ID, decoded.ID)
	assert.JSONEq(t, string(p.Data), string(decoded.Data))
}

func TestEncodeAck(t *testing.T) {
	p, err := NewAck(9, map[string]any{"statusCode": 200, "body": []int{1}})
	require.NoError(t, err)
	assert.Equal(t, `439[{"body":[1],"statusCode":200}]`, string(Encode(p)))

	args, err := p.Args()
	require.NoError(t, err)
	require.Len(t, args, 1)

	var reply struct {
		StatusCode int `json:"statusCode"`
	}
	require.NoError(t, json.Unmarshal(args[0], &reply))
	assert.Equal(t, 200, reply.StatusCode)
}

func TestEncodeNamespacedConnect(t *testing.T) {
	assert.Equal(t, "40/chat", string(Encode(Packet{Type: Connect, Namespace: "/chat"})))
	assert.Equal(t, "40", string(Encode(Packet{Type: Connect, Namespace: "/"})))
}

func TestEventNameOnAck(t *testing.T) {
	_, _, err := Packet{Type: Ack}.EventName()
	assert.ErrorIs(t, err, ErrNotEvent)
}
