// Package sio encodes and decodes the text frames of the engine.io v3 /
// socket.io v2 protocol spoken by the platform's realtime endpoint.
//
// A websocket frame carries one engine.io packet: a single type digit
// followed by a payload. Message packets (type 4) wrap one socket.io packet,
// itself a type digit, an optional namespace, an optional ack id and a JSON
// payload:
//
//	42["chat",{"verb":"updated"}]      event
//	4217["get",{"url":"/v3/user/me"}]  event expecting ack 17
//	4317[{"statusCode":200}]           ack 17
package sio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// EngineType is an engine.io packet type.
type EngineType byte

const (
	EngineOpen    EngineType = '0'
	EngineClose   EngineType = '1'
	EnginePing    EngineType = '2'
	EnginePong    EngineType = '3'
	EngineMessage EngineType = '4'
	EngineUpgrade EngineType = '5'
	EngineNoop    EngineType = '6'
)

func (t EngineType) String() string {
	switch t {
	case EngineOpen:
		return "open"
	case EngineClose:
		return "close"
	case EnginePing:
		return "ping"
	case EnginePong:
		return "pong"
	case EngineMessage:
		return "message"
	case EngineUpgrade:
		return "upgrade"
	case EngineNoop:
		return "noop"
	default:
		return fmt.Sprintf("engine(%q)", byte(t))
	}
}

// PacketType is a socket.io packet type.
type PacketType int

const (
	Connect PacketType = iota
	Disconnect
	Event
	Ack
	Error
	BinaryEvent
	BinaryAck
)

func (t PacketType) String() string {
	switch t {
	case Connect:
		return "connect"
	case Disconnect:
		return "disconnect"
	case Event:
		return "event"
	case Ack:
		return "ack"
	case Error:
		return "error"
	case BinaryEvent:
		return "binary_event"
	case BinaryAck:
		return "binary_ack"
	default:
		return "packet(" + strconv.Itoa(int(t)) + ")"
	}
}

var (
	ErrEmptyFrame   = errors.New("sio: empty frame")
	ErrUnknownType  = errors.New("sio: unknown packet type")
	ErrNotEvent     = errors.New("sio: packet is not an event")
	ErrBinaryPacket = errors.New("sio: binary packets are not supported")
)

// Open is the payload of the engine.io open packet.
type Open struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
}

// Packet is a decoded socket.io packet.
type Packet struct {
	Type      PacketType
	Namespace string
	// ID is the ack id; only meaningful when HasID is set.
	ID    int64
	HasID bool
	Data  json.RawMessage
}

// ParseFrame splits a websocket text frame into its engine.io type and
// payload.
func ParseFrame(frame []byte) (EngineType, []byte, error) {
	if len(frame) == 0 {
		return 0, nil, ErrEmptyFrame
	}
	t := EngineType(frame[0])
	if t < EngineOpen || t > EngineNoop {
		return 0, nil, fmt.Errorf("%w: engine %q", ErrUnknownType, frame[0])
	}
	return t, frame[1:], nil
}

// ParseOpen decodes the payload of an engine.io open packet.
func ParseOpen(payload []byte) (Open, error) {
	var o Open
	if err := json.Unmarshal(payload, &o); err != nil {
		return Open{}, fmt.Errorf("sio: decode open packet: %w", err)
	}
	return o, nil
}

// Decode parses a socket.io packet carried by an engine.io message.
func Decode(payload []byte) (Packet, error) {
	if len(payload) == 0 {
		return Packet{}, ErrEmptyFrame
	}
	c := payload[0]
	if c < '0' || c > '6' {
		return Packet{}, fmt.Errorf("%w: socket %q", ErrUnknownType, c)
	}
	p := Packet{Type: PacketType(c - '0')}
	if p.Type == BinaryEvent || p.Type == BinaryAck {
		return Packet{}, ErrBinaryPacket
	}
	rest := payload[1:]

	if len(rest) > 0 && rest[0] == '/' {
		end := bytes.IndexByte(rest, ',')
		if end < 0 {
			p.Namespace = string(rest)
			return p, nil
		}
		p.Namespace = string(rest[:end])
		rest = rest[end+1:]
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		id, err := strconv.ParseInt(string(rest[:i]), 10, 64)
		if err != nil {
			return Packet{}, fmt.Errorf("sio: ack id: %w", err)
		}
		p.ID, p.HasID = id, true
		rest = rest[i:]
	}

	if len(rest) > 0 {
		if !json.Valid(rest) {
			return Packet{}, fmt.Errorf("sio: invalid %s payload", p.Type)
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// Encode renders p as a websocket frame, engine.io message prefix included.
func Encode(p Packet) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(EngineMessage))
	buf.WriteByte(byte('0' + p.Type))
	if p.Namespace != "" && p.Namespace != "/" {
		buf.WriteString(p.Namespace)
		if p.HasID || len(p.Data) > 0 {
			buf.WriteByte(',')
		}
	}
	if p.HasID {
		buf.WriteString(strconv.FormatInt(p.ID, 10))
	}
	buf.Write(p.Data)
	return buf.Bytes()
}

// NewEvent builds an event packet whose payload is [name, args...].
func NewEvent(name string, args ...any) (Packet, error) {
	data, err := json.Marshal(append([]any{name}, args...))
	if err != nil {
		return Packet{}, fmt.Errorf("sio: encode event %q: %w", name, err)
	}
	return Packet{Type: Event, Data: data}, nil
}

// NewAck builds an ack packet for id whose payload is [args...].
func NewAck(id int64, args ...any) (Packet, error) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return Packet{}, fmt.Errorf("sio: encode ack %d: %w", id, err)
	}
	return Packet{Type: Ack, ID: id, HasID: true, Data: data}, nil
}

// EventName splits an event packet into its name and arguments.
func (p Packet) EventName() (string, []json.RawMessage, error) {
	if p.Type != Event {
		return "", nil, ErrNotEvent
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(p.Data, &parts); err != nil {
		return "", nil, fmt.Errorf("sio: decode event: %w", err)
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("sio: event without a name")
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("sio: event name: %w", err)
	}
	return name, parts[1:], nil
}

// Args decodes the argument list of an ack packet.
func (p Packet) Args() ([]json.RawMessage, error) {
	if len(p.Data) == 0 {
		return nil, nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal(p.Data, &args); err != nil {
		return nil, fmt.Errorf("sio: decode %s args: %w", p.Type, err)
	}
	return args, nil
}

// Frame renders a bare engine.io packet such as a ping or pong.
func Frame(t EngineType, payload []byte) []byte {
	return append([]byte{byte(t)}, payload...)
}
