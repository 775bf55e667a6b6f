package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec defines the wire format of events.
type Codec interface {
	// Encode serializes an event to bytes.
	Encode(e *Event) ([]byte, error)

	// Decode deserializes bytes into an event.
	Decode(data []byte) (*Event, error)

	// Name returns the codec identifier.
	Name() string
}

// CodecName constants for configuration.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns a codec by name. Defaults to JSON.
func GetCodec(name string) Codec {
	switch name {
	case CodecNameMsgpack:
		return &MsgpackCodec{}
	default:
		return &JSONCodec{}
	}
}

type jsonEnvelope struct {
	ID        string          `json:"id"`
	Op        Op              `json:"op"`
	Level     Level           `json:"level"`
	Timestamp time.Time       `json:"ts"`
	Data      json.RawMessage `json:"data"`
}

// JSONCodec encodes events as JSON.
type JSONCodec struct{}

func (c *JSONCodec) Encode(e *Event) ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("broadcast: event %s has no payload", e.ID)
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jsonEnvelope{ID: e.ID, Op: e.Payload.Op(), Level: e.Payload.Level(), Timestamp: e.Timestamp, Data: data})
}

func (c *JSONCodec) Decode(data []byte) (*Event, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	p, err := newPayload(env.Op)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Data, p); err != nil {
		return nil, fmt.Errorf("broadcast: decode %s payload: %w", env.Op, err)
	}
	return &Event{ID: env.ID, Op: env.Op, Level: env.Level, Timestamp: env.Timestamp, Payload: p}, nil
}

func (c *JSONCodec) Name() string { return CodecNameJSON }

type msgpackEnvelope struct {
	ID        string             `msgpack:"id"`
	Op        Op                 `msgpack:"op"`
	Level     Level              `msgpack:"level"`
	Timestamp time.Time          `msgpack:"ts"`
	Data      msgpack.RawMessage `msgpack:"data"`
}

// MsgpackCodec encodes events as MessagePack.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(e *Event) ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("broadcast: event %s has no payload", e.ID)
	}
	data, err := msgpack.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msgpackEnvelope{ID: e.ID, Op: e.Payload.Op(), Level: e.Payload.Level(), Timestamp: e.Timestamp, Data: data})
}

func (c *MsgpackCodec) Decode(data []byte) (*Event, error) {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	p, err := newPayload(env.Op)
	if err != nil {
		return nil, err
	}
	if err := msgpack.Unmarshal(env.Data, p); err != nil {
		return nil, fmt.Errorf("broadcast: decode %s payload: %w", env.Op, err)
	}
	return &Event{ID: env.ID, Op: env.Op, Level: env.Level, Timestamp: env.Timestamp, Payload: p}, nil
}

func (c *MsgpackCodec) Name() string { return CodecNameMsgpack }
