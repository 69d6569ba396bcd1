package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/resync/internal/ir"
)

// Codec converts messages to and from frames.
type Codec interface {
	Name() string
	Encode(m Message) ([]byte, error)
	Decode(frame []byte) (Message, error)
}

// wireMessage is the encoded form of Message. State travels as plain Go
// values and is converted back to IR on decode.
type wireMessage struct {
	Kind       Kind   `cbor:"kind" json:"kind"`
	RID        string `cbor:"rid" json:"rid"`
	Revision   int64  `cbor:"revision" json:"revision"`
	State      any    `cbor:"state,omitempty" json:"state,omitempty"`
	Checksum   string `cbor:"checksum,omitempty" json:"checksum,omitempty"`
	Origin     string `cbor:"origin,omitempty" json:"origin,omitempty"`
	ActionType string `cbor:"action_type,omitempty" json:"action_type,omitempty"`
	Error      string `cbor:"error,omitempty" json:"error,omitempty"`
	Token      uint64 `cbor:"token,omitempty" json:"token,omitempty"`
}

func toWire(m Message) wireMessage {
	return wireMessage{
		Kind:       m.Kind,
		RID:        string(m.RID),
		Revision:   m.Revision,
		State:      ir.ToAny(m.State),
		Checksum:   m.Checksum,
		Origin:     m.Origin,
		ActionType: m.ActionType,
		Error:      m.Error,
		Token:      m.Token,
	}
}

func fromWire(w wireMessage) (Message, error) {
	m := Message{
		Kind:       w.Kind,
		RID:        ir.RID(w.RID),
		Revision:   w.Revision,
		Checksum:   w.Checksum,
		Origin:     w.Origin,
		ActionType: w.ActionType,
		Error:      w.Error,
		Token:      w.Token,
	}
	if w.State != nil {
		state, err := ir.FromAny(w.State)
		if err != nil {
			return Message{}, fmt.Errorf("decode %s state: %w", w.Kind, err)
		}
		m.State = state
	}
	return m, nil
}

// CBORCodec encodes messages with Core Deterministic Encoding (RFC 8949
// §4.2). Equal messages always produce identical frames.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec builds the CBOR codec. Panics if the encoder options are
// rejected, which only happens on a library incompatibility.
func NewCBORCodec() *CBORCodec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("channel: CBOR encoder initialization failed: " + err.Error())
	}
	dec, err := cbor.DecOptions{
		// State values decode into any; resource objects always have
		// string keys.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("channel: CBOR decoder initialization failed: " + err.Error())
	}
	return &CBORCodec{enc: enc, dec: dec}
}

// Name implements Codec.
func (c *CBORCodec) Name() string { return "cbor" }

// Encode implements Codec.
func (c *CBORCodec) Encode(m Message) ([]byte, error) {
	frame, err := c.enc.Marshal(toWire(m))
	if err != nil {
		return nil, fmt.Errorf("cbor encode %s: %w", m.Kind, err)
	}
	return frame, nil
}

// Decode implements Codec.
func (c *CBORCodec) Decode(frame []byte) (Message, error) {
	var w wireMessage
	if err := c.dec.Unmarshal(frame, &w); err != nil {
		return Message{}, fmt.Errorf("cbor decode: %w", err)
	}
	return fromWire(w)
}

// JSONCodec encodes messages as JSON. Numbers are decoded with UseNumber so
// large integers survive.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return "json" }

// Encode implements Codec.
func (JSONCodec) Encode(m Message) ([]byte, error) {
	frame, err := json.Marshal(toWire(m))
	if err != nil {
		return nil, fmt.Errorf("json encode %s: %w", m.Kind, err)
	}
	return frame, nil
}

// Decode implements Codec.
func (JSONCodec) Decode(frame []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(frame))
	dec.UseNumber()

	var w wireMessage
	if err := dec.Decode(&w); err != nil {
		return Message{}, fmt.Errorf("json decode: %w", err)
	}
	return fromWire(w)
}

// CodecByName returns the codec registered under name ("cbor" or "json").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "cbor":
		return NewCBORCodec(), nil
	case "json":
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q (want cbor or json)", name)
	}
}
