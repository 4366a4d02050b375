package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/uri"
)

// Codec converts messages to and from a transport's wire bytes.
type Codec interface {
	Marshal(m *Message) ([]byte, error)
	Unmarshal(data []byte) (*Message, error)
	ContentType() string
}

// wireFormat is shared by both codecs. URIs travel in their text form.
type wireFormat struct {
	ID        string   `json:"id" cbor:"1,keyasint"`
	Kind      Kind     `json:"kind" cbor:"2,keyasint"`
	Source    uri.URI  `json:"source" cbor:"3,keyasint"`
	Sink      *uri.URI `json:"sink,omitempty" cbor:"4,keyasint,omitempty"`
	TTLMillis int64    `json:"ttl_ms,omitempty" cbor:"5,keyasint,omitempty"`
	Priority  uint8    `json:"priority,omitempty" cbor:"6,keyasint,omitempty"`
	Format    Format   `json:"format,omitempty" cbor:"7,keyasint,omitempty"`
	RequestID string   `json:"request_id,omitempty" cbor:"8,keyasint,omitempty"`
	Payload   []byte   `json:"payload,omitempty" cbor:"9,keyasint,omitempty"`
}

func toWire(m *Message) wireFormat {
	w := wireFormat{
		ID:        m.ID.String(),
		Kind:      m.Kind,
		Source:    m.Source,
		Sink:      m.Sink,
		TTLMillis: m.TTL.Milliseconds(),
		Priority:  m.Priority,
		Format:    m.Format,
		Payload:   m.Payload,
	}
	if m.RequestID != uuid.Nil {
		w.RequestID = m.RequestID.String()
	}
	return w
}

func fromWire(w wireFormat) (*Message, error) {
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: id: %v", errors.ErrParsingFailed, err)
	}
	m := &Message{
		ID:       id,
		Kind:     w.Kind,
		Source:   w.Source,
		Sink:     w.Sink,
		TTL:      time.Duration(w.TTLMillis) * time.Millisecond,
		Priority: w.Priority,
		Format:   w.Format,
		Payload:  w.Payload,
	}
	if w.RequestID != "" {
		if m.RequestID, err = uuid.Parse(w.RequestID); err != nil {
			return nil, fmt.Errorf("%w: request_id: %v", errors.ErrParsingFailed, err)
		}
	}
	return m, nil
}

// JSONCodec encodes messages as JSON objects with a base64 payload.
type JSONCodec struct{}

// ContentType implements Codec.
func (JSONCodec) ContentType() string { return "application/json" }

// Marshal implements Codec.
func (JSONCodec) Marshal(m *Message) ([]byte, error) {
	data, err := json.Marshal(toWire(m))
	if err != nil {
		return nil, errors.WrapInvalid(err, "JSONCodec", "Marshal", "encode message")
	}
	return data, nil
}

// Unmarshal implements Codec.
func (JSONCodec) Unmarshal(data []byte) (*Message, error) {
	var w wireFormat
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.InvalidArgument(err, "JSONCodec", "Unmarshal", "decode message")
	}
	m, err := fromWire(w)
	if err != nil {
		return nil, errors.InvalidArgument(err, "JSONCodec", "Unmarshal", "decode message")
	}
	return m, nil
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	var err error
	cborEnc, err = encOptions.EncMode()
	if err != nil {
		panic("message: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("message: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBORCodec encodes messages as deterministic CBOR maps with integer keys.
type CBORCodec struct{}

// ContentType implements Codec.
func (CBORCodec) ContentType() string { return "application/cbor" }

// Marshal implements Codec.
func (CBORCodec) Marshal(m *Message) ([]byte, error) {
	data, err := cborEnc.Marshal(toWire(m))
	if err != nil {
		return nil, errors.WrapInvalid(err, "CBORCodec", "Marshal", "encode message")
	}
	return data, nil
}

// Unmarshal implements Codec.
func (CBORCodec) Unmarshal(data []byte) (*Message, error) {
	var w wireFormat
	if err := cborDec.Unmarshal(data, &w); err != nil {
		return nil, errors.InvalidArgument(err, "CBORCodec", "Unmarshal", "decode message")
	}
	m, err := fromWire(w)
	if err != nil {
		return nil, errors.InvalidArgument(err, "CBORCodec", "Unmarshal", "decode message")
	}
	return m, nil
}
