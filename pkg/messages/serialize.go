package messages

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cbodonnell/flywheel-stats/pkg/events"
	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	encoder = mustNewEncoder()
	decoder = mustNewDecoder()
)

func mustNewEncoder() *zstd.Encoder {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
	}
	return enc
}

func mustNewDecoder() *zstd.Decoder {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MessageBufferSize))
	if err != nil {
		panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
	}
	return dec
}

func SerializeMessage(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}
	return b, nil
}

// SerializeMessageCompressed serializes m and compresses it with zstd.
func SerializeMessageCompressed(m *Message) ([]byte, error) {
	b, err := SerializeMessage(m)
	if err != nil {
		return nil, err
	}
	return encoder.EncodeAll(b, make([]byte, 0, len(b))), nil
}

// DeserializeMessage accepts plain JSON or zstd-compressed JSON.
func DeserializeMessage(data []byte) (*Message, error) {
	b, err := decompress(data)
	if err != nil {
		return nil, err
	}
	m := &Message{}
	if err := json.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %w", err)
	}
	return m, nil
}

func decompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	b, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress message: %w", err)
	}
	return b, nil
}

// NewMessage builds the envelope of e.
func NewMessage(e events.Event) (*Message, error) {
	var payload any
	switch e.Kind {
	case events.EventJoin:
		payload = JoinPayload{DisplayName: e.DisplayName}
	case events.EventQuit:
	case events.EventMove:
		payload = MovePayload{Distance: e.Amount}
	case events.EventDeath:
		payload = DeathPayload{KillerID: e.KillerID}
	default:
		payload = CounterPayload{Amount: e.Amount}
	}

	m := &Message{
		EntityID:  e.EntityID,
		Type:      string(e.Kind),
		Timestamp: e.Timestamp,
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize payload: %w", err)
		}
		m.Payload = b
	}
	return m, nil
}

// ToEvent decodes the kind specific payload and validates the result.
func (m *Message) ToEvent() (events.Event, error) {
	e := events.Event{
		EntityID:  m.EntityID,
		Kind:      events.EventKind(m.Type),
		Timestamp: m.Timestamp,
	}

	var err error
	switch e.Kind {
	case events.EventJoin:
		var p JoinPayload
		err = unmarshalPayload(m.Payload, &p)
		e.DisplayName = p.DisplayName
	case events.EventQuit:
	case events.EventMove:
		var p MovePayload
		err = unmarshalPayload(m.Payload, &p)
		e.Amount = p.Distance
	case events.EventDeath:
		var p DeathPayload
		err = unmarshalPayload(m.Payload, &p)
		e.KillerID = p.KillerID
	default:
		var p CounterPayload
		err = unmarshalPayload(m.Payload, &p)
		e.Amount = p.Amount
	}
	if err != nil {
		return events.Event{}, fmt.Errorf("failed to deserialize %s payload: %w", m.Type, err)
	}

	if err := e.Validate(); err != nil {
		return events.Event{}, err
	}
	return e, nil
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func SerializeStatus(s *Status) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize status: %w", err)
	}
	return b, nil
}

func DeserializeStatus(data []byte) (*Status, error) {
	b, err := decompress(data)
	if err != nil {
		return nil, err
	}
	s := &Status{}
	if err := json.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("failed to deserialize status: %w", err)
	}
	return s, nil
}
