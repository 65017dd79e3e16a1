package protocol

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/rtmsg/broker/internal/protocolerr"
)

// Codec encodes/decodes typed Messages to/from wire Frames (spec.md §4.5).
type Codec struct {
	maxFrameSize int
}

func NewCodec(maxFrameSize int) *Codec {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Codec{maxFrameSize: maxFrameSize}
}

// Encode serializes msg.Data as UTF-8 JSON and writes the full wire
// frame: [uint32 BE length][uint8 type][payload].
func (c *Codec) Encode(msg Message) ([]byte, error) {
	if !IsValidType(msg.Type) {
		return nil, protocolerr.New(protocolerr.InvalidInput, "unknown message type")
	}

	payload, err := json.Marshal(msg.Data)
	if err != nil {
		return nil, protocolerr.Wrap(protocolerr.InvalidInput, "failed to marshal payload", err)
	}

	frameLen := typeByteSize + len(payload)
	if frameLen > c.maxFrameSize {
		return nil, protocolerr.New(protocolerr.FrameTooLarge, "encoded message exceeds max frame size")
	}

	out := make([]byte, lengthPrefixSize+frameLen)
	binary.BigEndian.PutUint32(out[:lengthPrefixSize], uint32(frameLen))
	out[lengthPrefixSize] = byte(msg.Type)
	copy(out[lengthPrefixSize+typeByteSize:], payload)
	return out, nil
}

// Decode re-validates the type byte (defence in depth — the parser
// already checked it) and JSON-parses the payload.
func (c *Codec) Decode(frame Frame) (Message, error) {
	if !IsValidType(frame.Type) {
		return Message{}, protocolerr.New(protocolerr.InvalidMessageType, "unknown message type")
	}

	var data any
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &data); err != nil {
			return Message{}, protocolerr.Wrap(protocolerr.InvalidFrame, "invalid JSON payload", err)
		}
	}

	return Message{Type: frame.Type, Data: data}, nil
}

// --- Convenience encoders so handlers never hand-craft wire messages. ---

func (c *Codec) EncodeError(code, message string) ([]byte, error) {
	return c.Encode(Message{Type: TypeError, Data: map[string]any{
		"code":    code,
		"message": message,
	}})
}

func (c *Codec) EncodeAuthSuccess(userID, message string) ([]byte, error) {
	return c.Encode(Message{Type: TypeAuthSuccess, Data: map[string]any{
		"userId":  userID,
		"message": message,
	}})
}

func (c *Codec) EncodeAuthError(message string) ([]byte, error) {
	return c.Encode(Message{Type: TypeAuthError, Data: map[string]any{
		"message": message,
	}})
}

func (c *Codec) EncodeSubscribed(topic, subscriptionID string) ([]byte, error) {
	return c.Encode(Message{Type: TypeSubscribed, Data: map[string]any{
		"topic":          topic,
		"subscriptionId": subscriptionID,
	}})
}

func (c *Codec) EncodeUnsubscribed(topic string) ([]byte, error) {
	return c.Encode(Message{Type: TypeUnsubscribed, Data: map[string]any{
		"topic": topic,
	}})
}

func (c *Codec) EncodeServerMessage(topic string, content any, timestamp time.Time) ([]byte, error) {
	return c.Encode(Message{Type: TypeServerMessage, Data: map[string]any{
		"topic":     topic,
		"content":   content,
		"timestamp": timestamp.UTC().Format(time.RFC3339Nano),
	}})
}

func (c *Codec) EncodePong(timestamp any) ([]byte, error) {
	return c.Encode(Message{Type: TypePong, Data: map[string]any{
		"timestamp": timestamp,
	}})
}
