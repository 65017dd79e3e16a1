package protocol

import (
	"reflect"
	"testing"
	"time"
)

func TestCodecRoundTrip(t *testing.T) {
	codec := NewCodec(DefaultMaxFrameSize)
	cases := []Message{
		{Type: TypeAuth, Data: map[string]any{"token": "abc"}},
		{Type: TypeSubscribe, Data: map[string]any{"topic": "room"}},
		{Type: TypePing, Data: nil},
	}

	for _, m := range cases {
		encoded, err := codec.Encode(m)
		if err != nil {
			t.Fatalf("encode(%v): %v", m, err)
		}
		frame, err := frameFromBytes(t, encoded)
		if err != nil {
			t.Fatalf("parse encoded bytes: %v", err)
		}
		decoded, err := codec.Decode(frame)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded.Type != m.Type {
			t.Errorf("type mismatch: got %v want %v", decoded.Type, m.Type)
		}
		if !reflect.DeepEqual(decoded.Data, m.Data) {
			t.Errorf("data mismatch: got %#v want %#v", decoded.Data, m.Data)
		}
	}
}

func frameFromBytes(t *testing.T, encoded []byte) (Frame, error) {
	t.Helper()
	p := NewFrameParser(DefaultMaxFrameSize)
	frames, errs := p.Feed(encoded)
	if len(errs) != 0 {
		return Frame{}, errs[0]
	}
	if len(frames) != 1 {
		t.Fatalf("expected exactly 1 frame, got %d", len(frames))
	}
	return frames[0], nil
}

func TestCodecSizeBound(t *testing.T) {
	codec := NewCodec(16)
	_, err := codec.Encode(Message{Type: TypeMessage, Data: map[string]any{
		"topic":   "x",
		"content": "this payload is much too large for the limit",
	}})
	if err == nil {
		t.Fatal("expected FrameTooLarge error for oversized payload")
	}
}

func TestCodecInvalidTypeRejected(t *testing.T) {
	codec := NewCodec(DefaultMaxFrameSize)
	_, err := codec.Decode(Frame{Type: Type(0x77), Payload: []byte("{}")})
	if err == nil {
		t.Fatal("expected error decoding an invalid type byte")
	}
}

func TestCodecInvalidJSONPayload(t *testing.T) {
	codec := NewCodec(DefaultMaxFrameSize)
	_, err := codec.Decode(Frame{Type: TypeMessage, Payload: []byte("not json")})
	if err == nil {
		t.Fatal("expected InvalidFrame error for malformed JSON")
	}
}

func TestCodecConvenienceEncoders(t *testing.T) {
	codec := NewCodec(DefaultMaxFrameSize)
	if _, err := codec.EncodeError("BAD", "nope"); err != nil {
		t.Fatal(err)
	}
	if _, err := codec.EncodeAuthSuccess("u1", "welcome"); err != nil {
		t.Fatal(err)
	}
	if _, err := codec.EncodeSubscribed("room", "sub1"); err != nil {
		t.Fatal(err)
	}
	if _, err := codec.EncodeUnsubscribed("room"); err != nil {
		t.Fatal(err)
	}
	if _, err := codec.EncodeServerMessage("room", map[string]any{"t": 1}, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := codec.EncodePong(12345); err != nil {
		t.Fatal(err)
	}
}
