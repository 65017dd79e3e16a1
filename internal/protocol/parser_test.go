package protocol

import (
	"encoding/binary"
	"testing"
)

func encodedAuthFrame(t *testing.T) []byte {
	t.Helper()
	codec := NewCodec(DefaultMaxFrameSize)
	b, err := codec.Encode(Message{Type: TypeAuth, Data: map[string]any{"token": "t"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func TestFrameParserFragmented(t *testing.T) {
	frame := encodedAuthFrame(t)
	p := NewFrameParser(DefaultMaxFrameSize)

	frames, errs := p.Feed(frame[0:3])
	if len(frames) != 0 || len(errs) != 0 {
		t.Fatalf("expected no frames/errors from partial header, got %d/%d", len(frames), len(errs))
	}

	frames, errs = p.Feed(frame[3:4])
	if len(frames) != 0 || len(errs) != 0 {
		t.Fatalf("expected no frames/errors, got %d/%d", len(frames), len(errs))
	}

	frames, errs = p.Feed(frame[4:])
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(frames) != 1 {
		t.Fatalf("expected exactly 1 frame, got %d", len(frames))
	}
	if frames[0].Type != TypeAuth {
		t.Errorf("expected TypeAuth, got %v", frames[0].Type)
	}
	if string(frames[0].Payload) != `{"token":"t"}` {
		t.Errorf("unexpected payload: %s", frames[0].Payload)
	}
}

func TestFrameParserOneByteAtATime(t *testing.T) {
	frame := encodedAuthFrame(t)
	p := NewFrameParser(DefaultMaxFrameSize)

	var total []Frame
	for i := range frame {
		frames, errs := p.Feed(frame[i : i+1])
		if len(errs) != 0 {
			t.Fatalf("unexpected errors at byte %d: %v", i, errs)
		}
		total = append(total, frames...)
	}

	if len(total) != 1 {
		t.Fatalf("expected exactly 1 frame total, got %d", len(total))
	}
}

func TestFrameParserIncrementalityAcrossChunking(t *testing.T) {
	codec := NewCodec(DefaultMaxFrameSize)
	f1, _ := codec.Encode(Message{Type: TypePing, Data: map[string]any{"ts": 1}})
	f2, _ := codec.Encode(Message{Type: TypePong, Data: map[string]any{"ts": 2}})
	stream := append(append([]byte{}, f1...), f2...)

	partitions := [][]int{
		{len(stream)},
		{1, len(stream) - 1},
		{5, 5, len(stream) - 10},
	}

	var reference []Frame
	for _, sizes := range partitions {
		p := NewFrameParser(DefaultMaxFrameSize)
		var got []Frame
		offset := 0
		for _, sz := range sizes {
			if sz <= 0 {
				continue
			}
			frames, _ := p.Feed(stream[offset : offset+sz])
			got = append(got, frames...)
			offset += sz
		}
		if reference == nil {
			reference = got
		} else if len(reference) != len(got) {
			t.Fatalf("chunking produced different frame counts: %d vs %d", len(reference), len(got))
		} else {
			for i := range reference {
				if reference[i].Type != got[i].Type || string(reference[i].Payload) != string(got[i].Payload) {
					t.Fatalf("chunking produced different frame content at index %d", i)
				}
			}
		}
	}
}

func TestFrameParserTooLarge(t *testing.T) {
	p := NewFrameParser(8)
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, 1000)
	frames, errs := p.Feed(buf)
	if len(frames) != 0 {
		t.Fatalf("expected no frames, got %d", len(frames))
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error, got %d", len(errs))
	}
	if p.Stats().BytesProcessed == 0 {
		t.Error("expected bytes processed to be tracked")
	}
}

func TestFrameParserInvalidTypeSkipsFrameButKeepsStream(t *testing.T) {
	codec := NewCodec(DefaultMaxFrameSize)
	good, _ := codec.Encode(Message{Type: TypePing, Data: nil})

	// Hand-craft a frame with an invalid type byte of the same shape.
	bad := make([]byte, len(good))
	copy(bad, good)
	bad[4] = 0x99 // invalid type byte

	stream := append(append([]byte{}, bad...), good...)

	p := NewFrameParser(DefaultMaxFrameSize)
	frames, errs := p.Feed(stream)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error for the bad frame, got %d", len(errs))
	}
	if len(frames) != 1 {
		t.Fatalf("expected the following good frame to still parse, got %d frames", len(frames))
	}
	if frames[0].Type != TypePing {
		t.Errorf("expected TypePing to survive, got %v", frames[0].Type)
	}
}

func TestFrameParserReset(t *testing.T) {
	p := NewFrameParser(DefaultMaxFrameSize)
	p.Feed([]byte{0, 0, 0, 1})
	p.Reset()
	stats := p.Stats()
	if stats.FramesParsed != 0 || stats.BytesProcessed != 0 || stats.Errors != 0 {
		t.Error("reset should clear all counters")
	}
}
