package protocol

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/rtmsg/broker/internal/protocolerr"
)

// FrameParser defragments an incoming byte stream into complete Frames.
// It is a single-owner, per-connection object (spec.md §4.4/§5) — never
// share one FrameParser across goroutines or connections.
type FrameParser struct {
	maxFrameSize int
	buf          []byte

	framesParsed atomic.Uint64
	bytesProc    atomic.Uint64
	errorCount   atomic.Uint64
}

func NewFrameParser(maxFrameSize int) *FrameParser {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &FrameParser{maxFrameSize: maxFrameSize}
}

// Feed appends chunk to the internal buffer and extracts every complete
// frame now available. Errors are non-fatal (InvalidMessageType) unless
// they're FrameTooLarge, which clears the buffer and should cause the
// caller to destroy the connection (spec.md §7).
func (p *FrameParser) Feed(chunk []byte) ([]Frame, []error) {
	p.bytesProc.Add(uint64(len(chunk)))
	p.buf = append(p.buf, chunk...)

	var frames []Frame
	var errs []error

	for len(p.buf) >= lengthPrefixSize {
		frameSize := binary.BigEndian.Uint32(p.buf[:lengthPrefixSize])

		if int(frameSize) > p.maxFrameSize {
			p.buf = nil
			p.errorCount.Add(1)
			errs = append(errs, protocolerr.New(protocolerr.FrameTooLarge, "frame exceeds max frame size"))
			return frames, errs
		}

		total := lengthPrefixSize + int(frameSize)
		if len(p.buf) < total {
			// Await more data for this frame.
			break
		}

		typ := Type(p.buf[lengthPrefixSize])
		if !IsValidType(typ) {
			p.buf = p.buf[total:]
			p.errorCount.Add(1)
			errs = append(errs, protocolerr.New(protocolerr.InvalidMessageType, "unrecognized message type byte"))
			continue
		}

		payload := make([]byte, int(frameSize)-typeByteSize)
		copy(payload, p.buf[lengthPrefixSize+typeByteSize:total])
		p.buf = p.buf[total:]

		p.framesParsed.Add(1)
		frames = append(frames, Frame{Type: typ, Payload: payload})
	}

	return frames, errs
}

// Reset clears the buffer and all counters — used when a connection is
// recycled or after an unrecoverable error, to avoid poison-buffer
// propagation (spec.md §3 Frame Parser buffer lifecycle).
func (p *FrameParser) Reset() {
	p.buf = nil
	p.framesParsed.Store(0)
	p.bytesProc.Store(0)
	p.errorCount.Store(0)
}

type ParserStats struct {
	FramesParsed uint64
	BytesProcessed uint64
	Errors       uint64
}

func (p *FrameParser) Stats() ParserStats {
	return ParserStats{
		FramesParsed:   p.framesParsed.Load(),
		BytesProcessed: p.bytesProc.Load(),
		Errors:         p.errorCount.Load(),
	}
}
