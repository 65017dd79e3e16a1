// Package protocol implements the TCP wire format of spec.md §3/§6: a
// length-prefixed binary Frame, a FrameParser that defragments an
// incoming byte stream into complete frames, and a Codec that maps
// typed Messages onto/from frames.
package protocol

// Type is the TCP wire message type byte (spec.md §3).
type Type byte

const (
	TypeAuth           Type = 0x01
	TypeAuthSuccess    Type = 0x02
	TypeAuthError      Type = 0x03
	TypeSubscribe      Type = 0x10
	TypeUnsubscribe    Type = 0x11
	TypeSubscribed     Type = 0x12
	TypeUnsubscribed   Type = 0x13
	TypeMessage        Type = 0x20
	TypeServerMessage  Type = 0x21
	TypePing           Type = 0x30
	TypePong           Type = 0x31
	TypeError          Type = 0xFF
)

// validTypes is the closed set of type bytes the parser/codec accept.
var validTypes = map[Type]bool{
	TypeAuth:          true,
	TypeAuthSuccess:   true,
	TypeAuthError:     true,
	TypeSubscribe:     true,
	TypeUnsubscribe:   true,
	TypeSubscribed:    true,
	TypeUnsubscribed:  true,
	TypeMessage:       true,
	TypeServerMessage: true,
	TypePing:          true,
	TypePong:          true,
	TypeError:         true,
}

// IsValidType reports whether t is one of the closed set of message types.
func IsValidType(t Type) bool {
	return validTypes[t]
}

// Frame is one length-prefixed protocol unit, already defragmented from
// the byte stream (spec.md §3 TcpFrame).
type Frame struct {
	Type    Type
	Payload []byte
}

// Message is a decoded TcpMessage: the type tag plus its JSON-decoded
// payload (spec.md §3 TcpMessage).
type Message struct {
	Type Type
	Data any
}

// DefaultMaxFrameSize is the spec.md §6 default of 1 MiB.
const DefaultMaxFrameSize = 1 << 20

// Header length (uint32 length prefix + uint8 type byte).
const (
	lengthPrefixSize = 4
	typeByteSize     = 1
	headerSize       = lengthPrefixSize + typeByteSize
)
