// Package protocol implements the binary TLV wire format of the raw-socket
// voice backend.
//
// Every packet is an 8-byte big-endian header followed by a payload:
//
//	[PacketType:1][PacketLen:2][StreamID:4][Flags:1]
//
// PacketLen is the total packet size, header included. Three packet types are
// defined: handshake (JSON payload), audio (4-byte sequence number followed by
// raw little-endian PCM16), and event (JSON payload).
package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// Packet types
	PacketTypeHandshake = 0x01
	PacketTypeAudio     = 0x02
	PacketTypeEvent     = 0x03

	// HeaderSize is the fixed header length: 1 + 2 + 4 + 1 bytes.
	HeaderSize = 8

	// AudioPayloadHeaderSize is the sequence number prefix of audio payloads.
	AudioPayloadHeaderSize = 4

	// MaxPacketLen is the largest encodable packet. PacketLen is a uint16,
	// so payloads are capped at 65535 - HeaderSize bytes.
	MaxPacketLen = 0xFFFF
)

// Flag bits carried in the header's last byte.
const (
	// FlagNone marks an ordinary packet.
	FlagNone = 0x00
	// FlagFinal marks the last audio packet of a response.
	FlagFinal = 0x01
)

// Header is the 8-byte TLV packet header.
// Layout: [PacketType:1][PacketLen:2][StreamID:4][Flags:1]
type Header struct {
	PacketType uint8  // 0x01=Handshake, 0x02=Audio, 0x03=Event
	PacketLen  uint16 // Total packet size (header + payload)
	StreamID   uint32 // Session stream identifier
	Flags      uint8  // Flag bits (FlagFinal on the closing audio packet)
}

// AudioPayload is the audio packet payload.
// Layout: [Sequence:4][PCM16:N]
type AudioPayload struct {
	Sequence uint32 // Packet sequence number
	PCM      []byte // Raw little-endian PCM16 audio
}

// Packet is a fully parsed TLV packet.
type Packet struct {
	Header Header
	Audio  *AudioPayload // Set for audio packets
	JSON   []byte        // Set for handshake and event packets
}

// ParseHeader parses the 8-byte TLV packet header.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	h := Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Flags:      data[7],
	}

	return h, nil
}

// ValidateHeader checks header fields for consistency.
func ValidateHeader(h Header) error {
	switch h.PacketType {
	case PacketTypeHandshake, PacketTypeAudio, PacketTypeEvent:
	default:
		return fmt.Errorf("unknown packet type 0x%02X", h.PacketType)
	}
	if int(h.PacketLen) < HeaderSize {
		return fmt.Errorf("packet length %d smaller than header", h.PacketLen)
	}
	if h.PacketType == PacketTypeAudio && int(h.PacketLen) < HeaderSize+AudioPayloadHeaderSize {
		return fmt.Errorf("audio packet length %d missing sequence number", h.PacketLen)
	}
	return nil
}

// ParsePacket parses a complete TLV packet (header + payload).
func ParsePacket(data []byte) (*Packet, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}
	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	p := &Packet{Header: header}
	payload := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeAudio:
		audio := &AudioPayload{
			Sequence: binary.BigEndian.Uint32(payload[0:AudioPayloadHeaderSize]),
		}
		if len(payload) > AudioPayloadHeaderSize {
			audio.PCM = make([]byte, len(payload)-AudioPayloadHeaderSize)
			copy(audio.PCM, payload[AudioPayloadHeaderSize:])
		}
		if len(audio.PCM)%2 != 0 {
			return nil, fmt.Errorf("audio payload has odd PCM16 length %d", len(audio.PCM))
		}
		p.Audio = audio

	case PacketTypeHandshake, PacketTypeEvent:
		p.JSON = make([]byte, len(payload))
		copy(p.JSON, payload)
	}

	return p, nil
}

// EncodeHandshake builds a handshake packet carrying a JSON session config.
func EncodeHandshake(streamID uint32, config []byte) ([]byte, error) {
	return encodeJSON(PacketTypeHandshake, streamID, config)
}

// EncodeEvent builds an event packet carrying a JSON event body.
func EncodeEvent(streamID uint32, event []byte) ([]byte, error) {
	return encodeJSON(PacketTypeEvent, streamID, event)
}

func encodeJSON(packetType uint8, streamID uint32, body []byte) ([]byte, error) {
	total := HeaderSize + len(body)
	if total > MaxPacketLen {
		return nil, fmt.Errorf("payload too large: %d bytes", len(body))
	}

	buf := make([]byte, total)
	writeHeader(buf, packetType, uint16(total), streamID, FlagNone)
	copy(buf[HeaderSize:], body)

	return buf, nil
}

// EncodeAudio builds an audio packet with a sequence number and PCM16 data.
func EncodeAudio(streamID, sequence uint32, pcm []byte, flags uint8) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("PCM16 data has odd length %d", len(pcm))
	}
	total := HeaderSize + AudioPayloadHeaderSize + len(pcm)
	if total > MaxPacketLen {
		return nil, fmt.Errorf("audio payload too large: %d bytes", len(pcm))
	}

	buf := make([]byte, total)
	writeHeader(buf, PacketTypeAudio, uint16(total), streamID, flags)
	binary.BigEndian.PutUint32(buf[HeaderSize:], sequence)
	copy(buf[HeaderSize+AudioPayloadHeaderSize:], pcm)

	return buf, nil
}

func writeHeader(buf []byte, packetType uint8, packetLen uint16, streamID uint32, flags uint8) {
	buf[0] = packetType
	binary.BigEndian.PutUint16(buf[1:3], packetLen)
	binary.BigEndian.PutUint32(buf[3:7], streamID)
	buf[7] = flags
}

// TypeName returns a human-readable packet type name for logging.
func TypeName(packetType uint8) string {
	switch packetType {
	case PacketTypeHandshake:
		return "handshake"
	case PacketTypeAudio:
		return "audio"
	case PacketTypeEvent:
		return "event"
	default:
		return fmt.Sprintf("unknown(0x%02X)", packetType)
	}
}

// String formats the header for logging.
func (h Header) String() string {
	return fmt.Sprintf("%s len=%d stream=%d flags=0x%02X",
		TypeName(h.PacketType), h.PacketLen, h.StreamID, h.Flags)
}
