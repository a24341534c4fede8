package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseHeader(t *testing.T) {
	t.Run("valid header", func(t *testing.T) {
		data := []byte{0x02, 0x00, 0x10, 0x00, 0x00, 0x00, 0x07, 0x01}

		h, err := ParseHeader(data)
		if err != nil {
			t.Fatalf("ParseHeader failed: %v", err)
		}
		if h.PacketType != PacketTypeAudio {
			t.Errorf("PacketType = 0x%02X, want 0x%02X", h.PacketType, PacketTypeAudio)
		}
		if h.PacketLen != 16 {
			t.Errorf("PacketLen = %d, want 16", h.PacketLen)
		}
		if h.StreamID != 7 {
			t.Errorf("StreamID = %d, want 7", h.StreamID)
		}
		if h.Flags != FlagFinal {
			t.Errorf("Flags = 0x%02X, want FlagFinal", h.Flags)
		}
	})

	t.Run("too short", func(t *testing.T) {
		if _, err := ParseHeader([]byte{0x01, 0x02}); err == nil {
			t.Error("expected error for short header")
		}
	})
}

func TestValidateHeader(t *testing.T) {
	cases := []struct {
		name    string
		header  Header
		wantErr bool
	}{
		{"handshake", Header{PacketType: PacketTypeHandshake, PacketLen: HeaderSize + 2}, false},
		{"audio", Header{PacketType: PacketTypeAudio, PacketLen: HeaderSize + AudioPayloadHeaderSize}, false},
		{"event", Header{PacketType: PacketTypeEvent, PacketLen: HeaderSize}, false},
		{"unknown type", Header{PacketType: 0x7F, PacketLen: HeaderSize}, true},
		{"length below header", Header{PacketType: PacketTypeEvent, PacketLen: 4}, true},
		{"audio missing sequence", Header{PacketType: PacketTypeAudio, PacketLen: HeaderSize + 2}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateHeader(tc.header)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateHeader(%+v) error = %v, wantErr = %v", tc.header, err, tc.wantErr)
			}
		})
	}
}

func TestAudioRoundTrip(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}

	encoded, err := EncodeAudio(42, 9, pcm, FlagFinal)
	if err != nil {
		t.Fatalf("EncodeAudio failed: %v", err)
	}
	if len(encoded) != HeaderSize+AudioPayloadHeaderSize+len(pcm) {
		t.Fatalf("encoded length = %d, want %d", len(encoded), HeaderSize+AudioPayloadHeaderSize+len(pcm))
	}

	p, err := ParsePacket(encoded)
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}
	if p.Header.StreamID != 42 {
		t.Errorf("StreamID = %d, want 42", p.Header.StreamID)
	}
	if p.Header.Flags != FlagFinal {
		t.Errorf("Flags = 0x%02X, want FlagFinal", p.Header.Flags)
	}
	if p.Audio == nil {
		t.Fatal("Audio payload not set")
	}
	if p.Audio.Sequence != 9 {
		t.Errorf("Sequence = %d, want 9", p.Audio.Sequence)
	}
	if !bytes.Equal(p.Audio.PCM, pcm) {
		t.Errorf("PCM = %v, want %v", p.Audio.PCM, pcm)
	}
}

func TestHandshakeAndEventRoundTrip(t *testing.T) {
	body := []byte(`{"model":"tutor-1","voice":"nova"}`)

	for _, tc := range []struct {
		name   string
		encode func(uint32, []byte) ([]byte, error)
		typ    uint8
	}{
		{"handshake", EncodeHandshake, PacketTypeHandshake},
		{"event", EncodeEvent, PacketTypeEvent},
	} {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := tc.encode(1, body)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}

			p, err := ParsePacket(encoded)
			if err != nil {
				t.Fatalf("ParsePacket failed: %v", err)
			}
			if p.Header.PacketType != tc.typ {
				t.Errorf("PacketType = 0x%02X, want 0x%02X", p.Header.PacketType, tc.typ)
			}
			if !bytes.Equal(p.JSON, body) {
				t.Errorf("JSON = %q, want %q", p.JSON, body)
			}
		})
	}
}

func TestParsePacketRejectsMalformed(t *testing.T) {
	t.Run("length mismatch", func(t *testing.T) {
		encoded, _ := EncodeEvent(1, []byte(`{}`))
		if _, err := ParsePacket(encoded[:len(encoded)-1]); err == nil {
			t.Error("expected error for truncated packet")
		}
	})

	t.Run("odd PCM length", func(t *testing.T) {
		// Build an audio packet with 3 PCM bytes by hand.
		buf := make([]byte, HeaderSize+AudioPayloadHeaderSize+3)
		writeHeader(buf, PacketTypeAudio, uint16(len(buf)), 1, FlagNone)
		if _, err := ParsePacket(buf); err == nil {
			t.Error("expected error for odd PCM16 length")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		buf := make([]byte, HeaderSize)
		writeHeader(buf, 0x55, HeaderSize, 1, FlagNone)
		if _, err := ParsePacket(buf); err == nil {
			t.Error("expected error for unknown packet type")
		}
	})
}

func TestEncodeAudioRejectsOddPCM(t *testing.T) {
	if _, err := EncodeAudio(1, 0, []byte{0x01}, FlagNone); err == nil {
		t.Error("expected error for odd PCM16 length")
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	big := make([]byte, MaxPacketLen)
	if _, err := EncodeEvent(1, big); err == nil {
		t.Error("expected error for oversized event payload")
	}
	if _, err := EncodeAudio(1, 0, big, FlagNone); err == nil {
		t.Error("expected error for oversized audio payload")
	}
}

func TestReadPacketFromStream(t *testing.T) {
	first, _ := EncodeAudio(3, 1, []byte{0xAA, 0xBB}, FlagNone)
	second, _ := EncodeEvent(3, []byte(`{"type":"response.text.done"}`))

	var stream bytes.Buffer
	stream.Write(first)
	stream.Write(second)

	p1, err := ReadPacket(&stream)
	if err != nil {
		t.Fatalf("first ReadPacket failed: %v", err)
	}
	if p1.Audio == nil || p1.Audio.Sequence != 1 {
		t.Errorf("first packet = %+v, want audio seq 1", p1)
	}

	p2, err := ReadPacket(&stream)
	if err != nil {
		t.Fatalf("second ReadPacket failed: %v", err)
	}
	if p2.Header.PacketType != PacketTypeEvent {
		t.Errorf("second packet type = 0x%02X, want event", p2.Header.PacketType)
	}

	if _, err := ReadPacket(&stream); err == nil {
		t.Error("expected EOF on drained stream")
	}
}

func TestReadPacketTruncatedPayload(t *testing.T) {
	encoded, _ := EncodeEvent(1, []byte(`{"type":"speech.started"}`))
	r := bytes.NewReader(encoded[:HeaderSize+4])

	if _, err := ReadPacket(r); err == nil {
		t.Error("expected error for truncated payload")
	}
}

func TestHeaderString(t *testing.T) {
	h := Header{PacketType: PacketTypeAudio, PacketLen: 20, StreamID: 5, Flags: FlagFinal}
	s := h.String()
	if !strings.Contains(s, "audio") || !strings.Contains(s, "stream=5") {
		t.Errorf("String() = %q, missing type or stream", s)
	}
	if !strings.Contains(TypeName(0x99), "unknown") {
		t.Errorf("TypeName(0x99) = %q, want unknown", TypeName(0x99))
	}
}
