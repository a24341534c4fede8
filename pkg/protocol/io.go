package protocol

import (
	"fmt"
	"io"
)

// ReadPacket reads one complete TLV packet from r.
//
// It reads the 8-byte header first, then exactly PacketLen-HeaderSize payload
// bytes, so a slow or fragmented TCP stream still yields whole packets.
func ReadPacket(r io.Reader) (*Packet, error) {
	head := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, err
	}

	header, err := ParseHeader(head)
	if err != nil {
		return nil, err
	}
	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	buf := make([]byte, header.PacketLen)
	copy(buf, head)
	if _, err := io.ReadFull(r, buf[HeaderSize:]); err != nil {
		return nil, fmt.Errorf("short payload read: %w", err)
	}

	return ParsePacket(buf)
}

// WritePacket writes an encoded packet to w in one call.
func WritePacket(w io.Writer, packet []byte) error {
	n, err := w.Write(packet)
	if err != nil {
		return err
	}
	if n != len(packet) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(packet))
	}
	return nil
}
