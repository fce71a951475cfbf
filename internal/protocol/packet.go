// Package protocol defines the wire shape of packets exchanged with the
// login and game servers: the opcode-prefixed byte buffer, the
// little-endian primitive reader/writer pair used to build and parse
// packet bodies, and the 3D vector type several bodies embed.
package protocol

import "fmt"

// Packet is a decoded, opaque byte buffer whose first two bytes (little
// endian) are its opcode. Every packet handed to a waiter or handler has
// length >= 2.
type Packet []byte

// Opcode returns the packet's two-byte little-endian opcode.
func (p Packet) Opcode() uint16 {
	return uint16(p[0]) | uint16(p[1])<<8
}

// Body returns the bytes following the opcode.
func (p Packet) Body() []byte {
	return p[2:]
}

// NewPacket validates the length invariant and returns p as a Packet.
func NewPacket(raw []byte) (Packet, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("protocol: packet too short (%d bytes, need >= 2)", len(raw))
	}
	return Packet(raw), nil
}
