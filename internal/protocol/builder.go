package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PacketBuilder constructs binary payloads for packets sent to clients.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteByte writes a single byte.
func (b *PacketBuilder) WriteByte(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint16 writes a uint16 in little-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteUint32 writes a uint32 in little-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteInt32 writes an int32 in little-endian order.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	binary.Write(&b.buf, binary.LittleEndian, v)
	return b
}

// WriteFixedString writes a string as a NUL-padded field of exactly n bytes.
func (b *PacketBuilder) WriteFixedString(s string, n int) *PacketBuilder {
	data := []byte(s)
	if len(data) > n {
		data = data[:n]
	}
	b.buf.Write(data)
	b.WritePad(n - len(data))
	return b
}

// WritePad writes n zero bytes.
func (b *PacketBuilder) WritePad(n int) *PacketBuilder {
	for i := 0; i < n; i++ {
		b.buf.WriteByte(0)
	}
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Frame returns the accumulated payload wrapped in a frame with the given id.
func (b *PacketBuilder) Frame(id uint16) Frame {
	payload := make([]byte, b.buf.Len())
	copy(payload, b.buf.Bytes())
	return Frame{ID: id, Payload: payload}
}

// Len returns the current size of the payload being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current payload for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}

// ---- Acknowledgements ----

// AckSuccess builds a success ack: 4-byte flag 01 00 00 00 + u16 value.
func AckSuccess(id uint16, val uint16) Frame {
	b := NewPacketBuilder()
	b.WriteByte(0x01).WritePad(3).WriteUint16(val)
	return b.Frame(id)
}

// AckFailure builds a failure ack: single 0x00 byte + u16 error code.
// The 4-vs-1 flag asymmetry is part of the observed wire format.
func AckFailure(id uint16, code uint16) Frame {
	b := NewPacketBuilder()
	b.WriteByte(0x00).WriteUint16(code)
	return b.Frame(id)
}

// ---- Directory packets ----

// ServerEntry is one row of the server directory.
type ServerEntry struct {
	Name         string
	Addr         string
	Availability int32
}

// ServerListPacket builds the 0x0bc7 server list: flag + exactly MaxServers
// 44-byte records, padded with placeholder rows marked unavailable.
func ServerListPacket(servers []ServerEntry) Frame {
	b := NewPacketBuilder()
	b.WriteByte(0x01).WritePad(3)
	for i := 0; i < MaxServers; i++ {
		if i < len(servers) {
			s := servers[i]
			b.WriteFixedString(s.Name, 16)
			b.WritePad(5)
			b.WriteFixedString(s.Addr, 16)
			b.WritePad(3)
			b.WriteInt32(s.Availability)
		} else {
			b.WriteFixedString(fmt.Sprintf("MN%d", i), 16)
			b.WritePad(5)
			b.WriteFixedString("0.0.0.0", 16)
			b.WritePad(3)
			b.WriteInt32(-1)
		}
	}
	return b.Frame(PktServerListAck)
}

// ChannelEntry is one row of the channel directory.
type ChannelEntry struct {
	Index   uint32
	Players uint32
}

// ChannelListPacket builds the 0x0bbb channel list: flag + exactly
// MaxChannels 12-byte records; missing channels appear empty.
func ChannelListPacket(channels []ChannelEntry) Frame {
	byIndex := make(map[uint32]ChannelEntry, len(channels))
	for _, ch := range channels {
		byIndex[ch.Index] = ch
	}
	b := NewPacketBuilder()
	b.WriteByte(0x01).WritePad(3)
	for i := uint32(0); i < MaxChannels; i++ {
		b.WriteUint32(i)
		b.WriteUint32(byIndex[i].Players)
		b.WriteUint32(MaxChannelPlayers)
	}
	return b.Frame(PktChannelListAck)
}

// LobbyEntry is one row of the lobby directory.
type LobbyEntry struct {
	Index    uint32
	Players  uint32
	Name     string
	Password string
	Status   byte
}

// LobbyListPacket builds the 0x0bc8 lobby list: flag + exactly MaxLobbies
// 44-byte records ordered by slot index, with placeholder rows for free
// slots.
func LobbyListPacket(lobbies []LobbyEntry) Frame {
	slots := make([]*LobbyEntry, MaxLobbies)
	for i := range lobbies {
		l := lobbies[i]
		if l.Index < MaxLobbies {
			slots[l.Index] = &l
		}
	}
	b := NewPacketBuilder()
	b.WriteByte(0x01).WritePad(3)
	for i := 0; i < MaxLobbies; i++ {
		l := slots[i]
		if l == nil {
			l = &LobbyEntry{
				Index:  uint32(i),
				Name:   fmt.Sprintf("Lobby%d", i+1),
				Status: LobbyStatusEmpty,
			}
		}
		b.WriteUint32(l.Index)
		b.WriteUint32(l.Players)
		b.WriteUint32(MaxSeats)
		b.WriteFixedString(l.Name, 16)
		b.WritePad(1)
		b.WriteFixedString(l.Password, 12)
		b.WritePad(1)
		b.WriteByte(l.Status)
		b.WritePad(1)
	}
	return b.Frame(PktLobbyListAck)
}

// ---- Room state ----

// RoomSeat is one seat record inside a room snapshot.
type RoomSeat struct {
	PlayerID  string
	Character byte
	Status    byte
	Rank      uint32
}

// RoomInfo is the full lobby room state carried by 0x03ee.
type RoomInfo struct {
	LeaderIndex byte
	Name        string
	Seats       [MaxSeats]RoomSeat
	MapID       uint32
	Status      uint32
}

// writeSeat appends one 28-byte seat record. Empty seats carry rank 1,
// the client's neutral value for an unresolved player.
func writeSeat(b *PacketBuilder, s RoomSeat) {
	rank := s.Rank
	if s.PlayerID == "" {
		rank = 1
	}
	b.WriteFixedString(s.PlayerID, 8)
	b.WritePad(5)
	b.WriteByte(s.Character)
	b.WriteByte(s.Status)
	b.WritePad(1)
	b.WriteUint32(rank)
	b.WritePad(8)
}

// RoomInfoPacket builds the 0x03ee room snapshot: leader index, lobby name,
// four 28-byte seat records, map id and lobby status, 156 bytes total.
func RoomInfoPacket(room RoomInfo) Frame {
	b := NewPacketBuilder()
	b.WriteByte(room.LeaderIndex)
	b.WritePad(3)
	b.WriteFixedString(room.Name, 16)
	b.WritePad(16)
	for _, s := range room.Seats {
		writeSeat(b, s)
	}
	b.WriteUint32(room.MapID)
	b.WriteUint32(room.Status)
	return b.Frame(PktRoomInfo)
}

// CharacterInfoPacket builds the 0x0bc4 reply to a character info request:
// flag + one seat record padded to 32 bytes.
func CharacterInfoPacket(seat RoomSeat) Frame {
	b := NewPacketBuilder()
	b.WriteByte(0x01).WritePad(3)
	writeSeat(b, seat)
	b.WritePad(4)
	return b.Frame(PktCharacterInfoAck)
}

// ---- Match start ----

// StartParams carries the 0x0bc0 match-start parameters: one unique start
// position per seat, the hidden-role seat and gender, and the resolved map.
type StartParams struct {
	Positions  [MaxSeats]byte
	HiddenSeat uint16
	Gender     uint16
	MapID      uint16
}

// GameStartPacket builds the 0x0bc0 success broadcast.
func GameStartPacket(p StartParams) Frame {
	b := NewPacketBuilder()
	b.WriteByte(0x01).WritePad(3)
	for _, pos := range p.Positions {
		b.WriteByte(pos).WritePad(3)
	}
	b.WriteUint16(p.HiddenSeat).WritePad(2)
	b.WriteUint16(p.Gender).WritePad(2)
	b.WriteUint16(p.MapID)
	return b.Frame(PktGameStartAck)
}

// ---- Liveness & countdown ----

// EchoChallengePacket builds the 0x03e9 liveness challenge.
func EchoChallengePacket() Frame {
	return Frame{ID: PktEchoChallenge, Payload: []byte{0x01, 0x00, 0x00, 0x00}}
}

// CountdownPacket builds a 0x03ef countdown tick.
func CountdownPacket(n byte) Frame {
	return Frame{ID: PktCountdown, Payload: []byte{n}}
}

// SeatDCPacket builds the 0x03f4 seat-disconnect notice.
func SeatDCPacket(seatIndex byte) Frame {
	return Frame{ID: PktSeatDC, Payload: []byte{seatIndex, 0x00, 0x00, 0x00}}
}
