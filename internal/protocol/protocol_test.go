package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	in := Frame{ID: PktLogin, Payload: []byte{0xde, 0xad, 0xbe, 0xef}}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	wire := buf.Bytes()
	if got := binary.LittleEndian.Uint16(wire[0:2]); got != PktLogin {
		t.Fatalf("wire id = %#04x, want %#04x", got, PktLogin)
	}
	if got := binary.LittleEndian.Uint16(wire[2:4]); got != 4 {
		t.Fatalf("wire length = %d, want 4", got)
	}

	out, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if out.ID != in.ID || !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	// Header promises 10 payload bytes but only 3 arrive.
	wire := []byte{0xd0, 0x07, 0x0a, 0x00, 0x01, 0x02, 0x03}
	if _, err := ReadFrame(bytes.NewReader(wire)); err == nil {
		t.Fatal("expected error for truncated payload")
	}

	if _, err := ReadFrame(bytes.NewReader([]byte{0xd0})); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestReadFrameEmptyPayload(t *testing.T) {
	f, err := ReadFrame(bytes.NewReader([]byte{0xd3, 0x07, 0x00, 0x00}))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.ID != PktChannelList || len(f.Payload) != 0 {
		t.Fatalf("got %+v, want empty 0x07d3 frame", f)
	}
}

func TestAckFlagAsymmetry(t *testing.T) {
	ok := AckSuccess(PktLoginAck, 3)
	if !bytes.Equal(ok.Payload, []byte{0x01, 0x00, 0x00, 0x00, 0x03, 0x00}) {
		t.Fatalf("success payload = % x", ok.Payload)
	}

	// The failure flag is a single byte, not four.
	fail := AckFailure(PktLoginAck, CodeWrongPassword)
	if !bytes.Equal(fail.Payload, []byte{0x00, 0x07, 0x00}) {
		t.Fatalf("failure payload = % x", fail.Payload)
	}
}

func TestServerListPacketPadsToTenRows(t *testing.T) {
	f := ServerListPacket([]ServerEntry{
		{Name: "MYSTIC", Addr: "211.233.10.5", Availability: 1},
	})
	if f.ID != PktServerListAck {
		t.Fatalf("id = %#04x", f.ID)
	}
	if want := 4 + MaxServers*44; len(f.Payload) != want {
		t.Fatalf("payload length = %d, want %d", len(f.Payload), want)
	}

	row := f.Payload[4 : 4+44]
	if got := cstr(row[0:16]); got != "MYSTIC" {
		t.Fatalf("row name = %q", got)
	}
	if got := cstr(row[21:37]); got != "211.233.10.5" {
		t.Fatalf("row addr = %q", got)
	}

	// Placeholder rows advertise availability -1.
	last := f.Payload[4+9*44 : 4+10*44]
	if got := int32(binary.LittleEndian.Uint32(last[40:44])); got != -1 {
		t.Fatalf("placeholder availability = %d, want -1", got)
	}
}

func TestChannelListPacketLayout(t *testing.T) {
	f := ChannelListPacket([]ChannelEntry{{Index: 2, Players: 7}})
	if want := 4 + MaxChannels*12; len(f.Payload) != want {
		t.Fatalf("payload length = %d, want %d", len(f.Payload), want)
	}

	row := f.Payload[4+2*12 : 4+3*12]
	if got := binary.LittleEndian.Uint32(row[0:4]); got != 2 {
		t.Fatalf("row index = %d", got)
	}
	if got := binary.LittleEndian.Uint32(row[4:8]); got != 7 {
		t.Fatalf("row players = %d", got)
	}
	if got := binary.LittleEndian.Uint32(row[8:12]); got != MaxChannelPlayers {
		t.Fatalf("row capacity = %d", got)
	}
}

func TestLobbyListPacketSlotsByIndex(t *testing.T) {
	f := LobbyListPacket([]LobbyEntry{
		{Index: 5, Players: 2, Name: "NIGHT", Password: "pw", Status: LobbyStatusWaiting},
	})
	if want := 4 + MaxLobbies*44; len(f.Payload) != want {
		t.Fatalf("payload length = %d, want %d", len(f.Payload), want)
	}

	row := f.Payload[4+5*44 : 4+6*44]
	if got := binary.LittleEndian.Uint32(row[0:4]); got != 5 {
		t.Fatalf("slot index = %d", got)
	}
	if got := cstr(row[12:28]); got != "NIGHT" {
		t.Fatalf("slot name = %q", got)
	}
	if row[42] != LobbyStatusWaiting {
		t.Fatalf("slot status = %d", row[42])
	}

	// Untaken slots carry a placeholder name and empty status.
	empty := f.Payload[4 : 4+44]
	if got := cstr(empty[12:28]); got != "Lobby1" {
		t.Fatalf("placeholder name = %q", got)
	}
	if empty[42] != LobbyStatusEmpty {
		t.Fatalf("placeholder status = %d", empty[42])
	}
}

func TestRoomInfoPacketIs156Bytes(t *testing.T) {
	room := RoomInfo{
		LeaderIndex: 1,
		Name:        "NIGHT",
		MapID:       3,
		Status:      LobbyStatusWaiting,
	}
	room.Seats[0] = RoomSeat{PlayerID: "alice", Character: 2, Status: 1, Rank: 40}

	f := RoomInfoPacket(room)
	if f.ID != PktRoomInfo {
		t.Fatalf("id = %#04x", f.ID)
	}
	if len(f.Payload) != 156 {
		t.Fatalf("payload length = %d, want 156", len(f.Payload))
	}
	if f.Payload[0] != 1 {
		t.Fatalf("leader index = %d", f.Payload[0])
	}
	if got := cstr(f.Payload[4:20]); got != "NIGHT" {
		t.Fatalf("name = %q", got)
	}

	seat := f.Payload[36:64]
	if got := cstr(seat[0:8]); got != "alice" {
		t.Fatalf("seat player = %q", got)
	}
	if seat[13] != 2 || seat[14] != 1 {
		t.Fatalf("seat char/status = %d/%d", seat[13], seat[14])
	}
	if got := binary.LittleEndian.Uint32(seat[16:20]); got != 40 {
		t.Fatalf("seat rank = %d", got)
	}

	// Empty seat blocks carry rank 1, not zero.
	for i := 1; i < MaxSeats; i++ {
		empty := f.Payload[36+i*28 : 36+(i+1)*28]
		if got := binary.LittleEndian.Uint32(empty[16:20]); got != 1 {
			t.Fatalf("empty seat %d rank = %d, want 1", i, got)
		}
	}

	if got := binary.LittleEndian.Uint32(f.Payload[148:152]); got != 3 {
		t.Fatalf("map id = %d", got)
	}
	if got := binary.LittleEndian.Uint32(f.Payload[152:156]); got != LobbyStatusWaiting {
		t.Fatalf("status = %d", got)
	}
}

func TestGameStartPacketLayout(t *testing.T) {
	p := StartParams{
		Positions:  [MaxSeats]byte{11, 0, 7, 3},
		HiddenSeat: 2,
		Gender:     1,
		MapID:      4,
	}
	f := GameStartPacket(p)
	if len(f.Payload) != 30 {
		t.Fatalf("payload length = %d, want 30", len(f.Payload))
	}
	for i, want := range p.Positions {
		if got := f.Payload[4+i*4]; got != want {
			t.Fatalf("position %d = %d, want %d", i, got, want)
		}
	}
	if got := binary.LittleEndian.Uint16(f.Payload[20:22]); got != 2 {
		t.Fatalf("hidden seat = %d", got)
	}
	if got := binary.LittleEndian.Uint16(f.Payload[24:26]); got != 1 {
		t.Fatalf("gender = %d", got)
	}
	if got := binary.LittleEndian.Uint16(f.Payload[28:30]); got != 4 {
		t.Fatalf("map = %d", got)
	}
}

func TestDecodeLogin(t *testing.T) {
	p := make([]byte, 26)
	copy(p[0:], "alice")
	copy(p[13:], "secret")
	msg, err := Decode(Frame{ID: PktLogin, Payload: p})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	login, ok := msg.(Login)
	if !ok {
		t.Fatalf("decoded %T, want Login", msg)
	}
	if login.PlayerID != "alice" || login.Password != "secret" {
		t.Fatalf("decoded %+v", login)
	}
}

func TestDecodeShortPayloadIsMalformed(t *testing.T) {
	_, err := Decode(Frame{ID: PktLogin, Payload: make([]byte, 10)})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestDecodeLobbyCreateOffsets(t *testing.T) {
	p := make([]byte, 38)
	copy(p[0:], "bob")
	copy(p[13:], "MIDNIGHT")
	copy(p[30:], "pw123")
	msg, err := Decode(Frame{ID: PktLobbyCreate, Payload: p})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	lc := msg.(LobbyCreate)
	if lc.PlayerID != "bob" || lc.Name != "MIDNIGHT" || lc.Password != "pw123" {
		t.Fatalf("decoded %+v", lc)
	}
}

func TestDecodeMovementFields(t *testing.T) {
	p := make([]byte, 24)
	binary.LittleEndian.PutUint32(p[0:4], 0x40a00000)  // y = 5.0
	binary.LittleEndian.PutUint32(p[4:8], 0xc0400000)  // x = -3.0
	p[18] = 1
	p[19] = 2
	binary.LittleEndian.PutUint32(p[20:24], 3)

	msg, err := Decode(Frame{ID: PktMovement, Payload: p})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	mv := msg.(Movement)
	if mv.Y != 5.0 || mv.X != -3.0 {
		t.Fatalf("position = (%v, %v)", mv.X, mv.Y)
	}
	if mv.MoveLR != 1 || mv.MoveUD != 2 || mv.SeatIndex != 3 {
		t.Fatalf("decoded %+v", mv)
	}
	if mv.Raw.ID != PktMovement {
		t.Fatal("raw frame not preserved")
	}
}

func TestDecodeGameplayRange(t *testing.T) {
	msg, err := Decode(Frame{ID: PktProximity, Payload: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := msg.(Gameplay); !ok {
		t.Fatalf("decoded %T, want Gameplay", msg)
	}

	msg, err = Decode(Frame{ID: 0x2222})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	unk, ok := msg.(Unknown)
	if !ok || unk.ID != 0x2222 {
		t.Fatalf("decoded %T %+v, want Unknown 0x2222", msg, msg)
	}
}

func TestGameResultVictoryFlag(t *testing.T) {
	p := make([]byte, 20)
	copy(p[0:], "carol")
	binary.LittleEndian.PutUint32(p[16:20], 1)

	msg, err := Decode(Frame{ID: PktGameResult, Payload: p})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	gr := msg.(GameResult)
	if gr.PlayerID != "carol" || !gr.Victory {
		t.Fatalf("decoded %+v", gr)
	}

	binary.LittleEndian.PutUint32(p[16:20], 0)
	gr = mustDecode(t, Frame{ID: PktGameResult, Payload: p}).(GameResult)
	if gr.Victory {
		t.Fatal("zero result decoded as victory")
	}
}

func mustDecode(t *testing.T, f Frame) Message {
	t.Helper()
	msg, err := Decode(f)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return msg
}
