package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformed marks a payload too short for its packet type. Depending on
// the packet type the handler answers with a coded failure ack or drops the
// packet silently; the connection itself survives.
var ErrMalformed = errors.New("malformed payload")

// Message is a decoded client packet. Each packet type is its own variant
// so the dispatch table stays exhaustive instead of growing a conditional
// chain over raw ids.
type Message interface{ isMessage() }

// Login carries the 0x07d0 credentials.
type Login struct {
	PlayerID string
	Password string
}

// AccountCreate / AccountDelete carry the 0x07d1 / 0x07d2 credentials.
type AccountCreate struct {
	PlayerID string
	Password string
}

type AccountDelete struct {
	PlayerID string
	Password string
}

// ChannelList requests the channel directory (0x07d3).
type ChannelList struct{}

// ChannelJoin binds the session to a channel (0x07d4).
type ChannelJoin struct {
	PlayerID     string
	ChannelIndex uint16
}

// LobbyCreate creates a lobby in the bound channel (0x07d5).
type LobbyCreate struct {
	PlayerID string
	Name     string
	Password string
}

// LobbyJoin joins a lobby by name (0x07d6).
type LobbyJoin struct {
	PlayerID string
	Name     string
}

// QuickJoin asks the server to pick an eligible lobby (0x07d7).
type QuickJoin struct {
	PlayerID string
}

// GameStart transitions the requester's lobby to Started (0x07d8).
type GameStart struct {
	PlayerID string
}

// ReadyToggle flips the requester's seat status (0x07d9).
type ReadyToggle struct {
	PlayerID string
}

// LobbyLeave clears the requester's seat (0x07da).
type LobbyLeave struct {
	PlayerID string
}

// Kick removes the player seated at SeatIndex (0x07db).
type Kick struct {
	SeatIndex uint32
}

// CharacterInfo requests another player's seat info (0x07dc).
type CharacterInfo struct {
	PlayerID string
}

// CharacterSelect sets the requester's character (0x07dd).
type CharacterSelect struct {
	Character byte
}

// MapSelect sets the lobby map (0x07de).
type MapSelect struct {
	MapID uint32
}

// ServerList requests the server directory (0x07df).
type ServerList struct{}

// LobbyList requests the lobby directory (0x07e0).
type LobbyList struct{}

// ReadyCheck starts the per-player match-start gate (0x03f0).
type ReadyCheck struct{}

// Disconnect is the in-match disconnect notice (0x03f1), relayed verbatim.
type Disconnect struct {
	Raw Frame
}

// GameOver resets the lobby to Waiting (0x03f2).
type GameOver struct {
	PlayerID string
}

// GameResult credits rank points (0x03f3).
type GameResult struct {
	PlayerID string
	Victory  bool
}

// EchoReply answers an outstanding echo challenge (0x03ea).
type EchoReply struct {
	Token [4]byte
}

// Movement is the 0x1388 position update. It is relayed verbatim; the
// decoded fields exist for session state and logging.
type Movement struct {
	Y, X       float32
	Heading    float32
	CamHeading float32
	MoveLR     byte
	MoveUD     byte
	SeatIndex  uint32
	Raw        Frame
}

// Gameplay is any other 0x13xx in-match event, relayed opaquely.
type Gameplay struct {
	Raw Frame
}

// Unknown is a packet id the server does not handle.
type Unknown struct {
	ID uint16
}

func (Login) isMessage()           {}
func (AccountCreate) isMessage()   {}
func (AccountDelete) isMessage()   {}
func (ChannelList) isMessage()     {}
func (ChannelJoin) isMessage()     {}
func (LobbyCreate) isMessage()     {}
func (LobbyJoin) isMessage()       {}
func (QuickJoin) isMessage()       {}
func (GameStart) isMessage()       {}
func (ReadyToggle) isMessage()     {}
func (LobbyLeave) isMessage()      {}
func (Kick) isMessage()            {}
func (CharacterInfo) isMessage()   {}
func (CharacterSelect) isMessage() {}
func (MapSelect) isMessage()       {}
func (ServerList) isMessage()      {}
func (LobbyList) isMessage()       {}
func (ReadyCheck) isMessage()      {}
func (Disconnect) isMessage()      {}
func (GameOver) isMessage()        {}
func (GameResult) isMessage()      {}
func (EchoReply) isMessage()       {}
func (Movement) isMessage()        {}
func (Gameplay) isMessage()        {}
func (Unknown) isMessage()         {}

// Decode maps a frame to its typed message. Field offsets follow the
// client's fixed packet layouts; names are NUL-padded byte strings.
func Decode(f Frame) (Message, error) {
	p := f.Payload

	switch f.ID {
	case PktLogin:
		if len(p) < 26 {
			return nil, fmt.Errorf("login: %w", ErrMalformed)
		}
		return Login{PlayerID: cstr(p[0:12]), Password: cstr(p[13:25])}, nil

	case PktAccountCreate:
		if len(p) < 25 {
			return nil, fmt.Errorf("account create: %w", ErrMalformed)
		}
		return AccountCreate{PlayerID: cstr(p[0:8]), Password: cstr(p[13:25])}, nil

	case PktAccountDelete:
		if len(p) < 25 {
			return nil, fmt.Errorf("account delete: %w", ErrMalformed)
		}
		return AccountDelete{PlayerID: cstr(p[0:8]), Password: cstr(p[13:25])}, nil

	case PktChannelList:
		return ChannelList{}, nil

	case PktChannelJoin:
		if len(p) < 18 {
			return nil, fmt.Errorf("channel join: %w", ErrMalformed)
		}
		return ChannelJoin{
			PlayerID:     cstr(p[0:8]),
			ChannelIndex: binary.LittleEndian.Uint16(p[16:18]),
		}, nil

	case PktLobbyCreate:
		if len(p) < 38 {
			return nil, fmt.Errorf("lobby create: %w", ErrMalformed)
		}
		return LobbyCreate{
			PlayerID: cstr(p[0:8]),
			Name:     cstr(p[13:25]),
			Password: cstr(p[30:38]),
		}, nil

	case PktLobbyJoin:
		if len(p) < 32 {
			return nil, fmt.Errorf("lobby join: %w", ErrMalformed)
		}
		return LobbyJoin{PlayerID: cstr(p[0:8]), Name: cstr(p[20:32])}, nil

	case PktQuickJoin:
		if len(p) < 9 {
			return nil, fmt.Errorf("quick join: %w", ErrMalformed)
		}
		return QuickJoin{PlayerID: cstr(p[0:8])}, nil

	case PktGameStart:
		if len(p) < 8 {
			return nil, fmt.Errorf("game start: %w", ErrMalformed)
		}
		return GameStart{PlayerID: cstr(p[0:8])}, nil

	case PktReadyToggle:
		if len(p) < 8 {
			return nil, fmt.Errorf("ready toggle: %w", ErrMalformed)
		}
		return ReadyToggle{PlayerID: cstr(p[0:8])}, nil

	case PktLobbyLeave:
		if len(p) < 8 {
			return nil, fmt.Errorf("lobby leave: %w", ErrMalformed)
		}
		return LobbyLeave{PlayerID: cstr(p[0:8])}, nil

	case PktKick:
		if len(p) < 4 {
			return nil, fmt.Errorf("kick: %w", ErrMalformed)
		}
		return Kick{SeatIndex: binary.LittleEndian.Uint32(p[0:4])}, nil

	case PktCharacterInfo:
		if len(p) < 8 {
			return nil, fmt.Errorf("character info: %w", ErrMalformed)
		}
		return CharacterInfo{PlayerID: cstr(p[0:8])}, nil

	case PktCharacterSel:
		if len(p) < 4 {
			return nil, fmt.Errorf("character select: %w", ErrMalformed)
		}
		return CharacterSelect{Character: p[0]}, nil

	case PktMapSelect:
		if len(p) < 4 {
			return nil, fmt.Errorf("map select: %w", ErrMalformed)
		}
		return MapSelect{MapID: binary.LittleEndian.Uint32(p[0:4])}, nil

	case PktServerList:
		return ServerList{}, nil

	case PktLobbyList:
		return LobbyList{}, nil

	case PktReadyCheck:
		return ReadyCheck{}, nil

	case PktDisconnect:
		return Disconnect{Raw: f}, nil

	case PktGameOver:
		if len(p) < 8 {
			return nil, fmt.Errorf("game over: %w", ErrMalformed)
		}
		return GameOver{PlayerID: cstr(p[0:8])}, nil

	case PktGameResult:
		if len(p) < 20 {
			return nil, fmt.Errorf("game result: %w", ErrMalformed)
		}
		return GameResult{
			PlayerID: cstr(p[0:8]),
			Victory:  binary.LittleEndian.Uint32(p[16:20]) == 1,
		}, nil

	case PktEchoReply:
		if len(p) < 4 {
			return nil, fmt.Errorf("echo reply: %w", ErrMalformed)
		}
		var tok [4]byte
		copy(tok[:], p[len(p)-4:])
		return EchoReply{Token: tok}, nil

	case PktMovement:
		if len(p) < 24 {
			return nil, fmt.Errorf("movement: %w", ErrMalformed)
		}
		return Movement{
			Y:          math.Float32frombits(binary.LittleEndian.Uint32(p[0:4])),
			X:          math.Float32frombits(binary.LittleEndian.Uint32(p[4:8])),
			Heading:    math.Float32frombits(binary.LittleEndian.Uint32(p[8:12])),
			CamHeading: math.Float32frombits(binary.LittleEndian.Uint32(p[12:16])),
			MoveLR:     p[18],
			MoveUD:     p[19],
			SeatIndex:  binary.LittleEndian.Uint32(p[20:24]),
			Raw:        f,
		}, nil
	}

	if IsGameplay(f.ID) {
		return Gameplay{Raw: f}, nil
	}
	return Unknown{ID: f.ID}, nil
}

// cstr decodes a fixed-width NUL-padded byte string.
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
