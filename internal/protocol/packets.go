// Package protocol implements the binary codec for the Mystic Nights
// client protocol, reverse-engineered from client traffic. All packets
// use little-endian byte order with a 4-byte header: a 2-byte packet id
// followed by a 2-byte payload length.
package protocol

// Client -> server packet ids.
const (
	PktLogin         uint16 = 0x07d0 // Login with player id + password
	PktAccountCreate uint16 = 0x07d1 // Create account
	PktAccountDelete uint16 = 0x07d2 // Delete account
	PktChannelList   uint16 = 0x07d3 // Request channel directory
	PktChannelJoin   uint16 = 0x07d4 // Bind session to a channel
	PktLobbyCreate   uint16 = 0x07d5 // Create a lobby in the bound channel
	PktLobbyJoin     uint16 = 0x07d6 // Join a lobby by name
	PktQuickJoin     uint16 = 0x07d7 // Server-side random lobby selection
	PktGameStart     uint16 = 0x07d8 // Leader starts the match
	PktReadyToggle   uint16 = 0x07d9 // Toggle seat ready status
	PktLobbyLeave    uint16 = 0x07da // Leave the current lobby
	PktKick          uint16 = 0x07db // Leader kicks a seat index
	PktCharacterInfo uint16 = 0x07dc // Request a player's character info
	PktCharacterSel  uint16 = 0x07dd // Select a character
	PktMapSelect     uint16 = 0x07de // Leader selects the map
	PktServerList    uint16 = 0x07df // Request server directory
	PktLobbyList     uint16 = 0x07e0 // Request lobby directory

	PktReadyCheck uint16 = 0x03f0 // Request match-start readiness gate
	PktDisconnect uint16 = 0x03f1 // In-match disconnect notice
	PktGameOver   uint16 = 0x03f2 // Match finished, reset lobby
	PktGameResult uint16 = 0x03f3 // Win/loss result, credit rank
	PktEchoReply  uint16 = 0x03ea // Reply to an echo challenge

	PktMovement uint16 = 0x1388 // Player position update (relayed)
	// Any other 0x13xx id is an opaque in-match event, relayed to the
	// sender's lobby. 0x139c (proximity detection) is never echoed back
	// to its own sender.
	PktProximity uint16 = 0x139c
)

// Server -> client packet ids.
const (
	PktLoginAck         uint16 = 0x0bb8
	PktAccountDeleteAck uint16 = 0x0bb9
	PktAccountCreateAck uint16 = 0x0bba
	PktChannelListAck   uint16 = 0x0bbb
	PktChannelJoinAck   uint16 = 0x0bbc
	PktLobbyCreateAck   uint16 = 0x0bbd
	PktLobbyJoinAck     uint16 = 0x0bbe
	PktQuickJoinAck     uint16 = 0x0bbf
	PktGameStartAck     uint16 = 0x0bc0
	PktReadyAck         uint16 = 0x0bc1
	PktLobbyLeaveAck    uint16 = 0x0bc2
	PktKickAck          uint16 = 0x0bc3
	PktCharacterInfoAck uint16 = 0x0bc4
	PktCharacterSelAck  uint16 = 0x0bc5
	PktMapSelectAck     uint16 = 0x0bc6
	PktServerListAck    uint16 = 0x0bc7
	PktLobbyListAck     uint16 = 0x0bc8

	PktEchoChallenge uint16 = 0x03e9 // Liveness challenge
	PktRoomInfo      uint16 = 0x03ee // Lobby room snapshot
	PktCountdown     uint16 = 0x03ef // Match-start countdown tick
	PktSeatDC        uint16 = 0x03f4 // Seat disconnect notice
)

// Numeric failure codes carried in failure acks. Each validation failure
// maps to a distinct code the client renders as a specific dialog.
const (
	CodeMalformed     uint16 = 0x01
	CodeDatabaseError uint16 = 0x04
	CodeInvalidParam  uint16 = 0x05
	CodeWrongPassword uint16 = 0x07
	CodeUnknownPlayer uint16 = 0x08
	CodeAccountExists uint16 = 0x09
	CodeLobbyFull     uint16 = 0x0a
	CodeNoLobby       uint16 = 0x0d // no lobby available / channel slots full
	CodeGameStarted   uint16 = 0x0e
	CodeLobbyNotFound uint16 = 0x0f
	CodeLobbyExists   uint16 = 0x10
)

// Lobby status values on the wire.
const (
	LobbyStatusEmpty   = 0
	LobbyStatusWaiting = 1
	LobbyStatusStarted = 2
)

// Protocol limits, fixed by the client binary.
const (
	MaxSeats          = 4   // seats per lobby
	MaxLobbies        = 20  // lobby slots per channel
	MaxChannels       = 12  // channels per server
	MaxServers        = 10  // server list entries
	MaxCharacter      = 8   // character ids run 1..8
	MaxChannelPlayers = 80  // advertised channel capacity
	MaxStartPositions = 12  // map start positions run 0..11
	MaxRank           = 199 // rank clamp for result credit

	MaxPayloadSize = 65535
	HeaderSize     = 4
)

// IsGameplay reports whether a packet id belongs to the opaque in-match
// event range relayed to the sender's lobby.
func IsGameplay(id uint16) bool {
	return id>>8 == 0x13
}
