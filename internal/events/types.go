// Package events defines event types and enumerations for the server's
// publish-subscribe system.
package events

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Player events
	EventPlayerLogin      EventType = "player_login"
	EventPlayerDisconnect EventType = "player_disconnect"

	// Lobby events
	EventLobbyCreated EventType = "lobby_created"
	EventLobbyDeleted EventType = "lobby_deleted"
	EventGameStarted  EventType = "game_started"
	EventGameFinished EventType = "game_finished"

	// Notification events
	EventNotifyMQTT EventType = "notify_mqtt"

	// System events
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// PlayerPayload accompanies player login and disconnect events.
type PlayerPayload struct {
	PlayerID string
	Addr     string
}

// LobbyPayload accompanies lobby lifecycle events.
type LobbyPayload struct {
	ChannelID int64
	Name      string
	PlayerID  string
}

// GameStartedPayload accompanies a game start event.
type GameStartedPayload struct {
	ChannelID int64
	Name      string
	MapID     uint16
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
