// Package telemetry publishes server activity over MQTT: a periodic
// heartbeat with session and host stats plus lobby lifecycle events.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/mysticnights/mnserver/internal/config"
	"github.com/mysticnights/mnserver/internal/events"
	"github.com/mysticnights/mnserver/internal/session"
	"github.com/mysticnights/mnserver/internal/util"
)

// MQTT topics
const (
	TopicAdmin     = "mnserver/admin"
	TopicHeartbeat = "mnserver/heartbeat"
	TopicLobby     = "mnserver/lobby"
	TopicPlayer    = "mnserver/player"
)

// MQTTHandler manages the MQTT connection and publishes telemetry.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      *config.Config
	eventBus *events.EventBus
	sessions *session.Registry
	client   mqtt.Client

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus, reg *session.Registry) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	// Build system metadata
	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname":    sysInfo.Hostname,
		"os":          sysInfo.OS,
		"cpu_model":   sysInfo.CPUModel,
		"cpu_cores":   sysInfo.CPUCores,
		"memory_mb":   sysInfo.TotalMemory,
		"server_name": cfg.GetServerData().Name,
	}

	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		sessions: reg,
		metadata: metadata,
	}

	// Configure MQTT client
	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("mnserver-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	// TLS configuration
	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			if !util.FileExists(mqttCfg.CertFile) {
				if err := util.GenerateSelfSignedCert(mqttCfg.CertFile, mqttCfg.KeyFile); err != nil {
					return nil, fmt.Errorf("failed to generate MQTT TLS certificate: %w", err)
				}
			}
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		opts.SetTLSConfig(tlsConfig)
	}

	// Connection callbacks
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

// Start connects to the MQTT broker, subscribes to events, and runs the
// heartbeat loop until ctx is done.
func (h *MQTTHandler) Start(ctx context.Context) error {
	mqttCfg := h.cfg.GetApplicationData().MQTT
	log.Info().
		Str("broker", mqttCfg.BrokerURL).
		Int("port", mqttCfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	interval := time.Duration(h.cfg.GetApplicationData().Timers.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.PublishShutdown()
			h.client.Disconnect(5000)
			log.Info().Msg("MQTT disconnected")
			return nil
		case <-ticker.C:
			h.publishHeartbeat()
		}
	}
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventLobbyCreated, "mqtt.lobbyCreated", h.onLobbyEvent("lobby_created"))
	h.eventBus.Subscribe(events.EventLobbyDeleted, "mqtt.lobbyDeleted", h.onLobbyEvent("lobby_deleted"))
	h.eventBus.Subscribe(events.EventGameStarted, "mqtt.gameStarted", h.onLobbyEvent("game_started"))
	h.eventBus.Subscribe(events.EventGameFinished, "mqtt.gameFinished", h.onLobbyEvent("game_finished"))
	h.eventBus.Subscribe(events.EventPlayerLogin, "mqtt.playerLogin", h.onPlayerEvent("login"))
	h.eventBus.Subscribe(events.EventPlayerDisconnect, "mqtt.playerDisconnect", h.onPlayerEvent("disconnect"))
	h.eventBus.Subscribe(events.EventNotifyMQTT, "mqtt.notify", h.onNotify)
}

// publishHeartbeat sends session counts and host resource usage.
func (h *MQTTHandler) publishHeartbeat() {
	gameplay := 0
	loggedIn := 0
	for _, s := range h.sessions.Snapshot() {
		if s.Gameplay() {
			gameplay++
		}
		if s.PlayerID() != "" {
			loggedIn++
		}
	}

	beat := map[string]interface{}{
		"connections":       h.sessions.Count(),
		"gameplay_sessions": gameplay,
		"logged_in":         loggedIn,
	}
	if cpu, err := util.GetCPUUsage(); err == nil {
		beat["cpu_percent"] = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		beat["memory_used_percent"] = mem.UsedPercent
	}

	h.publish(TopicHeartbeat, beat)
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	// Merge metadata with payload
	msg := h.buildMessage(payload)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{})

	for k, v := range h.metadata {
		msg[k] = v
	}

	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

// Event handlers

func (h *MQTTHandler) onLobbyEvent(name string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		h.publish(TopicLobby, map[string]interface{}{
			"event":   name,
			"payload": event.Payload,
		})
		return nil
	}
}

func (h *MQTTHandler) onPlayerEvent(name string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		h.publish(TopicPlayer, map[string]interface{}{
			"event":   name,
			"payload": event.Payload,
		})
		return nil
	}
}

func (h *MQTTHandler) onNotify(ctx context.Context, event events.Event) error {
	h.publish(TopicAdmin, event.Payload)
	return nil
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicAdmin, map[string]interface{}{
		"event":     "shutdown",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
