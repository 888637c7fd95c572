// Package mqtt bridges a broker to the agent pipeline: inbound
// messages on a topic become turns, replies are published back out.
// Useful for home automation setups where the broker is already the
// message spine.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/sable-ai/sable/internal/agent"
	"github.com/sable-ai/sable/internal/config"
	"github.com/sable-ai/sable/internal/events"
)

// ChannelID tags sessions that arrive through the broker.
const ChannelID = "mqtt"

// inboundPayload is the JSON body expected on the inbound topic.
type inboundPayload struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

// replyPayload is what the bridge publishes on the reply topic.
type replyPayload struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

// Bridge manages the MQTT connection and dispatches inbound messages
// to the agent handler.
type Bridge struct {
	cfg     config.MQTTConfig
	handler *agent.Handler
	bus     *events.Bus
	logger  *slog.Logger
	cm      *autopaho.ConnectionManager
}

// NewBridge creates a Bridge but does not connect. Call [Bridge.Start]
// to begin the connection.
func NewBridge(cfg config.MQTTConfig, handler *agent.Handler, bus *events.Bus, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:     cfg,
		handler: handler,
		bus:     bus,
		logger:  logger,
	}
}

// Start connects to the broker and blocks until ctx is cancelled. On
// every (re-)connect it re-subscribes to the inbound topic and
// publishes an "online" availability message.
func (b *Bridge) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := b.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{brokerURL},
		KeepAlive:  30,
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("mqtt connected to broker", "broker", b.cfg.BrokerURL)
			if _, err := cm.Subscribe(ctx, &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: b.cfg.InboundTopic, QoS: 1},
				},
			}); err != nil {
				b.logger.Warn("mqtt subscribe failed", "topic", b.cfg.InboundTopic, "error", err)
			}
			b.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			b.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: b.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					b.onInbound(ctx, pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	b.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// Log but don't fail; autopaho keeps retrying in the background.
		b.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	<-ctx.Done()
	return nil
}

// Stop publishes an "offline" availability message before closing the
// connection. The provided context controls how long to wait.
func (b *Bridge) Stop(ctx context.Context) error {
	if b.cm == nil {
		return nil
	}
	b.publishAvailability(ctx, b.cm, "offline")
	return b.cm.Disconnect(ctx)
}

// onInbound decodes one inbound frame and dispatches it to the agent.
// Each message gets its own goroutine; a slow turn must not stall the
// paho receive path.
func (b *Bridge) onInbound(ctx context.Context, topic string, payload []byte) {
	var in inboundPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		b.logger.Warn("mqtt inbound payload is not valid JSON",
			"topic", topic, "payload_size", len(payload), "error", err)
		return
	}
	if in.UserID == "" || in.Content == "" {
		b.logger.Warn("mqtt inbound payload missing user_id or content", "topic", topic)
		return
	}

	b.logger.Debug("mqtt inbound message", "topic", topic, "user_id", in.UserID)
	b.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceMQTT,
		Kind:      events.KindRequestStart,
		Data: map[string]any{
			"topic":   topic,
			"user_id": in.UserID,
		},
	})

	go b.handler.HandleMessage(ctx, agent.InboundMessage{
		UserID:    in.UserID,
		ChannelID: ChannelID,
		Content:   in.Content,
	}, b.replySender(in.UserID))
}

// replySender returns a SendFunc that publishes the reply for one user.
func (b *Bridge) replySender(userID string) agent.SendFunc {
	return func(ctx context.Context, content string) error {
		body, err := json.Marshal(replyPayload{UserID: userID, Content: content})
		if err != nil {
			return fmt.Errorf("encode mqtt reply: %w", err)
		}
		if _, err := b.cm.Publish(ctx, &paho.Publish{
			Topic:   b.cfg.ReplyTopic,
			Payload: body,
			QoS:     1,
		}); err != nil {
			return fmt.Errorf("publish mqtt reply: %w", err)
		}
		return nil
	}
}

func (b *Bridge) availabilityTopic() string {
	return b.cfg.ClientID + "/availability"
}

func (b *Bridge) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, state string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   b.availabilityTopic(),
		Payload: []byte(state),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		b.logger.Warn("mqtt availability publish failed", "state", state, "error", err)
	}
}
