// Package bus wraps paho.mqtt.golang as the message-bus transport,
// following the teacher's setupMqtt connection-options pattern and
// generalizing its single fire-and-forget Publish into a full
// subscribe/publish bridge between the mesh's BusCommand/BusPublish topics
// and the broker.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lachlan2k/eg4-bridge/internal/channels"
	"github.com/lachlan2k/eg4-bridge/internal/config"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Bus owns the MQTT client and relays between it and the channel mesh.
type Bus struct {
	client    mqtt.Client
	mesh      *channels.Mesh
	namespace string
	log       *slog.Logger
}

// Connect dials the configured broker and subscribes to the command
// namespace, publishing a retained online/offline LWT pair.
func Connect(cfg config.MQTT, mesh *channels.Mesh, log *slog.Logger) (*Bus, error) {
	namespace := cfg.EffectiveNamespace()
	lwtTopic := fmt.Sprintf("%s/status", namespace)

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.EffectivePort())).
		SetClientID(fmt.Sprintf("%s-bridge", namespace)).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(connectTimeout).
		SetWill(lwtTopic, "offline", 1, true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	b := &Bus{mesh: mesh, namespace: namespace, log: log}
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		b.log.Info("bus connected")
		c.Publish(lwtTopic, 1, true, "online")
		topic := fmt.Sprintf("%s/cmd/#", namespace)
		if token := c.Subscribe(topic, 1, b.onMessage); token.WaitTimeout(connectTimeout) && token.Error() != nil {
			b.log.Error("bus subscribe failed", "topic", topic, "error", token.Error())
		}
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
		return nil, fmt.Errorf("bus: connect: %w", token.Error())
	}
	b.client = client
	return b, nil
}

func (b *Bus) onMessage(_ mqtt.Client, msg mqtt.Message) {
	b.mesh.FromBus.Publish(channels.BusCommand{Topic: msg.Topic(), Payload: msg.Payload()})
}

// Run drains to_bus and publishes every message until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	sub, cancel := b.mesh.ToBus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.C:
			if !ok {
				return nil
			}
			topic := fmt.Sprintf("%s/%s", b.namespace, msg.Topic)
			token := b.client.Publish(topic, 0, msg.Retain, msg.Payload)
			if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
				b.log.Warn("bus publish failed", "topic", topic, "error", token.Error())
			}
		}
	}
}

// Close disconnects cleanly, publishing a retained "offline" LWT first.
func (b *Bus) Close() {
	b.client.Publish(fmt.Sprintf("%s/status", b.namespace), 1, true, "offline").WaitTimeout(publishTimeout)
	b.client.Disconnect(250)
}
