// Package events publishes committed work order lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Event kinds.
const (
	WorkOrderCreated   = "created"
	WorkOrderStarted   = "started"
	WorkOrderUpdated   = "updated"
	PartConsumed       = "part_consumed"
	WorkOrderCompleted = "completed"
	WorkOrderCancelled = "cancelled"
)

// Event is the payload published after a lifecycle transaction commits.
type Event struct {
	Kind        string                 `json:"kind"`
	WorkOrderID string                 `json:"work_order_id"`
	AssetID     string                 `json:"asset_id"`
	ActorUserID string                 `json:"actor_user_id"`
	Status      string                 `json:"status"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Publisher delivers events to subscribers outside the process.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close()                               {}

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	BrokerURL      string
	ClientID       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
}

// MQTTPublisher publishes events as JSON to <prefix>/<kind>.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	qos    byte
}

// NewMQTTPublisher connects to the broker and returns a publisher.
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.BrokerURL, err)
	}
	return newMQTTPublisher(client, cfg.TopicPrefix, cfg.QoS), nil
}

func newMQTTPublisher(client mqtt.Client, prefix string, qos byte) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: strings.TrimSuffix(prefix, "/"), qos: qos}
}

// Topic returns the topic an event kind is published on.
func (p *MQTTPublisher) Topic(kind string) string {
	return p.prefix + "/" + kind
}

// Publish sends the event and waits for the broker acknowledgement or ctx.
func (p *MQTTPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	token := p.client.Publish(p.Topic(event.Kind), p.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker, allowing in-flight work a short grace period.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
