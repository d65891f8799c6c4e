package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken(err error, completed bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if completed {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient records publishes; the embedded interface panics on anything else.
type fakeClient struct {
	mqtt.Client
	token        *fakeToken
	messages     []published
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.messages = append(c.messages, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestMQTTPublisher_Publish(t *testing.T) {
	client := &fakeClient{token: newFakeToken(nil, true)}
	pub := newMQTTPublisher(client, "fleet/work-orders/", 1)

	event := Event{
		Kind:        WorkOrderCompleted,
		WorkOrderID: "wo-1",
		AssetID:     "asset-1",
		Status:      "COMPLETED",
		OccurredAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Data:        map[string]interface{}{"total_cost": "80"},
	}
	require.NoError(t, pub.Publish(context.Background(), event))

	require.Len(t, client.messages, 1)
	msg := client.messages[0]
	assert.Equal(t, "fleet/work-orders/completed", msg.topic)
	assert.Equal(t, byte(1), msg.qos)

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	assert.Equal(t, event.WorkOrderID, decoded.WorkOrderID)
	assert.Equal(t, "80", decoded.Data["total_cost"])

	pub.Close()
	assert.True(t, client.disconnected)
}

func TestMQTTPublisher_PublishError(t *testing.T) {
	brokerErr := errors.New("not connected")
	client := &fakeClient{token: newFakeToken(brokerErr, true)}
	pub := newMQTTPublisher(client, "fleet", 0)

	err := pub.Publish(context.Background(), Event{Kind: WorkOrderStarted})
	assert.ErrorIs(t, err, brokerErr)
}

func TestMQTTPublisher_PublishHonoursContext(t *testing.T) {
	client := &fakeClient{token: newFakeToken(nil, false)}
	pub := newMQTTPublisher(client, "fleet", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, Event{Kind: WorkOrderStarted}), context.Canceled)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), Event{Kind: WorkOrderCreated}))
	p.Close()
}
