package mqtt

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"solar-sim/internal/device"
	"solar-sim/internal/simulator"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type message struct {
	retained bool
	payload  []byte
}

// fakeClient records publishes; every other method panics via the nil
// embedded interface.
type fakeClient struct {
	mqtt.Client

	mu       sync.Mutex
	messages map[string]message
}

func newFakeClient() *fakeClient {
	return &fakeClient{messages: make(map[string]message)}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b []byte
	switch v := payload.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	}
	c.messages[topic] = message{retained: retained, payload: b}
	return doneToken{}
}

func (c *fakeClient) IsConnected() bool { return true }

func (c *fakeClient) get(topic string) (message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.messages[topic]
	return m, ok
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var breakerReadings = simulator.DeviceReadings{
	Name:    "feeder1Breaker",
	Group:   device.GroupFeederBreakers,
	Address: 5,
	UID:     "2b7c5c1e-0000-5000-8000-000000000000",
	Values: device.Values{
		"real_power":         2000,
		"voltage_l1":         34,
		"breaker_closed":     1,
		"coil.close_command": 0,
	},
}

func TestPublishDevice(t *testing.T) {
	client := newFakeClient()
	p := newPublisher(client, "solar/", quietLogger())

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, p.Publish(breakerReadings, at))

	m, ok := client.get("solar/feeder1Breaker/real_power")
	require.True(t, ok)
	assert.Equal(t, "2000", string(m.payload))
	assert.False(t, m.retained)

	m, ok = client.get("solar/feeder1Breaker/status")
	require.True(t, ok)
	assert.True(t, m.retained)

	var st status
	require.NoError(t, json.Unmarshal(m.payload, &st))
	assert.Equal(t, breakerReadings.UID, st.UID)
	assert.Equal(t, uint8(5), st.Address)
	assert.True(t, at.Equal(st.Timestamp))
	assert.Equal(t, 34.0, st.Values["voltage_l1"])
}

func TestHomeAssistantDiscovery(t *testing.T) {
	client := newFakeClient()
	p := newPublisher(client, "solar", quietLogger())
	require.NoError(t, p.PublishHomeAssistantDiscovery([]simulator.DeviceReadings{breakerReadings}))

	// one discrete input plus seven input registers
	assert.Equal(t, 8, client.count())

	m, ok := client.get("homeassistant/sensor/solar_sim/solar_sim_feeder1Breaker_voltage_l1/config")
	require.True(t, ok)
	assert.True(t, m.retained)

	var cfg map[string]any
	require.NoError(t, json.Unmarshal(m.payload, &cfg))
	assert.Equal(t, "V", cfg["unit_of_measurement"])
	assert.Equal(t, "voltage", cfg["device_class"])
	assert.Equal(t, "solar/feeder1Breaker/voltage_l1", cfg["state_topic"])
	assert.Equal(t, "feeder1Breaker Voltage L1", cfg["name"])
}

func TestClassify(t *testing.T) {
	assert.Equal(t, sensorClass{"var", "reactive_power"}, classify("secondary_reactive_power"))
	assert.Equal(t, sensorClass{"W", "power"}, classify("real_power"))
	assert.Equal(t, sensorClass{"A", "current"}, classify("current_l2"))
	assert.Equal(t, sensorClass{"W/m²", "irradiance"}, classify("irradiance"))
	assert.Equal(t, sensorClass{}, classify("weather_state"))
}

func TestRunPublishesUntilCancelled(t *testing.T) {
	client := newFakeClient()
	p := newPublisher(client, "solar", quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, 5*time.Millisecond, func() []simulator.DeviceReadings {
			return []simulator.DeviceReadings{breakerReadings}
		})
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, ok := client.get("solar/feeder1Breaker/status")
		return ok
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop")
	}
}

func TestDisabledPublisher(t *testing.T) {
	p, err := NewPublisher(PublisherConfig{}, quietLogger())
	require.NoError(t, err)
	assert.False(t, p.IsConnected())
	assert.NoError(t, p.Publish(breakerReadings, time.Now()))
	p.Run(context.Background(), time.Millisecond, nil)
	p.Close()
}
