package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"solar-sim/internal/device"
	"solar-sim/internal/simulator"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	enabled     bool
	logger      *slog.Logger
}

type PublisherConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	Enabled     bool
}

func NewPublisher(cfg PublisherConfig, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return &Publisher{enabled: false, logger: logger}, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", "err", err)
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			logger.Info("mqtt connected", "broker", cfg.Broker)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return newPublisher(client, cfg.TopicPrefix, logger), nil
}

func newPublisher(client mqtt.Client, topicPrefix string, logger *slog.Logger) *Publisher {
	return &Publisher{
		client:      client,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
		enabled:     true,
		logger:      logger,
	}
}

type status struct {
	UID       string        `json:"uid"`
	Name      string        `json:"name"`
	Group     device.Group  `json:"group"`
	Address   uint8         `json:"address"`
	Timestamp time.Time     `json:"timestamp"`
	Values    device.Values `json:"values"`
}

// Publish sends one topic per field of the device plus a retained JSON status.
func (p *Publisher) Publish(r simulator.DeviceReadings, at time.Time) error {
	if !p.enabled {
		return nil
	}

	for name, value := range r.Values {
		topic := fmt.Sprintf("%s/%s/%s", p.topicPrefix, r.Name, name)
		payload := fmt.Sprintf("%v", value)
		token := p.client.Publish(topic, 0, false, payload)
		token.Wait()
		if token.Error() != nil {
			p.logger.Warn("failed to publish", "topic", topic, "err", token.Error())
		}
	}

	statusJSON, err := json.Marshal(status{
		UID:       r.UID,
		Name:      r.Name,
		Group:     r.Group,
		Address:   r.Address,
		Timestamp: at,
		Values:    r.Values,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	statusTopic := fmt.Sprintf("%s/%s/status", p.topicPrefix, r.Name)
	token := p.client.Publish(statusTopic, 0, true, statusJSON)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish status: %w", token.Error())
	}

	return nil
}

type sensorClass struct {
	unit        string
	deviceClass string
}

// classify picks the Home Assistant unit and class from a field name.
func classify(field string) sensorClass {
	switch {
	case strings.HasSuffix(field, "reactive_power"):
		return sensorClass{"var", "reactive_power"}
	case strings.HasSuffix(field, "real_power"):
		return sensorClass{"W", "power"}
	case strings.Contains(field, "voltage"):
		return sensorClass{"V", "voltage"}
	case strings.Contains(field, "current"):
		return sensorClass{"A", "current"}
	case field == "frequency":
		return sensorClass{"Hz", "frequency"}
	case field == "power_factor":
		return sensorClass{"", "power_factor"}
	case field == "irradiance":
		return sensorClass{"W/m²", "irradiance"}
	case field == "air_temperature":
		return sensorClass{"°C", "temperature"}
	case field == "soiling_ratio":
		return sensorClass{"%", ""}
	}
	return sensorClass{}
}

func title(s string) string {
	words := strings.Split(s, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// PublishHomeAssistantDiscovery announces a sensor for every telemetry field
// of every device.
func (p *Publisher) PublishHomeAssistantDiscovery(devices []simulator.DeviceReadings) error {
	if !p.enabled {
		return nil
	}

	for _, d := range devices {
		layout, ok := device.LayoutOf(d.Group)
		if !ok {
			continue
		}
		fields := append(append([]device.Field{}, layout.DiscreteInputs...), layout.InputRegisters...)
		sort.SliceStable(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

		for _, f := range fields {
			id := fmt.Sprintf("solar_sim_%s_%s", d.Name, f.Name)
			discoveryTopic := fmt.Sprintf("homeassistant/sensor/solar_sim/%s/config", id)

			class := classify(f.Name)
			config := map[string]interface{}{
				"name":        fmt.Sprintf("%s %s", d.Name, title(f.Name)),
				"unique_id":   id,
				"state_topic": fmt.Sprintf("%s/%s/%s", p.topicPrefix, d.Name, f.Name),
				"device": map[string]interface{}{
					"identifiers":  []string{d.UID},
					"name":         d.Name,
					"manufacturer": "solar-sim",
					"model":        string(d.Group),
				},
			}
			if class.unit != "" {
				config["unit_of_measurement"] = class.unit
			}
			if class.deviceClass != "" {
				config["device_class"] = class.deviceClass
			}

			payload, err := json.Marshal(config)
			if err != nil {
				return fmt.Errorf("failed to marshal discovery for %s: %w", id, err)
			}
			token := p.client.Publish(discoveryTopic, 0, true, payload)
			token.Wait()
			if token.Error() != nil {
				return fmt.Errorf("failed to publish discovery for %s: %w", id, token.Error())
			}
		}
	}

	return nil
}

// Run publishes the readings returned by collect every interval until ctx is
// cancelled. Discovery is sent once before the first round.
func (p *Publisher) Run(ctx context.Context, interval time.Duration, collect func() []simulator.DeviceReadings) {
	if !p.enabled {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	if err := p.PublishHomeAssistantDiscovery(collect()); err != nil {
		p.logger.Warn("home assistant discovery failed", "err", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, r := range collect() {
				if err := p.Publish(r, now); err != nil {
					p.logger.Warn("mqtt publish failed", "device", r.Name, "err", err)
				}
			}
		}
	}
}

func (p *Publisher) IsConnected() bool {
	if !p.enabled {
		return false
	}
	return p.client.IsConnected()
}

func (p *Publisher) Close() {
	if p.enabled && p.client != nil {
		p.client.Disconnect(1000)
	}
}
