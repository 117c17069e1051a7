package notify

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"plasticpilot/pkg/config"
	"plasticpilot/pkg/log"
	"plasticpilot/pkg/metrics"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttRetryInterval  = 10 * time.Second
	mqttQuiesceMS      = 250
)

// MQTTPublisher mirrors status events onto an MQTT broker. Payloads
// are published as JSON under <topic_prefix>/{status,controllers,
// settings}. Status and controller topics are retained so a late
// subscriber sees the current state immediately.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	qos    byte
	log    *log.Logger
	pm     *metrics.PilotMetrics
}

// NewMQTTPublisher connects to the configured broker in the background
// and returns immediately. A broker that is down at startup is retried
// until it appears; events published in the meantime are dropped.
func NewMQTTPublisher(cfg *config.MQTTSettings, logger *log.Logger, pm *metrics.PilotMetrics) *MQTTPublisher {
	if logger == nil {
		logger = log.GetLogger("mqtt")
	}
	if pm == nil {
		pm = metrics.Global()
	}

	opts := mqtt.NewClientOptions()
	for _, broker := range cfg.Brokers {
		opts.AddBroker(broker)
	}
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(mqttRetryInterval)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("connected to broker %v", cfg.Brokers)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("broker connection lost: %v", err)
	})

	p := &MQTTPublisher{
		client: mqtt.NewClient(opts),
		prefix: cfg.TopicPrefix,
		qos:    cfg.QoS,
		log:    logger,
	}
	p.pm = pm
	p.client.Connect()
	return p
}

// PushStatus implements Notifier.
func (p *MQTTPublisher) PushStatus(payload StatusPayload) {
	p.publish("status", true, payload)
}

// PushControllers implements Notifier.
func (p *MQTTPublisher) PushControllers(payload ControllersPayload) {
	p.publish("controllers", true, payload)
}

// PushSettings implements Notifier.
func (p *MQTTPublisher) PushSettings(payload SettingsPayload) {
	p.publish("settings", false, payload)
}

// publish serializes and fires one message without waiting for the
// broker. Nothing is queued while disconnected.
func (p *MQTTPublisher) publish(topic string, retain bool, payload interface{}) {
	if !p.client.IsConnectionOpen() {
		p.log.Debug("broker not connected, dropping %s event", topic)
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Warn("marshal %s event: %v", topic, err)
		return
	}
	p.client.Publish(p.prefix+"/"+topic, p.qos, retain, data)
	p.pm.RecordNotification("mqtt")
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(mqttQuiesceMS)
}
