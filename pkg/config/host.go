package config

// Host-side settings: where the printer is attached and which surfaces
// the daemon exposes. These are read once at startup and are not part of
// the runtime-tunable set.

// SerialSettings selects the printer's serial link.
type SerialSettings struct {
	// Port is a device path, or "auto" to probe the usual USB serial
	// device paths at connect time.
	Port string
	Baud int
}

// SerialFromConfig reads [printer] serial options.
func SerialFromConfig(cfg *Config) (*SerialSettings, error) {
	sec := sectionOrEmpty(cfg, "printer")
	port, err := sec.Get("serial_port", "auto")
	if err != nil {
		return nil, err
	}
	baud, err := sec.GetIntWithBounds("baud_rate", ip(1200), nil, 115200)
	if err != nil {
		return nil, err
	}
	return &SerialSettings{Port: port, Baud: baud}, nil
}

// APISettings configures the HTTP/WebSocket admin surface.
type APISettings struct {
	Enabled bool
	Listen  string
}

// APIFromConfig reads the [api] section.
func APIFromConfig(cfg *Config) (*APISettings, error) {
	sec := sectionOrEmpty(cfg, "api")
	enabled, err := sec.GetBool("enabled", true)
	if err != nil {
		return nil, err
	}
	listen, err := sec.Get("listen", "127.0.0.1:7125")
	if err != nil {
		return nil, err
	}
	return &APISettings{Enabled: enabled, Listen: listen}, nil
}

// MQTTSettings configures the optional MQTT status publisher.
type MQTTSettings struct {
	Enabled     bool
	Brokers     []string
	TopicPrefix string
	ClientID    string
	Username    string
	Password    string
	QoS         byte
}

// MQTTFromConfig reads the [mqtt] section. Disabled unless the section
// sets enabled.
func MQTTFromConfig(cfg *Config) (*MQTTSettings, error) {
	sec := sectionOrEmpty(cfg, "mqtt")
	enabled, err := sec.GetBool("enabled", false)
	if err != nil {
		return nil, err
	}
	brokers, err := sec.GetList("brokers", ",", []string{"tcp://127.0.0.1:1883"})
	if err != nil {
		return nil, err
	}
	prefix, err := sec.Get("topic_prefix", "plasticpilot")
	if err != nil {
		return nil, err
	}
	clientID, err := sec.Get("client_id", "plasticpilot")
	if err != nil {
		return nil, err
	}
	username, err := sec.Get("username", "")
	if err != nil {
		return nil, err
	}
	password, err := sec.Get("password", "")
	if err != nil {
		return nil, err
	}
	qos, err := sec.GetIntWithBounds("qos", ip(0), ip(2), 0)
	if err != nil {
		return nil, err
	}
	return &MQTTSettings{
		Enabled:     enabled,
		Brokers:     brokers,
		TopicPrefix: prefix,
		ClientID:    clientID,
		Username:    username,
		Password:    password,
		QoS:         byte(qos),
	}, nil
}
