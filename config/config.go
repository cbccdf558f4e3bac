package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/weave/errors"
	"github.com/c360/weave/flow"
	"github.com/c360/weave/router"
	"github.com/c360/weave/transport/natsbridge"
	"github.com/c360/weave/transport/wsbridge"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WEAVE"

// Config is the gateway configuration.
type Config struct {
	Version   string          `json:"version"   yaml:"version"`
	Gateway   GatewayConfig   `json:"gateway"   yaml:"gateway"`
	NATS      NATSConfig      `json:"nats"      yaml:"nats"`
	WebSocket WebSocketConfig `json:"websocket" yaml:"websocket"`
	Metrics   MetricsConfig   `json:"metrics"   yaml:"metrics"`
}

// GatewayConfig sizes the router and its buffers.
type GatewayConfig struct {
	Name             string   `json:"name"               yaml:"name"`
	HeaderPoolSize   int      `json:"header_pool_size"   yaml:"header_pool_size"`
	RxPoolSize       int      `json:"rx_pool_size"       yaml:"rx_pool_size"`
	RxBufferSize     int      `json:"rx_buffer_size"     yaml:"rx_buffer_size"`
	InboundQueueSize int      `json:"inbound_queue_size" yaml:"inbound_queue_size"`
	Workers          int      `json:"workers"            yaml:"workers"`
	SendTimeout      Duration `json:"send_timeout"       yaml:"send_timeout"`
}

// NATSConfig defines the NATS bridge.
type NATSConfig struct {
	Enabled         bool     `json:"enabled"          yaml:"enabled"`
	URL             string   `json:"url"              yaml:"url"`
	InboundSubject  string   `json:"inbound_subject"  yaml:"inbound_subject"`
	OutboundSubject string   `json:"outbound_subject" yaml:"outbound_subject"`
	ClientName      string   `json:"client_name"      yaml:"client_name"`
	MaxReconnects   int      `json:"max_reconnects"   yaml:"max_reconnects"`
	ReconnectWait   Duration `json:"reconnect_wait"   yaml:"reconnect_wait"`
	ConnectTimeout  Duration `json:"connect_timeout"  yaml:"connect_timeout"`
}

// WebSocketConfig defines the WebSocket bridge and its listener.
type WebSocketConfig struct {
	Enabled        bool     `json:"enabled"         yaml:"enabled"`
	Port           int      `json:"port"            yaml:"port"`
	Path           string   `json:"path"            yaml:"path"`
	MaxClients     int      `json:"max_clients"     yaml:"max_clients"`
	ReadTimeout    Duration `json:"read_timeout"    yaml:"read_timeout"`
	WriteTimeout   Duration `json:"write_timeout"   yaml:"write_timeout"`
	PingInterval   Duration `json:"ping_interval"   yaml:"ping_interval"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port"    yaml:"port"`
	Path    string `json:"path"    yaml:"path"`
}

// Default returns a config with every section filled in. Both bridges are
// disabled.
func Default() *Config {
	nats := natsbridge.DefaultConfig()
	ws := wsbridge.DefaultConfig()
	return &Config{
		Version: "1.0.0",
		Gateway: GatewayConfig{
			Name:             "weave",
			HeaderPoolSize:   32,
			RxPoolSize:       32,
			RxBufferSize:     router.HeaderSize + 256,
			InboundQueueSize: 64,
			Workers:          1,
			SendTimeout:      Duration(flow.NoWait),
		},
		NATS: NATSConfig{
			URL:             nats.URL,
			InboundSubject:  nats.InboundSubject,
			OutboundSubject: nats.OutboundSubject,
			ClientName:      nats.ClientName,
			MaxReconnects:   nats.MaxReconnects,
			ReconnectWait:   Duration(nats.ReconnectWait),
			ConnectTimeout:  Duration(nats.ConnectTimeout),
		},
		WebSocket: WebSocketConfig{
			Port:         8081,
			Path:         ws.Path,
			MaxClients:   ws.MaxClients,
			ReadTimeout:  Duration(ws.ReadTimeout),
			WriteTimeout: Duration(ws.WriteTimeout),
			PingInterval: Duration(ws.PingInterval),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Load reads a JSON or YAML file, chosen by extension, over the defaults,
// applies WEAVE_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "read "+path)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := checkJSONDepth(data); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "check JSON structure")
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse JSON")
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse YAML")
		}
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Load", "check extension of "+path)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from WEAVE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool, error) {
		key := EnvPrefix + "_" + name
		val, ok := lookup(key)
		if !ok || val == "" {
			return "", false, nil
		}
		if err := checkEnvValue(key, val); err != nil {
			return "", false, errors.WrapInvalid(err, "Config", "ApplyEnv", "check "+key)
		}
		return val, true, nil
	}
	getBool := func(name string, dst *bool) error {
		val, ok, err := get(name)
		if err != nil || !ok {
			return err
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return errors.WrapInvalid(err, "Config", "ApplyEnv", "parse "+EnvPrefix+"_"+name)
		}
		*dst = b
		return nil
	}
	getInt := func(name string, dst *int) error {
		val, ok, err := get(name)
		if err != nil || !ok {
			return err
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(err, "Config", "ApplyEnv", "parse "+EnvPrefix+"_"+name)
		}
		*dst = n
		return nil
	}
	getString := func(name string, dst *string) error {
		val, ok, err := get(name)
		if ok {
			*dst = val
		}
		return err
	}

	for _, apply := range []func() error{
		func() error { return getString("GATEWAY_NAME", &c.Gateway.Name) },
		func() error { return getBool("NATS_ENABLED", &c.NATS.Enabled) },
		func() error { return getString("NATS_URL", &c.NATS.URL) },
		func() error { return getBool("WS_ENABLED", &c.WebSocket.Enabled) },
		func() error { return getInt("WS_PORT", &c.WebSocket.Port) },
		func() error { return getBool("METRICS_ENABLED", &c.Metrics.Enabled) },
		func() error { return getInt("METRICS_PORT", &c.Metrics.Port) },
	} {
		if err := apply(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the config and the bridge settings derived from it.
func (c *Config) Validate() error {
	g := c.Gateway
	switch {
	case g.Name == "":
		return invalid("gateway.name is required")
	case g.HeaderPoolSize <= 0:
		return invalid("gateway.header_pool_size must be positive")
	case g.RxPoolSize <= 0:
		return invalid("gateway.rx_pool_size must be positive")
	case g.RxBufferSize <= router.HeaderSize:
		return invalid(fmt.Sprintf("gateway.rx_buffer_size must exceed the %d byte header", router.HeaderSize))
	case g.RxBufferSize > router.HeaderSize+router.MaxPayload:
		return invalid("gateway.rx_buffer_size exceeds the largest frame")
	case g.InboundQueueSize < 0:
		return invalid("gateway.inbound_queue_size cannot be negative")
	case g.Workers < 0:
		return invalid("gateway.workers cannot be negative")
	}

	if c.NATS.Enabled {
		if err := c.NATS.Bridge().Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "check nats")
		}
	}
	if c.WebSocket.Enabled {
		if err := validPort("websocket.port", c.WebSocket.Port); err != nil {
			return err
		}
		if err := c.WebSocket.Bridge().Validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "check websocket")
		}
	}
	if c.Metrics.Enabled {
		if err := validPort("metrics.port", c.Metrics.Port); err != nil {
			return err
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalid("metrics.path must start with /")
		}
		if c.WebSocket.Enabled && c.WebSocket.Port == c.Metrics.Port {
			return invalid("metrics.port and websocket.port must differ")
		}
	}
	return nil
}

func validPort(field string, port int) error {
	if port <= 0 || port > 65535 {
		return invalid(fmt.Sprintf("%s %d out of range", field, port))
	}
	return nil
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "Config", "Validate", "check config")
}

// Bridge converts the section into natsbridge settings.
func (n NATSConfig) Bridge() natsbridge.Config {
	cfg := natsbridge.DefaultConfig()
	cfg.URL = n.URL
	cfg.InboundSubject = n.InboundSubject
	cfg.OutboundSubject = n.OutboundSubject
	cfg.ClientName = n.ClientName
	cfg.MaxReconnects = n.MaxReconnects
	cfg.ReconnectWait = n.ReconnectWait.Duration()
	cfg.ConnectTimeout = n.ConnectTimeout.Duration()
	return cfg
}

// Bridge converts the section into wsbridge settings.
func (w WebSocketConfig) Bridge() wsbridge.Config {
	cfg := wsbridge.DefaultConfig()
	cfg.Path = w.Path
	cfg.MaxClients = w.MaxClients
	cfg.ReadTimeout = w.ReadTimeout.Duration()
	cfg.WriteTimeout = w.WriteTimeout.Duration()
	cfg.PingInterval = w.PingInterval.Duration()
	cfg.AllowedOrigins = w.AllowedOrigins
	return cfg
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	clone := *c
	clone.WebSocket.AllowedOrigins = append([]string(nil), c.WebSocket.AllowedOrigins...)
	return &clone
}

// String returns the config as indented JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Duration is a time.Duration written as "1.5s" in config files. Plain
// numbers are read as nanoseconds.
type Duration time.Duration

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(v)
	case int:
		*d = Duration(v)
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}
