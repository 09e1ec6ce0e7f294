// Package config loads and validates the bridge's YAML configuration,
// applying the same default-then-validate pattern the teacher's
// parseConfig used, generalized to inverters/bus/sinks instead of a single
// Modbus+MQTT agent.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lachlan2k/eg4-bridge/internal/serial"
)

// Config is the raw YAML document shape.
type Config struct {
	Inverters  []Inverter `yaml:"inverters"`
	MQTT       MQTT       `yaml:"mqtt"`
	Influx     Influx     `yaml:"influx"`
	Databases  []Database `yaml:"databases"`
	Scheduler  Scheduler  `yaml:"scheduler"`
	LogLevel   string     `yaml:"loglevel"`
	ReadOnly   *bool      `yaml:"read_only"`
	HomeAssistantEnabled bool   `yaml:"homeassistant_enabled"`
	StrictDataCheck      bool   `yaml:"strict_data_check"`
	DatalogFile          string `yaml:"datalog_file"`
	RegisterSchemaFile   string `yaml:"register_schema_file"`
}

// Inverter is one configured inverter connection.
type Inverter struct {
	Enabled                  *bool   `yaml:"enabled"`
	Host                     string  `yaml:"host"`
	Port                     int     `yaml:"port"`
	SerialText               string  `yaml:"serial"`
	DatalogText              string  `yaml:"datalog"`
	Heartbeats               *bool   `yaml:"heartbeats"`
	PublishHoldingsOnConnect *bool   `yaml:"publish_holdings_on_connect"`
	ReadTimeoutSecs          *int    `yaml:"read_timeout"`
	UseTCPNoDelayPtr         *bool   `yaml:"use_tcp_nodelay"`
	RegisterBlockSizePtr     *uint16 `yaml:"register_block_size"`
	DelayMillisPtr           *int    `yaml:"delay_ms"`
	ReadOnlyPtr              *bool   `yaml:"read_only"`
}

// IsEnabled defaults to true.
func (i Inverter) IsEnabled() bool { return i.Enabled == nil || *i.Enabled }

// ReadTimeout defaults to 900s (15 minutes). Zero means no deadline.
func (i Inverter) ReadTimeout() time.Duration {
	if i.ReadTimeoutSecs == nil {
		return 900 * time.Second
	}
	return time.Duration(*i.ReadTimeoutSecs) * time.Second
}

// UseTCPNoDelay defaults to true.
func (i Inverter) UseTCPNoDelay() bool { return i.UseTCPNoDelayPtr == nil || *i.UseTCPNoDelayPtr }

// RegisterBlockSize defaults to 40.
func (i Inverter) RegisterBlockSize() uint16 {
	if i.RegisterBlockSizePtr == nil {
		return 40
	}
	return *i.RegisterBlockSizePtr
}

// DelayMillis defaults to 1000ms: the inter-read pacing delay.
func (i Inverter) DelayMillis() time.Duration {
	if i.DelayMillisPtr == nil {
		return time.Second
	}
	return time.Duration(*i.DelayMillisPtr) * time.Millisecond
}

// WantsHeartbeats defaults to false.
func (i Inverter) WantsHeartbeats() bool { return i.Heartbeats != nil && *i.Heartbeats }

// WantsHoldingsOnConnect defaults to false.
func (i Inverter) WantsHoldingsOnConnect() bool {
	return i.PublishHoldingsOnConnect != nil && *i.PublishHoldingsOnConnect
}

// IsReadOnly defaults to false; only used for the per-inverter override.
func (i Inverter) IsReadOnly() bool { return i.ReadOnlyPtr != nil && *i.ReadOnlyPtr }

// Serial parses the configured inverter serial.
func (i Inverter) Serial() (serial.Serial, error) { return serial.FromText(i.SerialText) }

// Datalog parses the configured datalog serial.
func (i Inverter) Datalog() (serial.Serial, error) { return serial.FromText(i.DatalogText) }

// HomeAssistant configures MQTT discovery publication.
type HomeAssistant struct {
	EnabledPtr *bool  `yaml:"enabled"`
	Prefix     string `yaml:"prefix"`
}

// IsEnabled defaults to true.
func (h HomeAssistant) IsEnabled() bool { return h.EnabledPtr == nil || *h.EnabledPtr }

// EffectivePrefix defaults to "homeassistant".
func (h HomeAssistant) EffectivePrefix() string {
	if h.Prefix == "" {
		return "homeassistant"
	}
	return h.Prefix
}

// MQTT configures the message-bus connection.
type MQTT struct {
	EnabledPtr              *bool          `yaml:"enabled"`
	Host                    string         `yaml:"host"`
	Port                    int            `yaml:"port"`
	Username                string         `yaml:"username"`
	Password                string         `yaml:"password"`
	Namespace               string         `yaml:"namespace"`
	HomeAssistant           HomeAssistant  `yaml:"homeassistant"`
	PublishIndividualInput  *bool          `yaml:"publish_individual_input"`
}

// IsEnabled defaults to true.
func (m MQTT) IsEnabled() bool { return m.EnabledPtr == nil || *m.EnabledPtr }

// EffectivePort defaults to 1883.
func (m MQTT) EffectivePort() int {
	if m.Port == 0 {
		return 1883
	}
	return m.Port
}

// EffectiveNamespace defaults to "lxp".
func (m MQTT) EffectiveNamespace() string {
	if m.Namespace == "" {
		return "lxp"
	}
	return m.Namespace
}

// WantsIndividualInput defaults to false.
func (m MQTT) WantsIndividualInput() bool {
	return m.PublishIndividualInput != nil && *m.PublishIndividualInput
}

// Influx configures the time-series sink.
type Influx struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Database configures one SQL sink, dispatched by URL scheme.
type Database struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// Scheduler configures the periodic time-sync/poll loop.
type Scheduler struct {
	Enabled      bool   `yaml:"enabled"`
	TimesyncCron string `yaml:"timesync_cron"`
}

// Loaded wraps the raw Config with derived, validated state.
type Loaded struct {
	Config
}

// EffectiveLogLevel defaults to "debug".
func (l *Loaded) EffectiveLogLevel() string {
	if l.LogLevel == "" {
		return "debug"
	}
	return l.LogLevel
}

// IsReadOnly is the global read-only switch; required at load time (it has
// no implicit default, matching the source's config.rs).
func (l *Loaded) IsReadOnly() bool { return l.ReadOnly != nil && *l.ReadOnly }

// Load reads and validates the YAML config file at path.
func Load(path string) (*Loaded, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var loaded Loaded
	if err := yaml.Unmarshal(raw, &loaded.Config); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := validate(&loaded); err != nil {
		return nil, err
	}
	return &loaded, nil
}

func validate(l *Loaded) error {
	if l.ReadOnly == nil {
		return fmt.Errorf("config: read_only must be set explicitly (true or false)")
	}
	for idx, inv := range l.Inverters {
		if inv.Host == "" {
			return fmt.Errorf("config: inverters[%d]: host is required", idx)
		}
		if inv.Port == 0 {
			return fmt.Errorf("config: inverters[%d]: port is required", idx)
		}
		if _, err := inv.Serial(); err != nil {
			return fmt.Errorf("config: inverters[%d]: %w", idx, err)
		}
		if _, err := inv.Datalog(); err != nil {
			return fmt.Errorf("config: inverters[%d]: %w", idx, err)
		}
	}
	for idx, db := range l.Databases {
		if db.Enabled && db.URL == "" {
			return fmt.Errorf("config: databases[%d]: url is required when enabled", idx)
		}
	}
	if l.RegisterSchemaFile == "" {
		return fmt.Errorf("config: register_schema_file is required")
	}
	return nil
}
