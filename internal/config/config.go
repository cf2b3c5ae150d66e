package config

import (
	"fmt"
	"os"
	"time"

	"github.com/satindergrewal/neuroloop/internal/acquire"
	"github.com/satindergrewal/neuroloop/internal/device"
	"github.com/satindergrewal/neuroloop/internal/policy"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key when read from the environment,
// e.g. NEUROLOOP_SERIAL_PORT.
const EnvPrefix = "NEUROLOOP"

// Acquisition sources.
const (
	SourceSynthetic = "synthetic"
	SourceMQTT      = "mqtt"
)

// eegChannels is the EEG channel count per supported headset.
var eegChannels = map[string]int{
	"muse2":     4,
	"muse-s":    4,
	"ganglion":  4,
	"cyton":     8,
	"synthetic": 8,
}

// Config holds all runtime configuration, loaded from flags, environment
// variables and an optional YAML file.
type Config struct {
	// Server
	Port int

	// Stimulator link
	SerialPort  string
	BaudRate    int
	SettleDelay time.Duration
	PacingDelay time.Duration
	LEDStyle    device.LEDStyle
	StopCommand device.StopCommand

	// Acquisition
	Source       string  // synthetic or mqtt
	DeviceID     string  // headset model, sets the channel count
	SampleRate   float64 // Hz
	WindowSize   int     // samples per decision window
	MQTTBroker   string
	MQTTTopic    string
	SimAmplitude float64 // µV, synthetic source only

	// Loop
	CycleInterval time.Duration

	// Policy
	Policy          policy.Variant
	Preset          int
	PresetsFile     string
	EEGThreshold    float64
	ScalingFactor   float64
	Indicator       bool
	PolicyIndicator bool
}

// SetDefaults registers every key's default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("serial_port", "/dev/ttyACM0")
	v.SetDefault("baud_rate", device.DefaultBaudRate)
	v.SetDefault("settle_delay", device.DefaultSettleDelay)
	v.SetDefault("pacing_delay", device.DefaultPacingDelay)
	v.SetDefault("cycle_interval", 6*time.Second)
	v.SetDefault("source", SourceSynthetic)
	v.SetDefault("device_id", "muse2")
	v.SetDefault("sample_rate", 256)
	v.SetDefault("window_size", 100)
	v.SetDefault("mqtt_broker", "tcp://localhost:1883")
	v.SetDefault("mqtt_topic", "neuroloop/eeg/raw")
	v.SetDefault("sim_amplitude", 150)
	v.SetDefault("policy", string(policy.RangeScaled))
	v.SetDefault("preset", policy.DefaultPreset)
	v.SetDefault("presets_file", "")
	v.SetDefault("eeg_threshold", policy.DefaultEEGThreshold)
	v.SetDefault("scaling_factor", policy.DefaultScalingFactor)
	v.SetDefault("indicator", true)
	v.SetDefault("policy_indicator", false)
	v.SetDefault("led_style", string(device.LEDSpaced))
	v.SetDefault("stop_command", string(device.StopEOFF))
}

// New returns a viper instance with defaults registered and environment
// lookup enabled.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// Load reads configuration from v. Values that do not parse fall back to
// their defaults.
func Load(v *viper.Viper) Config {
	return Config{
		Port: getInt(v, "port", 8080),

		SerialPort:  getStr(v, "serial_port", "/dev/ttyACM0"),
		BaudRate:    getInt(v, "baud_rate", device.DefaultBaudRate),
		SettleDelay: getDuration(v, "settle_delay", device.DefaultSettleDelay),
		PacingDelay: getDuration(v, "pacing_delay", device.DefaultPacingDelay),
		LEDStyle:    device.LEDStyle(getStr(v, "led_style", string(device.LEDSpaced))),
		StopCommand: device.StopCommand(getStr(v, "stop_command", string(device.StopEOFF))),

		Source:       getStr(v, "source", SourceSynthetic),
		DeviceID:     getStr(v, "device_id", "muse2"),
		SampleRate:   getFloat(v, "sample_rate", 256),
		WindowSize:   getInt(v, "window_size", 100),
		MQTTBroker:   getStr(v, "mqtt_broker", "tcp://localhost:1883"),
		MQTTTopic:    getStr(v, "mqtt_topic", "neuroloop/eeg/raw"),
		SimAmplitude: getFloat(v, "sim_amplitude", 150),

		CycleInterval: getDuration(v, "cycle_interval", 6*time.Second),

		Policy:          policy.Variant(getStr(v, "policy", string(policy.RangeScaled))),
		Preset:          getInt(v, "preset", policy.DefaultPreset),
		PresetsFile:     getStr(v, "presets_file", ""),
		EEGThreshold:    getFloat(v, "eeg_threshold", policy.DefaultEEGThreshold),
		ScalingFactor:   getFloat(v, "scaling_factor", policy.DefaultScalingFactor),
		Indicator:       getBool(v, "indicator", true),
		PolicyIndicator: getBool(v, "policy_indicator", false),
	}
}

// Validate rejects configurations the loop cannot run with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("invalid baud_rate: %d", c.BaudRate)
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("invalid settle_delay: %v", c.SettleDelay)
	}
	if c.PacingDelay < 0 {
		return fmt.Errorf("invalid pacing_delay: %v", c.PacingDelay)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample_rate: %v", c.SampleRate)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("invalid window_size: %d", c.WindowSize)
	}
	if c.CycleInterval <= 0 {
		return fmt.Errorf("invalid cycle_interval: %v", c.CycleInterval)
	}
	switch c.Source {
	case SourceSynthetic, SourceMQTT:
	default:
		return fmt.Errorf("invalid source: %s (must be %s or %s)", c.Source, SourceSynthetic, SourceMQTT)
	}
	if _, ok := eegChannels[c.DeviceID]; !ok {
		return fmt.Errorf("unknown device_id: %s", c.DeviceID)
	}
	if c.Preset < 1 || c.Preset > policy.PresetCount {
		return fmt.Errorf("invalid preset: %d (must be 1-%d)", c.Preset, policy.PresetCount)
	}
	if err := c.Vocabulary().Validate(); err != nil {
		return err
	}
	switch c.Policy {
	case policy.FixedThreshold, policy.BaselineRelative, policy.RangeScaled:
	default:
		return fmt.Errorf("invalid policy: %s", c.Policy)
	}
	if c.ScalingFactor <= 0 {
		return fmt.Errorf("invalid scaling_factor: %v", c.ScalingFactor)
	}
	return nil
}

// Vocabulary returns the firmware dialect selected by led_style and
// stop_command.
func (c Config) Vocabulary() device.Vocabulary {
	return device.Vocabulary{LED: c.LEDStyle, Stop: c.StopCommand}
}

// Presets returns the preset table: the built-in one, or presets_file.
func (c Config) Presets() (policy.Presets, error) {
	if c.PresetsFile == "" {
		return policy.DefaultPresets, nil
	}
	f, err := os.Open(c.PresetsFile)
	if err != nil {
		return nil, fmt.Errorf("open presets file: %w", err)
	}
	defer f.Close()
	return policy.LoadPresets(f)
}

// PolicyConfig builds the decision configuration using preset table.
func (c Config) PolicyConfig(table policy.Presets) (policy.Config, error) {
	pc := policy.Config{
		Variant:         c.Policy,
		EEGThreshold:    c.EEGThreshold,
		ScalingFactor:   c.ScalingFactor,
		Indicator:       c.Indicator,
		PolicyIndicator: c.PolicyIndicator,
	}
	pc, err := pc.WithPreset(table, c.Preset)
	if err != nil {
		return pc, err
	}
	return pc, pc.Validate()
}

// LinkConfig describes the stimulator port.
func (c Config) LinkConfig() device.LinkConfig {
	return device.LinkConfig{
		Port:        c.SerialPort,
		BaudRate:    c.BaudRate,
		SettleDelay: c.SettleDelay,
		PacingDelay: c.PacingDelay,
		Vocabulary:  c.Vocabulary(),
	}
}

// EEGChannels is the channel count of the configured headset.
func (c Config) EEGChannels() int {
	return eegChannels[c.DeviceID]
}

// NewSource builds the configured acquisition source.
func (c Config) NewSource() acquire.Source {
	if c.Source == SourceMQTT {
		return acquire.NewMQTTSource(acquire.MQTTConfig{
			Broker:   c.MQTTBroker,
			Topic:    c.MQTTTopic,
			Capacity: 4 * c.WindowSize,
		})
	}
	return acquire.NewSynthetic(acquire.SyntheticConfig{
		SampleRate: c.SampleRate,
		Channels:   c.EEGChannels(),
		Amplitude:  c.SimAmplitude,
		Seed:       uint64(time.Now().UnixNano()),
	})
}

func getStr(v *viper.Viper, key, fallback string) string {
	if s := v.GetString(key); s != "" {
		return s
	}
	return fallback
}

func getInt(v *viper.Viper, key string, fallback int) int {
	if n, err := cast.ToIntE(v.Get(key)); err == nil {
		return n
	}
	return fallback
}

func getFloat(v *viper.Viper, key string, fallback float64) float64 {
	if f, err := cast.ToFloat64E(v.Get(key)); err == nil {
		return f
	}
	return fallback
}

func getBool(v *viper.Viper, key string, fallback bool) bool {
	if b, err := cast.ToBoolE(v.Get(key)); err == nil {
		return b
	}
	return fallback
}

func getDuration(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	if d, err := cast.ToDurationE(v.Get(key)); err == nil {
		return d
	}
	return fallback
}
