package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Inheritance markers reported by `config show`.
const (
	Inherited       = "inherited"
	ProfileSpecific = "profile-specific"
	BuiltIn         = "built-in"
)

var supportedBackends = map[string]bool{"": true, "auto": true, "pipewire": true, "portaudio": true}

var supportedCodecs = map[string]bool{"libopus": true, "opus": true, "libvorbis": true, "vorbis": true, "flac": true}

type DefinitionsConfig struct {
	Devices []DeviceDefinition `mapstructure:"devices" yaml:"devices"`
}

// DeviceDefinition names a capture device once so profiles can refer to it
type DeviceDefinition struct {
	ID      string `mapstructure:"id" yaml:"id"`
	Name    string `mapstructure:"name" yaml:"name"`
	Source  string `mapstructure:"source" yaml:"source"`   // backend device id, empty for system default
	Backend string `mapstructure:"backend" yaml:"backend"` // optional backend override
}

type GlobalsConfig struct {
	Output GlobalOutputConfig `mapstructure:"output" yaml:"output"`
}

type GlobalOutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig            `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Definitions  *DefinitionsConfig        `mapstructure:"definitions,omitempty" yaml:"definitions,omitempty"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

type ConfigProfile struct {
	Device        string              `mapstructure:"device" yaml:"device"`
	Audio         AudioConfig         `mapstructure:"audio" yaml:"audio"`
	Meter         MeterConfig         `mapstructure:"meter" yaml:"meter"`
	Output        OutputConfig        `mapstructure:"output" yaml:"output"`
	Transcription TranscriptionConfig `mapstructure:"transcription" yaml:"transcription"`
}

type Config struct {
	Profile       string              `mapstructure:"-" yaml:"profile"`
	Device        DeviceDefinition    `mapstructure:"device" yaml:"device"`
	Audio         AudioConfig         `mapstructure:"audio" yaml:"audio"`
	Meter         MeterConfig         `mapstructure:"meter" yaml:"meter"`
	Output        OutputConfig        `mapstructure:"output" yaml:"output"`
	Transcription TranscriptionConfig `mapstructure:"transcription" yaml:"transcription"`

	// Internal field to track inheritance information for config show
	Inheritance *InheritanceInfo `mapstructure:"-" yaml:"-"`
}

type InheritanceInfo struct {
	Device string
	Audio  struct {
		Backend    string
		SampleRate string
		Channels   string
		Codec      string
	}
	Meter struct {
		Interval string
		Gain     string
		Window   string
	}
	Output struct {
		Directory    string
		FallbackName string
	}
	Transcription struct {
		Language      string
		Model         string
		StreamingMode string
		VADThreshold  string
	}
}

type AudioConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // "pipewire", "portaudio", "auto"
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
	Codec      string `mapstructure:"codec" yaml:"codec"` // ffmpeg encoder for live capture
	FFmpegPath string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path,omitempty"`
}

type MeterConfig struct {
	IntervalMs int     `mapstructure:"interval_ms" yaml:"interval_ms"`
	Gain       float64 `mapstructure:"gain" yaml:"gain"`
	Window     int     `mapstructure:"window" yaml:"window"`
}

type OutputConfig struct {
	Directory    string `mapstructure:"directory" yaml:"directory"`
	FallbackName string `mapstructure:"fallback_name" yaml:"fallback_name"`
	KeepRaw      bool   `mapstructure:"keep_raw" yaml:"keep_raw"`
}

type TranscriptionConfig struct {
	Language          string   `mapstructure:"language" yaml:"language,omitempty"`
	Model             string   `mapstructure:"model" yaml:"model"`
	StreamingMode     string   `mapstructure:"streaming_mode" yaml:"streaming_mode"`
	EnablePunctuation *bool    `mapstructure:"enable_punctuation" yaml:"enable_punctuation,omitempty"`
	EnableVAD         *bool    `mapstructure:"enable_vad" yaml:"enable_vad,omitempty"`
	VADThreshold      *float64 `mapstructure:"vad_threshold" yaml:"vad_threshold,omitempty"`
	Diarization       *bool    `mapstructure:"diarization" yaml:"diarization,omitempty"`
}

func boolPtr(v bool) *bool          { return &v }
func float64Ptr(v float64) *float64 { return &v }

// DefaultConfigPath returns $HOME/.config/wavcapture.yaml
func DefaultConfigPath() string {
	return os.ExpandEnv("$HOME/.config/wavcapture.yaml")
}

// Default returns the built-in configuration used when no file exists
func Default() *Config {
	cfg := &Config{Profile: "default"}
	applyDefaults(cfg)
	cfg.Output.Directory = expandPath(cfg.Output.Directory)
	return cfg
}

// applyDefaults fills every unset field with its built-in value
func applyDefaults(cfg *Config) {
	if cfg.Inheritance == nil {
		cfg.Inheritance = &InheritanceInfo{}
	}
	inh := cfg.Inheritance

	setString := func(v *string, def string, marker *string) {
		if *v == "" {
			*v = def
			*marker = BuiltIn
		}
	}
	setInt := func(v *int, def int, marker *string) {
		if *v == 0 {
			*v = def
			*marker = BuiltIn
		}
	}

	if cfg.Device.ID == "" && cfg.Device.Source == "" && inh.Device == "" {
		inh.Device = BuiltIn
	}
	setString(&cfg.Audio.Backend, "auto", &inh.Audio.Backend)
	setInt(&cfg.Audio.SampleRate, 48000, &inh.Audio.SampleRate)
	setInt(&cfg.Audio.Channels, 1, &inh.Audio.Channels)
	setString(&cfg.Audio.Codec, "libopus", &inh.Audio.Codec)
	setInt(&cfg.Meter.IntervalMs, 16, &inh.Meter.Interval)
	setInt(&cfg.Meter.Window, 256, &inh.Meter.Window)
	if cfg.Meter.Gain == 0 {
		cfg.Meter.Gain = 4
		inh.Meter.Gain = BuiltIn
	}
	setString(&cfg.Output.Directory, filepath.Join("~", "Audio", "WavCapture"), &inh.Output.Directory)
	setString(&cfg.Output.FallbackName, "audio", &inh.Output.FallbackName)
	setString(&cfg.Transcription.Model, "default", &inh.Transcription.Model)
	setString(&cfg.Transcription.StreamingMode, "batch", &inh.Transcription.StreamingMode)
	if cfg.Transcription.EnablePunctuation == nil {
		cfg.Transcription.EnablePunctuation = boolPtr(true)
	}
	if cfg.Transcription.EnableVAD == nil {
		cfg.Transcription.EnableVAD = boolPtr(false)
	}
	if cfg.Transcription.VADThreshold == nil {
		cfg.Transcription.VADThreshold = float64Ptr(0.5)
		inh.Transcription.VADThreshold = BuiltIn
	}
	if cfg.Transcription.Diarization == nil {
		cfg.Transcription.Diarization = boolPtr(false)
	}
}

// LoadWithProfile loads configFile and resolves the requested profile. An
// empty configFile selects DefaultConfigPath; a missing default file yields
// the built-in configuration.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	explicit := configFile != ""
	if !explicit {
		configFile = DefaultConfigPath()
	}
	if _, err := os.Stat(configFile); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			if profile != "" && profile != "default" {
				return nil, fmt.Errorf("configuration profile '%s' not found (no config file at %s)", profile, configFile)
			}
			return Default(), nil
		}
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	// Validate configuration format first
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return resolve(rootConfig, profile)
}

func resolve(rootConfig *RootConfig, profile string) (*Config, error) {
	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		if configName != "default" || len(rootConfig.Configs) > 0 {
			return nil, fmt.Errorf("configuration profile '%s' not found", configName)
		}
		selectedProfile = &ConfigProfile{}
	}

	selectedConfig, err := convertProfileToConfig(selectedProfile, rootConfig.Definitions)
	if err != nil {
		return nil, fmt.Errorf("error resolving configuration profile '%s': %w", configName, err)
	}

	var base *Config
	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			base, err = convertProfileToConfig(defaultProfile, rootConfig.Definitions)
			if err != nil {
				return nil, fmt.Errorf("error resolving default configuration: %w", err)
			}
		}
	}
	result := mergeConfigs(base, selectedConfig)
	result.Profile = configName

	// Global output directory takes priority over profile-specific directory
	if rootConfig.Globals != nil && rootConfig.Globals.Output.Directory != "" {
		result.Output.Directory = rootConfig.Globals.Output.Directory
		result.Inheritance.Output.Directory = Inherited
	}

	applyDefaults(result)
	result.Output.Directory = expandPath(result.Output.Directory)

	if err := validateConfig(result); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return result, nil
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	// Create a new viper instance to avoid interfering with other readers
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if _, ok := rootConfig.Configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// convertProfileToConfig converts a ConfigProfile to Config by resolving the device reference
func convertProfileToConfig(profile *ConfigProfile, definitions *DefinitionsConfig) (*Config, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile cannot be nil")
	}

	config := &Config{
		Audio:         profile.Audio,
		Meter:         profile.Meter,
		Output:        profile.Output,
		Transcription: profile.Transcription,
	}

	if profile.Device != "" {
		definition := findDevice(definitions, profile.Device)
		if definition == nil {
			return nil, fmt.Errorf("device reference '%s' not found in definitions", profile.Device)
		}
		config.Device = *definition
	}

	return config, nil
}

func findDevice(definitions *DefinitionsConfig, id string) *DeviceDefinition {
	if definitions == nil {
		return nil
	}
	for i := range definitions.Devices {
		if definitions.Devices[i].ID == id {
			return &definitions.Devices[i]
		}
	}
	return nil
}

// mergeConfigs implements the "Selection & Fallback" inheritance model:
// every field the profile leaves unset falls back to the base (default) profile.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{Inheritance: &InheritanceInfo{}}
	inh := result.Inheritance

	if base != nil {
		result.Device = base.Device
		result.Audio = base.Audio
		result.Meter = base.Meter
		result.Output = base.Output
		result.Transcription = base.Transcription

		// Mark as inherited by default
		inh.Device = Inherited
		inh.Audio.Backend = Inherited
		inh.Audio.SampleRate = Inherited
		inh.Audio.Channels = Inherited
		inh.Audio.Codec = Inherited
		inh.Meter.Interval = Inherited
		inh.Meter.Gain = Inherited
		inh.Meter.Window = Inherited
		inh.Output.Directory = Inherited
		inh.Output.FallbackName = Inherited
		inh.Transcription.Language = Inherited
		inh.Transcription.Model = Inherited
		inh.Transcription.StreamingMode = Inherited
		inh.Transcription.VADThreshold = Inherited
	}

	if profile == nil {
		return result
	}

	overrideString := func(dst *string, v string, marker *string) {
		if v != "" {
			*dst = v
			*marker = ProfileSpecific
		}
	}
	overrideInt := func(dst *int, v int, marker *string) {
		if v != 0 {
			*dst = v
			*marker = ProfileSpecific
		}
	}

	if profile.Device.ID != "" {
		result.Device = profile.Device
		inh.Device = ProfileSpecific
	}

	overrideString(&result.Audio.Backend, profile.Audio.Backend, &inh.Audio.Backend)
	overrideInt(&result.Audio.SampleRate, profile.Audio.SampleRate, &inh.Audio.SampleRate)
	overrideInt(&result.Audio.Channels, profile.Audio.Channels, &inh.Audio.Channels)
	overrideString(&result.Audio.Codec, profile.Audio.Codec, &inh.Audio.Codec)
	if profile.Audio.FFmpegPath != "" {
		result.Audio.FFmpegPath = profile.Audio.FFmpegPath
	}

	overrideInt(&result.Meter.IntervalMs, profile.Meter.IntervalMs, &inh.Meter.Interval)
	overrideInt(&result.Meter.Window, profile.Meter.Window, &inh.Meter.Window)
	if profile.Meter.Gain != 0 {
		result.Meter.Gain = profile.Meter.Gain
		inh.Meter.Gain = ProfileSpecific
	}

	overrideString(&result.Output.Directory, profile.Output.Directory, &inh.Output.Directory)
	overrideString(&result.Output.FallbackName, profile.Output.FallbackName, &inh.Output.FallbackName)
	// KeepRaw: profile value always takes precedence if the profile is loaded
	result.Output.KeepRaw = profile.Output.KeepRaw

	overrideString(&result.Transcription.Language, profile.Transcription.Language, &inh.Transcription.Language)
	overrideString(&result.Transcription.Model, profile.Transcription.Model, &inh.Transcription.Model)
	overrideString(&result.Transcription.StreamingMode, profile.Transcription.StreamingMode, &inh.Transcription.StreamingMode)
	if profile.Transcription.EnablePunctuation != nil {
		result.Transcription.EnablePunctuation = profile.Transcription.EnablePunctuation
	}
	if profile.Transcription.EnableVAD != nil {
		result.Transcription.EnableVAD = profile.Transcription.EnableVAD
	}
	if profile.Transcription.VADThreshold != nil {
		result.Transcription.VADThreshold = profile.Transcription.VADThreshold
		inh.Transcription.VADThreshold = ProfileSpecific
	}
	if profile.Transcription.Diarization != nil {
		result.Transcription.Diarization = profile.Transcription.Diarization
	}

	return result
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// validateConfig checks a fully resolved configuration
func validateConfig(cfg *Config) error {
	backend := cfg.Audio.Backend
	if cfg.Device.Backend != "" {
		backend = cfg.Device.Backend
	}
	if !supportedBackends[strings.ToLower(backend)] {
		return fmt.Errorf("audio.backend must be one of pipewire, portaudio, auto, got: %s", backend)
	}
	if cfg.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0, got: %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels <= 0 || cfg.Audio.Channels > 65535 {
		return fmt.Errorf("audio.channels must be between 1 and 65535, got: %d", cfg.Audio.Channels)
	}
	if !supportedCodecs[cfg.Audio.Codec] {
		return fmt.Errorf("audio.codec must be libopus, libvorbis or flac, got: %s", cfg.Audio.Codec)
	}
	if cfg.Meter.IntervalMs <= 0 {
		return fmt.Errorf("meter.interval_ms must be > 0, got: %d", cfg.Meter.IntervalMs)
	}
	if cfg.Meter.Gain <= 0 {
		return fmt.Errorf("meter.gain must be > 0, got: %.2f", cfg.Meter.Gain)
	}
	if cfg.Meter.Window <= 0 {
		return fmt.Errorf("meter.window must be > 0, got: %d", cfg.Meter.Window)
	}
	if t := cfg.Transcription.VADThreshold; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("transcription.vad_threshold must be within [0,1], got: %.2f", *t)
	}
	return nil
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	// Environment overrides, e.g. WAVCAPTURE_ACTIVE_CONFIG
	v.SetEnvPrefix("WAVCAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateDefinitions(rootConfig.Definitions); err != nil {
		return nil, fmt.Errorf("invalid definitions: %w", err)
	}

	for configName, configProfile := range rootConfig.Configs {
		if configProfile == nil {
			rootConfig.Configs[configName] = &ConfigProfile{}
			continue
		}
		if err := validateProfile(configProfile, rootConfig.Definitions); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", configName, err)
		}
	}

	return &rootConfig, nil
}

// validateDefinitions validates the definitions section
func validateDefinitions(definitions *DefinitionsConfig) error {
	if definitions == nil {
		return nil
	}

	seenIDs := make(map[string]bool)
	for i, def := range definitions.Devices {
		prefix := fmt.Sprintf("definitions.devices[%d]", i)
		if def.ID == "" {
			return fmt.Errorf("%s: 'id' is required", prefix)
		}
		if seenIDs[def.ID] {
			return fmt.Errorf("%s: duplicate ID '%s'", prefix, def.ID)
		}
		seenIDs[def.ID] = true

		if !supportedBackends[strings.ToLower(def.Backend)] {
			return fmt.Errorf("%s: 'backend' must be pipewire, portaudio or auto, got: %s", prefix, def.Backend)
		}
		if strings.TrimSpace(def.Source) != def.Source {
			return fmt.Errorf("%s: 'source' must not have surrounding whitespace", prefix)
		}
	}

	return nil
}

// validateProfile validates the values a profile sets; zero values inherit
func validateProfile(profile *ConfigProfile, definitions *DefinitionsConfig) error {
	if profile.Device != "" && findDevice(definitions, profile.Device) == nil {
		return fmt.Errorf("device: references undefined device definition '%s'", profile.Device)
	}
	if !supportedBackends[strings.ToLower(profile.Audio.Backend)] {
		return fmt.Errorf("audio.backend must be pipewire, portaudio or auto, got: %s", profile.Audio.Backend)
	}
	if profile.Audio.SampleRate < 0 {
		return fmt.Errorf("audio.sample_rate must be > 0, got: %d", profile.Audio.SampleRate)
	}
	if profile.Audio.Channels < 0 {
		return fmt.Errorf("audio.channels must be > 0, got: %d", profile.Audio.Channels)
	}
	if profile.Audio.Codec != "" && !supportedCodecs[profile.Audio.Codec] {
		return fmt.Errorf("audio.codec must be libopus, libvorbis or flac, got: %s", profile.Audio.Codec)
	}
	if profile.Meter.IntervalMs < 0 {
		return fmt.Errorf("meter.interval_ms must be > 0, got: %d", profile.Meter.IntervalMs)
	}
	if profile.Meter.Gain < 0 {
		return fmt.Errorf("meter.gain must be > 0, got: %.2f", profile.Meter.Gain)
	}
	if profile.Meter.Window < 0 {
		return fmt.Errorf("meter.window must be > 0, got: %d", profile.Meter.Window)
	}
	if t := profile.Transcription.VADThreshold; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("transcription.vad_threshold must be within [0,1], got: %.2f", *t)
	}
	return nil
}

// DeviceSource returns the backend device id to capture from
func (c *Config) DeviceSource() string {
	return c.Device.Source
}

// BackendName returns the backend for the selected device
func (c *Config) BackendName() string {
	if c.Device.Backend != "" {
		return c.Device.Backend
	}
	return c.Audio.Backend
}
