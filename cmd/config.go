package cmd

import (
	"fmt"

	"github.com/audiolibrelab/wavcapture/internal/config"

	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage WavCapture configuration profiles.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Print the resolved configuration as YAML followed by where each value came from: the selected profile, the default profile or the built-in defaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Print(string(out))

		if cfg.Inheritance != nil {
			fmt.Printf("\n=== INHERITANCE ===\n")
			printInheritance(cfg)
		}
		return nil
	},
}

var configUseCmd = &cobra.Command{
	Use:   "use [profile]",
	Short: "Set the active configuration profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultConfigPath()
		}
		if err := config.UpdateActiveConfig(path, args[0]); err != nil {
			return err
		}
		fmt.Printf("Active configuration set to '%s' in %s\n", args[0], path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultConfigPath()
		}
		root, err := config.ValidateConfigurationFormat(path)
		if err != nil {
			return err
		}
		fmt.Printf("%s is valid (%d profiles, active: %s)\n", path, len(root.Configs), root.ActiveConfig)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configUseCmd)
	configCmd.AddCommand(configValidateCmd)
}

// printInheritance lists the origin of every tracked setting
func printInheritance(c *config.Config) {
	inh := c.Inheritance
	fmt.Printf("device: %s %s\n", c.Device.ID, getInheritanceIndicator(inh.Device))

	fmt.Printf("\n[Audio]\n")
	fmt.Printf("backend: %s %s\n", c.Audio.Backend, getInheritanceIndicator(inh.Audio.Backend))
	fmt.Printf("sample_rate: %d %s\n", c.Audio.SampleRate, getInheritanceIndicator(inh.Audio.SampleRate))
	fmt.Printf("channels: %d %s\n", c.Audio.Channels, getInheritanceIndicator(inh.Audio.Channels))
	fmt.Printf("codec: %s %s\n", c.Audio.Codec, getInheritanceIndicator(inh.Audio.Codec))

	fmt.Printf("\n[Meter]\n")
	fmt.Printf("interval_ms: %d %s\n", c.Meter.IntervalMs, getInheritanceIndicator(inh.Meter.Interval))
	fmt.Printf("gain: %.1f %s\n", c.Meter.Gain, getInheritanceIndicator(inh.Meter.Gain))
	fmt.Printf("window: %d %s\n", c.Meter.Window, getInheritanceIndicator(inh.Meter.Window))

	fmt.Printf("\n[Output]\n")
	fmt.Printf("directory: %s %s\n", c.Output.Directory, getInheritanceIndicator(inh.Output.Directory))
	fmt.Printf("fallback_name: %s %s\n", c.Output.FallbackName, getInheritanceIndicator(inh.Output.FallbackName))

	fmt.Printf("\n[Transcription]\n")
	fmt.Printf("language: %s %s\n", c.Transcription.Language, getInheritanceIndicator(inh.Transcription.Language))
	fmt.Printf("model: %s %s\n", c.Transcription.Model, getInheritanceIndicator(inh.Transcription.Model))
	fmt.Printf("streaming_mode: %s %s\n", c.Transcription.StreamingMode, getInheritanceIndicator(inh.Transcription.StreamingMode))
	if c.Transcription.VADThreshold != nil {
		fmt.Printf("vad_threshold: %.2f %s\n", *c.Transcription.VADThreshold, getInheritanceIndicator(inh.Transcription.VADThreshold))
	}
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case config.Inherited:
		return "[inherited]"
	case config.ProfileSpecific:
		return "[profile-specific]"
	case config.BuiltIn:
		return "[built-in]"
	default:
		return "[unknown]"
	}
}
