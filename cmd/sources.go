package cmd

import (
	"fmt"
	"runtime"

	"github.com/audiolibrelab/wavcapture/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio input devices",
	Long:  `List the input devices of the configured backend that can be used for recording.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := audio.NewBackend(cfg.BackendName())
		if err != nil {
			return err
		}
		return listAvailableSources(backend, cfg.DeviceSource())
	},
}

// listAvailableSources prints the devices of backend, marking the system
// default and the configured device
func listAvailableSources(backend audio.AudioBackend, configured string) error {
	fmt.Printf("🎤 Audio Inputs (%s, %s backend)\n", runtime.GOOS, backend.GetType())
	fmt.Printf("═══════════════════════════════════════\n\n")

	devices, err := backend.ListDevices()
	if err != nil {
		return fmt.Errorf("failed to list %s devices: %w", backend.GetType(), err)
	}

	fmt.Printf("📋 DEVICES (%d found):\n", len(devices))
	for i, device := range devices {
		marker := ""
		if device.Default {
			marker += " [default]"
		}
		if configured != "" && device.ID == configured {
			marker += " [configured]"
		}
		fmt.Printf("  %d. %s%s\n", i+1, device.Name, marker)
		if device.ID != device.Name {
			fmt.Printf("     id: %s\n", device.ID)
		}
	}

	fmt.Printf("\n💡 Usage:\n")
	fmt.Printf("  • Record from a device: wavcapture record --device <id>\n")
	fmt.Printf("  • Configure in definitions.devices[].source and reference it from a profile\n")
	fmt.Printf("  • Compiled backends: %v\n\n", audio.GetAvailableBackends())

	return nil
}
