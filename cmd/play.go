package cmd

import (
	"fmt"

	"github.com/audiolibrelab/wavcapture/internal/service"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [wav-file]",
	Short: "Play a WAV file",
	Long: `Play a WAV file through the default output device. The name may be a path
or a file in the output directory, with or without the .wav extension.
Falls back to an external player when no audio output can be opened.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		fmt.Printf("Playing: %s\n", name)

		svc, err := newService(service.Dependencies{})
		if err != nil {
			return err
		}

		if err := svc.Play(cmd.Context(), name); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}

		return nil
	},
}
