package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/audiolibrelab/wavcapture/internal/service"

	"github.com/spf13/cobra"
)

var convertCmd = &cobra.Command{
	Use:   "convert [file]",
	Short: "Normalize an audio file to 16-bit PCM WAV",
	Long: `Convert a WAV, MP3, WebM or Ogg file into the canonical 16-bit PCM WAV and
write the JSON metadata sidecar next to it. WAV input is re-encoded only when it
is not already canonical.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputPath := args[0]

		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = filepath.Base(inputPath)
		}
		if output, _ := cmd.Flags().GetString("output"); output != "" {
			cfg.Output.Directory = output
		}

		data, err := os.ReadFile(inputPath)
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
		slog.Debug("Converting file", "path", inputPath, "name", name, "bytes", len(data))

		svc, err := newService(service.Dependencies{})
		if err != nil {
			return err
		}

		result, err := svc.Convert(cmd.Context(), name, data)
		if err != nil {
			return fmt.Errorf("conversion failed: %w", err)
		}

		printResult(result)
		return nil
	},
}

func init() {
	convertCmd.Flags().String("name", "", "name used for the output file (defaults to the input file name)")
	convertCmd.Flags().StringP("output", "o", "", "output directory (overrides config)")
}
