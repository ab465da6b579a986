package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/audiolibrelab/wavcapture/internal/service"

	"github.com/go-audio/wav"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [wav-file]",
	Short: "Show header fields and metadata of a WAV file",
	Long:  `Display the format fields of a WAV file (channels, sample rate, byte rate, block align, data size and duration) and, when present, the metadata sidecar written next to it.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()

		dec := wav.NewDecoder(f)
		if !dec.IsValidFile() {
			return fmt.Errorf("%s is not a valid WAV file", path)
		}
		if err := dec.FwdToPCM(); err != nil {
			return fmt.Errorf("failed to read WAV data chunk: %w", err)
		}
		var duration time.Duration
		if dec.AvgBytesPerSec > 0 {
			duration = time.Duration(float64(dec.PCMLen()) / float64(dec.AvgBytesPerSec) * float64(time.Second))
		}
		blockAlign := int(dec.NumChans) * int(dec.BitDepth) / 8

		fmt.Printf("=== WAV ===\n")
		fmt.Printf("file: %s\n", path)
		fmt.Printf("format: %d\n", dec.WavAudioFormat)
		fmt.Printf("channels: %d\n", dec.NumChans)
		fmt.Printf("sample_rate: %d\n", dec.SampleRate)
		fmt.Printf("bits_per_sample: %d\n", dec.BitDepth)
		fmt.Printf("byte_rate: %d\n", dec.AvgBytesPerSec)
		fmt.Printf("block_align: %d\n", blockAlign)
		fmt.Printf("data_size: %d\n", dec.PCMLen())
		fmt.Printf("duration: %s\n", duration)

		sidecar := strings.TrimSuffix(path, ".wav") + ".json"
		data, err := os.ReadFile(sidecar)
		if err != nil {
			return nil
		}
		var meta service.UploadRequest
		if err := json.Unmarshal(data, &meta); err != nil {
			return fmt.Errorf("invalid metadata sidecar %s: %w", sidecar, err)
		}

		fmt.Printf("\n=== METADATA ===\n")
		fmt.Printf("request_id: %s\n", meta.RequestID)
		fmt.Printf("input_source: %s\n", meta.Settings.InputSource)
		if meta.Settings.InputDevice != "" {
			fmt.Printf("input_device: %s\n", meta.Settings.InputDevice)
		}
		if meta.Settings.Language != "" {
			fmt.Printf("language: %s\n", meta.Settings.Language)
		}
		fmt.Printf("model: %s\n", meta.Settings.Model)
		fmt.Printf("streaming_mode: %s\n", meta.Settings.StreamingMode)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
