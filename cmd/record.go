package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/audiolibrelab/wavcapture/internal/audio"
	"github.com/audiolibrelab/wavcapture/internal/service"

	"github.com/spf13/cobra"
)

const levelBarWidth = 30

var recordCmd = &cobra.Command{
	Use:   "record [name]",
	Short: "Record the microphone to a WAV file",
	Long: `Record from the configured input device while showing the live level.
Press Enter or Ctrl+C to stop and save, or type 'c' then Enter to discard.
The capture is written as a 16-bit PCM WAV next to a JSON metadata sidecar.
Without a name the file is called mic-recording-<unix-ms>.wav.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		device, _ := cmd.Flags().GetString("device")
		if output, _ := cmd.Flags().GetString("output"); output != "" {
			cfg.Output.Directory = output
		}

		svc, err := newService(service.Dependencies{})
		if err != nil {
			return err
		}

		result, err := recordInteractive(cmd.Context(), svc, device, name)
		if err != nil || result == nil {
			return err
		}

		// Execute pipeline if specified
		return executePipeline(svc, result.WAVPath, 'r')
	},
}

func init() {
	recordCmd.Flags().String("device", "", "capture device id (overrides config)")
	recordCmd.Flags().StringP("output", "o", "", "output directory (overrides config)")
}

// recordInteractive runs one recording until the user stops or cancels it.
// It returns a nil result when the recording was discarded or empty.
func recordInteractive(ctx context.Context, svc service.Service, device, name string) (*service.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	// Handle interruption
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	startCtx, cancelStart := context.WithCancel(ctx)
	defer cancelStart()
	go func() {
		select {
		case <-sigChan:
			cancelStart()
		case <-startCtx.Done():
		}
	}()

	slog.Debug("Starting recording", "device", device)
	if err := svc.StartRecording(startCtx, device); err != nil {
		if errors.Is(err, audio.ErrCaptureCancelled) {
			fmt.Fprintln(os.Stderr, "Recording cancelled")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to start recording: %w", err)
	}
	cancelStart()

	updates, unsubscribe := svc.Levels().Subscribe()
	defer unsubscribe()

	fmt.Fprintln(os.Stderr, "Recording - press Enter to stop, 'c' + Enter to cancel, Ctrl+C to stop")

	lines := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	cancelled := false
wait:
	for {
		select {
		case update := <-updates:
			fmt.Fprint(os.Stderr, "\r"+renderLevelBar(update.Level, update.Elapsed))
		case line, ok := <-lines:
			cancelled = ok && strings.EqualFold(strings.TrimSpace(line), "c")
			break wait
		case <-sigChan:
			break wait
		}
	}
	fmt.Fprintln(os.Stderr)

	if cancelled {
		svc.CancelRecording()
		fmt.Fprintln(os.Stderr, "Recording discarded")
		return nil, nil
	}

	slog.Info("Stopping recording...")
	result, err := svc.StopRecording(ctx, name)
	if errors.Is(err, audio.ErrEmptyCapture) {
		fmt.Fprintln(os.Stderr, "Nothing was recorded")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stop recording: %w", err)
	}

	printResult(result)
	return result, nil
}

// renderLevelBar draws level in [0,1] as a fixed-width bar followed by the
// elapsed clock
func renderLevelBar(level float64, elapsed string) string {
	filled := int(level*levelBarWidth + 0.5)
	filled = max(0, min(levelBarWidth, filled))
	return fmt.Sprintf("[%s%s] %s", strings.Repeat("#", filled), strings.Repeat("-", levelBarWidth-filled), elapsed)
}

// printResult reports where the WAV and its sidecar were written
func printResult(result *service.Result) {
	fmt.Printf("WAV:      %s (%s, %s)\n", result.WAVPath, result.SizeHuman, result.Normalization)
	fmt.Printf("Metadata: %s\n", result.MetadataPath)
	if result.RawPath != "" {
		fmt.Printf("Raw:      %s\n", result.RawPath)
	}
	if result.DurationMs > 0 {
		fmt.Printf("Duration: %.1fs\n", float64(result.DurationMs)/1000)
	}
}
