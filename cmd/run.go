package cmd

import (
	"fmt"
	"strings"

	"github.com/audiolibrelab/wavcapture/internal/service"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [name]",
	Short: "Execute pipeline steps on a recording",
	Long: `Execute the specified pipeline steps. Use -p to specify which steps to run.
'r' records a new file named after the argument, 'p' plays the file recorded by
the previous step, or the named file when the pipeline starts with 'p'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		if pipeline == "" {
			return fmt.Errorf("no pipeline specified, use -p flag (e.g., -p rp)")
		}

		steps := []rune(strings.ToLower(pipeline))
		device, _ := cmd.Flags().GetString("device")

		svc, err := newService(service.Dependencies{})
		if err != nil {
			return err
		}

		target := name
		for i, step := range steps {
			fmt.Printf("Pipeline: executing step %d/%d: '%c'...\n", i+1, len(steps), step)

			switch step {
			case 'r':
				result, err := recordInteractive(cmd.Context(), svc, device, name)
				if err != nil {
					return fmt.Errorf("pipeline record failed: %w", err)
				}
				if result == nil {
					return nil
				}
				target = result.WAVPath
				fmt.Println("Pipeline: recording completed")

			case 'p':
				fmt.Printf("Playing: %s\n", target)
				if err := svc.Play(cmd.Context(), target); err != nil {
					return fmt.Errorf("pipeline play failed: %w", err)
				}
				fmt.Println("Pipeline: playback completed")

			default:
				return fmt.Errorf("unknown pipeline step: '%c' (valid: r=record, p=play)", step)
			}
		}

		return nil
	},
}

func init() {
	runCmd.Flags().String("device", "", "capture device id (overrides config)")
}
