package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/audiolibrelab/wavcapture/internal/service"
)

// executePipeline runs the pipeline steps that follow startStep on target
func executePipeline(svc service.Service, target string, startStep rune) error {
	if pipeline == "" {
		return nil
	}

	steps := []rune(strings.ToLower(pipeline))

	// Find the starting position in the pipeline
	startIndex := -1
	for i, step := range steps {
		if step == startStep {
			startIndex = i
			break
		}
	}

	if startIndex == -1 {
		return fmt.Errorf("step '%c' not found in pipeline '%s'", startStep, pipeline)
	}

	// Execute remaining steps in the pipeline
	for i := startIndex + 1; i < len(steps); i++ {
		step := steps[i]
		fmt.Printf("Pipeline: executing step '%c'...\n", step)

		switch step {
		case 'r':
			result, err := recordInteractive(context.Background(), svc, "", "")
			if err != nil {
				return fmt.Errorf("pipeline record failed: %w", err)
			}
			if result != nil {
				target = result.WAVPath
			}
			fmt.Println("Pipeline: recording completed")

		case 'p':
			if err := svc.Play(context.Background(), target); err != nil {
				return fmt.Errorf("pipeline play failed: %w", err)
			}
			fmt.Println("Pipeline: playback completed")

		default:
			return fmt.Errorf("unknown pipeline step: '%c' (valid: r=record, p=play)", step)
		}
	}

	return nil
}

func validatePipeline() error {
	if pipeline == "" {
		return nil
	}

	validSteps := map[rune]bool{
		'r': true, // record
		'p': true, // play
	}

	steps := []rune(strings.ToLower(pipeline))
	for _, step := range steps {
		if !validSteps[step] {
			return fmt.Errorf("invalid pipeline step: '%c' (valid: r=record, p=play)", step)
		}
	}

	return nil
}
