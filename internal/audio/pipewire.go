package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// PipeWire queries capture sources through the PulseAudio compatibility
// layer (pactl), which PipeWire provides on modern desktops.
type PipeWire struct {
	// IncludeMonitors lists ".monitor" sinks alongside real inputs.
	IncludeMonitors bool

	run func(name string, args ...string) ([]byte, error)
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{run: runCommand}
}

func runCommand(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// ListDevices returns all capture sources known to the sound server
func (pw *PipeWire) ListDevices() ([]Device, error) {
	output, err := pw.run("pactl", "list", "short", "sources")
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire sources: %w", err)
	}

	defaultSource := ""
	if out, err := pw.run("pactl", "get-default-source"); err != nil {
		slog.Debug("Failed to query default source", "error", err)
	} else {
		defaultSource = strings.TrimSpace(string(out))
	}

	return pw.parseSources(string(output), defaultSource), nil
}

// parseSources reads `pactl list short sources` output:
// index, name, driver, sample spec and state separated by tabs.
func (pw *PipeWire) parseSources(output, defaultSource string) []Device {
	var devices []Device
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			fields = strings.Fields(line)
		}
		if len(fields) < 2 {
			continue
		}
		name := strings.TrimSpace(fields[1])
		if !pw.IncludeMonitors && isMonitorSource(name) {
			continue
		}
		devices = append(devices, Device{
			ID:      name,
			Name:    describeSource(name),
			Default: name == defaultSource,
		})
	}
	return devices
}

// ValidateDevice checks if a source exists and is reported only once
func (pw *PipeWire) ValidateDevice(id string) error {
	if id == "" || id == "default" {
		return nil
	}

	devices, err := pw.ListDevices()
	if err != nil {
		return err
	}
	return validateDeviceInList(id, devices)
}

func validateDeviceInList(id string, devices []Device) error {
	if id == "" || id == "default" {
		return nil
	}

	duplicates := findDeviceDuplicatesInList(id, devices)
	if len(duplicates) == 0 {
		return fmt.Errorf("source not found: %s", id)
	}
	if len(duplicates) > 1 {
		return fmt.Errorf("duplicate sources detected for '%s': %d entries. Please close conflicting applications", id, len(duplicates))
	}
	return nil
}

// findDeviceDuplicatesInList finds all devices with exactly the same id
func findDeviceDuplicatesInList(id string, devices []Device) []Device {
	var duplicates []Device
	for _, d := range devices {
		if d.ID == id {
			duplicates = append(duplicates, d)
		}
	}
	return duplicates
}

// isMonitorSource reports whether a source records a sink's output rather
// than an input device.
func isMonitorSource(name string) bool {
	return strings.HasSuffix(name, ".monitor")
}

// describeSource turns "alsa_input.usb-Blue_Yeti-00.analog-stereo" into a
// shorter human label.
func describeSource(name string) string {
	label := name
	for _, prefix := range []string{"alsa_input.", "alsa_output.", "bluez_input.", "bluez_source."} {
		label = strings.TrimPrefix(label, prefix)
	}
	label = strings.ReplaceAll(label, "_", " ")
	return label
}
