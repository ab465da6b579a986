package audio

import (
	"errors"
	"strings"
	"testing"
)

const pactlSources = "0\talsa_output.pci-0000_00_1f.3.analog-stereo.monitor\tPipeWire\ts32le 2ch 48000Hz\tSUSPENDED\n" +
	"1\talsa_input.pci-0000_00_1f.3.analog-stereo\tPipeWire\ts32le 2ch 48000Hz\tRUNNING\n" +
	"2\talsa_input.usb-Blue_Yeti-00.analog-stereo\tPipeWire\ts16le 2ch 48000Hz\tIDLE\n"

func fakePactl(sources, defaultSource string, err error) func(string, ...string) ([]byte, error) {
	return func(name string, args ...string) ([]byte, error) {
		if err != nil {
			return nil, err
		}
		switch strings.Join(args, " ") {
		case "list short sources":
			return []byte(sources), nil
		case "get-default-source":
			return []byte(defaultSource + "\n"), nil
		}
		return nil, errors.New("unexpected command")
	}
}

func TestListDevices_SkipsMonitors(t *testing.T) {
	pw := &PipeWire{run: fakePactl(pactlSources, "alsa_input.usb-Blue_Yeti-00.analog-stereo", nil)}

	devices, err := pw.ListDevices()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d: %v", len(devices), devices)
	}
	if devices[0].ID != "alsa_input.pci-0000_00_1f.3.analog-stereo" {
		t.Errorf("Unexpected first device: %s", devices[0].ID)
	}
	if devices[0].Default {
		t.Error("Expected first device not to be default")
	}
	if !devices[1].Default {
		t.Error("Expected Blue Yeti to be default")
	}
	if devices[1].Name != "usb-Blue Yeti-00.analog-stereo" {
		t.Errorf("Unexpected label: %s", devices[1].Name)
	}
}

func TestListDevices_IncludeMonitors(t *testing.T) {
	pw := &PipeWire{IncludeMonitors: true, run: fakePactl(pactlSources, "", nil)}

	devices, err := pw.ListDevices()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(devices) != 3 {
		t.Errorf("Expected 3 devices, got %d", len(devices))
	}
}

func TestListDevices_CommandFailure(t *testing.T) {
	pw := &PipeWire{run: fakePactl("", "", errors.New("pactl: not found"))}

	_, err := pw.ListDevices()
	if err == nil {
		t.Fatal("Expected error when pactl fails")
	}
	if !strings.Contains(err.Error(), "failed to list PipeWire sources") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestValidateDevice_Success(t *testing.T) {
	pw := &PipeWire{run: fakePactl(pactlSources, "", nil)}

	if err := pw.ValidateDevice("alsa_input.pci-0000_00_1f.3.analog-stereo"); err != nil {
		t.Errorf("Expected no error for valid single source, got: %v", err)
	}
}

func TestValidateDevice_NotFound(t *testing.T) {
	pw := &PipeWire{run: fakePactl(pactlSources, "", nil)}

	err := pw.ValidateDevice("nonexistent")
	if err == nil {
		t.Fatal("Expected error for nonexistent source")
	}
	if !strings.Contains(err.Error(), "source not found") {
		t.Errorf("Expected 'source not found' error, got: %v", err)
	}
}

func TestValidateDevice_EmptyAndDefault(t *testing.T) {
	pw := &PipeWire{run: fakePactl("", "", errors.New("must not be called"))}

	if err := pw.ValidateDevice(""); err != nil {
		t.Errorf("Expected no error for empty string, got: %v", err)
	}
	if err := pw.ValidateDevice("default"); err != nil {
		t.Errorf("Expected no error for 'default', got: %v", err)
	}
}

func TestValidateDeviceInList_DuplicateDetection(t *testing.T) {
	devices := []Device{
		{ID: "bluez_input.headset"},
		{ID: "bluez_input.headset"}, // True duplicate - same id appears twice
		{ID: "bluez_input.headset-2"},
	}

	err := validateDeviceInList("bluez_input.headset", devices)
	if err == nil {
		t.Fatal("Expected error for duplicate sources")
	}
	if !strings.Contains(err.Error(), "duplicate sources detected") {
		t.Errorf("Expected 'duplicate sources detected' error, got: %v", err)
	}

	if err := validateDeviceInList("bluez_input.headset-2", devices); err != nil {
		t.Errorf("Expected no error for distinct instance, got: %v", err)
	}
}

func TestFindDeviceDuplicates_NoDuplicates(t *testing.T) {
	devices := []Device{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	duplicates := findDeviceDuplicatesInList("b", devices)
	if len(duplicates) != 1 {
		t.Fatalf("Expected 1 match (itself), got %d", len(duplicates))
	}
	if duplicates[0].ID != "b" {
		t.Errorf("Expected b, got: %s", duplicates[0].ID)
	}
}
