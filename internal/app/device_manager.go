package app

import (
	"fmt"
	"os"

	"github.com/emmett/flux/internal/audio"
)

// DeviceManager handles audio device selection and listing.
type DeviceManager struct{}

// NewDeviceManager creates a new DeviceManager instance.
func NewDeviceManager() *DeviceManager {
	return &DeviceManager{}
}

// ListDevices lists all available audio input devices.
func (dm *DeviceManager) ListDevices() error {
	fmt.Println("Detecting audio input devices...")
	fmt.Println()

	devices, err := audio.ListDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list devices: %v\n", err)
		return err
	}

	if len(devices) == 0 {
		fmt.Println("No audio capture devices found.")
		return fmt.Errorf("no devices found")
	}

	fmt.Printf("Found %d capture device(s):\n\n", len(devices))
	for i, device := range devices {
		marker := ""
		if device.IsDefault {
			marker = " [DEFAULT]"
		}
		fmt.Printf("%d. %s%s\n", i+1, device.Name, marker)
		fmt.Printf("   ID: %s\n", device.ID)
		fmt.Println()
	}

	fmt.Println("To use a specific device, run:")
	fmt.Println("  flux --device \"<device-name>\"")
	return nil
}

// SelectDevice resolves a device by name/ID, or returns nil for the default.
func (dm *DeviceManager) SelectDevice(deviceName string) (*audio.DeviceInfo, error) {
	if deviceName == "" {
		return nil, nil
	}

	device, err := audio.FindDevice(deviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Device %q not found\n\n", deviceName)
		if devices, listErr := audio.ListDevices(); listErr == nil {
			fmt.Println("Available devices:")
			for i, d := range devices {
				marker := ""
				if d.IsDefault {
					marker = " [DEFAULT]"
				}
				fmt.Printf("  %d. %s%s\n", i+1, d.Name, marker)
			}
			fmt.Println()
			fmt.Println("Use --list-devices for more details")
		}
		return nil, err
	}
	return device, nil
}
