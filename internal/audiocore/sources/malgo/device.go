package malgo

import (
	"encoding/hex"
	"runtime"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/xtmix/internal/errors"
)

// AudioDeviceInfo holds information about an audio device
type AudioDeviceInfo struct {
	Index     int
	Name      string
	ID        string
	Kind      string
	IsDefault bool
}

// Hardware reports whether the device ID indicates a hardware device.
func (d AudioDeviceInfo) Hardware() bool {
	return isHardwareDevice(d.ID)
}

// isDefaultName reports whether name asks for the system default device.
func isDefaultName(name string) bool {
	return name == "" || name == "default" || name == "sysdefault"
}

// SelectDevice finds a device matching the given name or ID
func SelectDevice(devices []malgo.DeviceInfo, deviceName string) (*malgo.DeviceInfo, error) {
	if isDefaultName(deviceName) {
		for i := range devices {
			if devices[i].IsDefault == 1 {
				return &devices[i], nil
			}
		}
		if len(devices) > 0 {
			return &devices[0], nil
		}
	}

	// Exact name first, then decoded ID, then substring.
	for i := range devices {
		if devices[i].Name() == deviceName {
			return &devices[i], nil
		}
	}
	for i := range devices {
		decodedID, err := hexToASCII(devices[i].ID.String())
		if err == nil && decodedID == deviceName {
			return &devices[i], nil
		}
	}
	for i := range devices {
		if strings.Contains(devices[i].Name(), deviceName) {
			return &devices[i], nil
		}
	}

	return nil, errors.New(nil).
		Component("malgo").
		Category(errors.CategoryNotFound).
		Context("device_name", deviceName).
		Context("available_devices", len(devices)).
		Context("error", "no matching audio device found").
		Build()
}

// describe converts malgo device infos for listing. The null device is
// skipped.
func describe(infos []malgo.DeviceInfo, kind string) []AudioDeviceInfo {
	devices := make([]AudioDeviceInfo, 0, len(infos))
	for i := range infos {
		if strings.Contains(infos[i].Name(), "Discard all samples") {
			continue
		}
		decodedID, err := hexToASCII(infos[i].ID.String())
		if err != nil {
			decodedID = infos[i].ID.String()
		}
		devices = append(devices, AudioDeviceInfo{
			Index:     i,
			Name:      infos[i].Name(),
			ID:        decodedID,
			Kind:      kind,
			IsDefault: infos[i].IsDefault == 1,
		})
	}
	return devices
}

// hexToASCII converts a hexadecimal string to an ASCII string
func hexToASCII(hexStr string) (string, error) {
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(bytes), "\x00"), nil
}

// isHardwareDevice checks if the device ID indicates a hardware device
func isHardwareDevice(decodedID string) bool {
	// On Linux, hardware devices have IDs in the format ":X,Y"
	if runtime.GOOS == "linux" {
		return strings.Contains(decodedID, ":") && strings.Contains(decodedID, ",")
	}
	return true
}
