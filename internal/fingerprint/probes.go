package fingerprint

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/net"
)

// Probe names in their fixed order.
const (
	ProbeProcessor      = "processor"
	ProbeOSInstallID    = "os_install_id"
	ProbeFirmwareSerial = "firmware_serial"
	ProbeMACAddress     = "mac_address"
)

// DefaultProbes returns the standard probe list. Order matters: it fixes the
// concatenation that gets hashed.
func DefaultProbes() []Probe {
	return []Probe{
		ProbeFunc{ProbeName: ProbeProcessor, Fn: processorName},
		ProbeFunc{ProbeName: ProbeOSInstallID, Fn: osInstallID},
		ProbeFunc{ProbeName: ProbeFirmwareSerial, Fn: firmwareSerial},
		ProbeFunc{ProbeName: ProbeMACAddress, Fn: primaryMACAddress},
	}
}

// processorName returns the model name of the first CPU.
func processorName(ctx context.Context) (string, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("read cpu info: %w", err)
	}
	for _, info := range infos {
		if name := strings.TrimSpace(info.ModelName); name != "" {
			return name, nil
		}
	}
	return "", ErrNoValue
}

// osInstallID returns the identifier the OS assigns at install time
// (MachineGuid, /etc/machine-id, IOPlatformUUID).
func osInstallID(ctx context.Context) (string, error) {
	id, err := host.HostIDWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("read host id: %w", err)
	}
	return id, nil
}

// primaryMACAddress returns the hardware address of the lowest-index
// non-loopback interface that has one.
func primaryMACAddress(ctx context.Context) (string, error) {
	ifaces, err := net.InterfacesWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}
	return pickPrimaryMAC(ifaces)
}

func pickPrimaryMAC(ifaces []net.InterfaceStat) (string, error) {
	sorted := make([]net.InterfaceStat, len(ifaces))
	copy(sorted, ifaces)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	for _, iface := range sorted {
		if isLoopback(iface) {
			continue
		}
		mac := strings.ToLower(strings.TrimSpace(iface.HardwareAddr))
		if mac == "" || mac == "00:00:00:00:00:00" {
			continue
		}
		return mac, nil
	}
	return "", ErrNoValue
}

func isLoopback(iface net.InterfaceStat) bool {
	for _, flag := range iface.Flags {
		if flag == "loopback" {
			return true
		}
	}
	name := strings.ToLower(iface.Name)
	return name == "lo" || strings.HasPrefix(name, "loopback")
}

// placeholderSerials are values vendors leave in firmware instead of a real
// serial number.
var placeholderSerials = map[string]bool{
	"":                       true,
	"0":                      true,
	"none":                   true,
	"default string":         true,
	"not specified":          true,
	"not applicable":         true,
	"system serial number":   true,
	"to be filled by o.e.m.": true,
}

func cleanSerial(raw string) (string, error) {
	serial := strings.TrimSpace(raw)
	if placeholderSerials[strings.ToLower(serial)] {
		return "", ErrNoValue
	}
	return serial, nil
}
