package device

import (
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// Info describes static hardware facts about the device running the client.
// NativeID is the platform hardware identifier when one is available.
type Info struct {
	Platform  string `json:"platform"`
	Model     string `json:"model"`
	OSVersion string `json:"os_version"`
	NativeID  string `json:"-"`
}

// InfoProvider is the device-info capability consumed by gate B. Implementations
// may fail; callers fall back to a generic descriptor.
type InfoProvider interface {
	Info() (Info, error)
}

// FallbackInfo is the generic descriptor used when the host probe fails.
func FallbackInfo() Info {
	return Info{Platform: runtime.GOOS, Model: "Unknown", OSVersion: "Unknown"}
}

// HostInfoProvider probes the host once and caches the result for the process
// lifetime; static hardware facts don't change between calls.
type HostInfoProvider struct {
	once sync.Once
	info Info
	err  error
}

// NewHostInfoProvider returns a provider backed by host probes.
func NewHostInfoProvider() *HostInfoProvider { return &HostInfoProvider{} }

func (p *HostInfoProvider) Info() (Info, error) {
	p.once.Do(func() {
		p.info, p.err = probeHost()
	})
	return p.info, p.err
}

func probeHost() (Info, error) {
	info := Info{Platform: runtime.GOOS, Model: "Unknown", OSVersion: "Unknown"}
	id, err := hardwareID()
	if err != nil {
		return info, err
	}
	info.NativeID = id
	if model := probeModel(); model != "" {
		info.Model = model
	}
	if ver := probeOSVersion(); ver != "" {
		info.OSVersion = ver
	}
	return info, nil
}

// hardwareID returns a stable hardware identifier for the current platform.
func hardwareID() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		return macOSUUID()
	case "linux":
		return linuxUUID()
	default:
		return "", errors.New("device: no hardware id probe for " + runtime.GOOS)
	}
}

func macOSUUID() (string, error) {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.Contains(line, "IOPlatformUUID") {
			parts := strings.Split(line, "\"")
			if len(parts) >= 4 {
				return parts[3], nil
			}
		}
	}
	return "", errors.New("device: no IOPlatformUUID found")
}

func linuxUUID() (string, error) {
	out, err := exec.Command("cat", "/sys/class/dmi/id/product_uuid").Output()
	if err == nil {
		if id := strings.TrimSpace(string(out)); id != "" {
			return id, nil
		}
	}
	cpuinfo, err := exec.Command("cat", "/proc/cpuinfo").Output()
	if err == nil {
		for _, line := range strings.Split(string(cpuinfo), "\n") {
			if strings.HasPrefix(line, "Serial") {
				parts := strings.Split(line, ":")
				if len(parts) == 2 {
					if id := strings.TrimSpace(parts[1]); id != "" {
						return id, nil
					}
				}
			}
		}
	}
	return "", errors.New("device: no hardware UUID found on linux")
}

func probeModel() string {
	switch runtime.GOOS {
	case "darwin":
		out, err := exec.Command("sysctl", "-n", "hw.model").Output()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(out))
	case "linux":
		out, err := exec.Command("cat", "/sys/class/dmi/id/product_name").Output()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(out))
	}
	return ""
}

func probeOSVersion() string {
	switch runtime.GOOS {
	case "darwin":
		out, err := exec.Command("sw_vers", "-productVersion").Output()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(out))
	case "linux":
		out, err := exec.Command("uname", "-r").Output()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(out))
	}
	return ""
}

// StaticInfoProvider returns fixed info; used in tests and stub builds.
type StaticInfoProvider struct {
	Value Info
	Err   error
}

func (p StaticInfoProvider) Info() (Info, error) { return p.Value, p.Err }
