package config

import "time"

// Registry represents the entire user configuration file.
// This stores user-defined metadata for discovered devices and scan
// preferences; the discovery engine itself never reads it.
type Registry struct {
	Version     int                `yaml:"version"`
	Devices     map[string]*Device `yaml:"devices,omitempty"` // Keyed by device ID (usually the IP address)
	Preferences *Preferences       `yaml:"preferences,omitempty"`
}

// Device represents user-defined metadata for one discovered device,
// keyed by the device's discovery ID in the Registry.
type Device struct {
	Nickname string    `yaml:"nickname,omitempty"`  // User-friendly name
	LastIP   string    `yaml:"last_ip,omitempty"`   // Last known IP address
	LastSeen time.Time `yaml:"last_seen,omitempty"` // Last discovery time
	Notes    string    `yaml:"notes,omitempty"`     // Free-form operator notes
}

// Preferences represents application-wide scan preferences.
type Preferences struct {
	ScanTimeout    int    `yaml:"scan_timeout"`              // Session timeout in seconds
	CacheTTL       int    `yaml:"cache_ttl"`                 // Device freshness window in minutes
	TargetSegment  string `yaml:"target_segment,omitempty"`  // Optional CIDR filter for replies
	ServeHost      string `yaml:"serve_host,omitempty"`      // Bind host for the inventory server
	ServePort      int    `yaml:"serve_port,omitempty"`      // Bind port for the inventory server
	RescanInterval int    `yaml:"rescan_interval,omitempty"` // Seconds between scans in serve mode
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version: 1,
		Devices: make(map[string]*Device),
		Preferences: &Preferences{
			ScanTimeout:    15,
			CacheTTL:       5,
			ServeHost:      "127.0.0.1",
			ServePort:      8480,
			RescanInterval: 60,
		},
	}
}

// GetDevice retrieves device metadata by ID.
// Returns nil if the device doesn't exist in the registry.
func (r *Registry) GetDevice(id string) *Device {
	return r.Devices[id]
}

// EnsureDevice ensures a device entry exists in the registry and returns it.
func (r *Registry) EnsureDevice(id string) *Device {
	if r.Devices == nil {
		r.Devices = make(map[string]*Device)
	}
	if device, exists := r.Devices[id]; exists {
		return device
	}
	device := &Device{}
	r.Devices[id] = device
	return device
}

// UpdateDeviceLastSeen updates the last seen timestamp and IP for a device.
func (r *Registry) UpdateDeviceLastSeen(id, ip string) {
	device := r.EnsureDevice(id)
	device.LastSeen = time.Now()
	device.LastIP = ip
}
