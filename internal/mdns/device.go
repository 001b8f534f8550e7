package mdns

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// DeviceType classifies what kind of equipment answered a query, derived
// from the service types it advertises.
type DeviceType string

// Known device classifications.
const (
	DeviceTypeUnknown     DeviceType = "unknown"
	DeviceTypeCamera      DeviceType = "camera"
	DeviceTypeNVR         DeviceType = "nvr"
	DeviceTypePrinter     DeviceType = "printer"
	DeviceTypeRouter      DeviceType = "router"
	DeviceTypeNAS         DeviceType = "nas"
	DeviceTypeWorkstation DeviceType = "workstation"
)

// Device is one piece of equipment observed on the network. A device is
// created by whichever receive loop first decodes a usable record for its
// address and is then mutated in place through UpdateFrom. Device itself is
// plain data; concurrent merges are serialized by the owning store (the
// session device map's per-device lock, or the cache's coarse lock).
type Device struct {
	// ID is the identity key: the responding IP address when known,
	// otherwise a synthetic "service:" key (see deviceKey).
	ID string `json:"id"`

	IP    string   `json:"ip"`
	IPs   []string `json:"ips,omitempty"`
	Port  int      `json:"port,omitempty"`
	Ports []int    `json:"ports,omitempty"`

	Hostname     string     `json:"hostname,omitempty"`
	Name         string     `json:"name,omitempty"`
	Manufacturer string     `json:"manufacturer,omitempty"`
	Model        string     `json:"model,omitempty"`
	Firmware     string     `json:"firmware,omitempty"`
	Serial       string     `json:"serial,omitempty"`
	MAC          string     `json:"mac,omitempty"`
	Type         DeviceType `json:"type,omitempty"`

	// Methods records which discovery mechanisms observed this device.
	Methods []string `json:"methods,omitempty"`

	// Capabilities are human-readable tags implied by advertised services.
	Capabilities []string `json:"capabilities,omitempty"`

	// Metadata keeps raw protocol key=value pairs that did not map onto a
	// well-known field.
	Metadata map[string]string `json:"metadata,omitempty"`

	LastSeen time.Time `json:"last_seen"`
	Online   bool      `json:"online"`
}

// String returns a short human-readable summary.
func (d *Device) String() string {
	return fmt.Sprintf("Device %s (%s) type=%s at %s:%d", d.ID, d.Hostname, d.Type, d.IP, d.Port)
}

// UpdateFrom merges another observation of the same device into d. Scalar
// fields are filled only when empty - a populated field is never overwritten
// by an empty one - and collection fields behave as sets, so applying the
// same update twice leaves the device unchanged.
func (d *Device) UpdateFrom(other *Device) {
	if d.IP == "" {
		d.IP = other.IP
	}
	if d.IP != "" {
		d.IPs = appendUniqueString(d.IPs, d.IP)
	}
	for _, ip := range other.IPs {
		d.IPs = appendUniqueString(d.IPs, ip)
	}
	if other.IP != "" {
		d.IPs = appendUniqueString(d.IPs, other.IP)
	}

	if d.Port == 0 {
		d.Port = other.Port
	}
	if d.Port != 0 {
		d.Ports = appendUniqueInt(d.Ports, d.Port)
	}
	for _, port := range other.Ports {
		d.Ports = appendUniqueInt(d.Ports, port)
	}
	if other.Port != 0 {
		d.Ports = appendUniqueInt(d.Ports, other.Port)
	}

	fillString(&d.Hostname, other.Hostname)
	fillString(&d.Name, other.Name)
	fillString(&d.Manufacturer, other.Manufacturer)
	fillString(&d.Model, other.Model)
	fillString(&d.Firmware, other.Firmware)
	fillString(&d.Serial, other.Serial)
	fillString(&d.MAC, other.MAC)

	if (d.Type == "" || d.Type == DeviceTypeUnknown) && other.Type != "" {
		d.Type = other.Type
	}

	for _, method := range other.Methods {
		d.Methods = appendUniqueString(d.Methods, method)
	}
	for _, capability := range other.Capabilities {
		d.Capabilities = appendUniqueString(d.Capabilities, capability)
	}

	for key, value := range other.Metadata {
		if d.Metadata == nil {
			d.Metadata = make(map[string]string)
		}
		if _, exists := d.Metadata[key]; !exists {
			d.Metadata[key] = value
		}
	}

	if other.LastSeen.After(d.LastSeen) {
		d.LastSeen = other.LastSeen
	}
	if other.Online {
		d.Online = true
	}
}

// Clone returns a deep copy safe to hand to event subscribers and result
// lists. Callers holding the owning store's lock may keep merging into the
// original afterwards.
func (d *Device) Clone() Device {
	clone := Device{
		ID:           d.ID,
		IP:           d.IP,
		Port:         d.Port,
		Hostname:     d.Hostname,
		Name:         d.Name,
		Manufacturer: d.Manufacturer,
		Model:        d.Model,
		Firmware:     d.Firmware,
		Serial:       d.Serial,
		MAC:          d.MAC,
		Type:         d.Type,
		LastSeen:     d.LastSeen,
		Online:       d.Online,
	}
	clone.IPs = append(clone.IPs, d.IPs...)
	clone.Ports = append(clone.Ports, d.Ports...)
	clone.Methods = append(clone.Methods, d.Methods...)
	clone.Capabilities = append(clone.Capabilities, d.Capabilities...)
	if len(d.Metadata) > 0 {
		clone.Metadata = make(map[string]string, len(d.Metadata))
		for key, value := range d.Metadata {
			clone.Metadata[key] = value
		}
	}
	return clone
}

// DisplayName returns the friendliest identifier available.
func (d *Device) DisplayName() string {
	switch {
	case d.Name != "":
		return d.Name
	case d.Hostname != "":
		return d.Hostname
	default:
		return d.ID
	}
}

// deviceKey computes the identity key for an observation. Repeated sightings
// of one device - from different sockets, record types or query phases -
// must always produce the same key so they merge instead of fragmenting.
// The responding source IP is preferred; a synthetic key including the query
// origin is the fallback when only a service name is known.
func deviceKey(src net.IP, service string) string {
	if src != nil {
		return src.String()
	}
	return "service:" + strings.TrimSuffix(service, ".")
}

// serviceClass maps a substring of an advertised service name to a device
// classification and a capability tag.
type serviceClass struct {
	substr     string
	deviceType DeviceType
	capability string
}

// serviceClasses is checked in order; the first match wins. Camera and
// recorder types come first because they are the most specific.
var serviceClasses = []serviceClass{
	{"_onvif", DeviceTypeCamera, "ONVIF"},
	{"_rtsp", DeviceTypeCamera, "RTSP"},
	{"_psia", DeviceTypeCamera, "PSIA"},
	{"_axis-video", DeviceTypeCamera, "Axis Video"},
	{"hikvision", DeviceTypeCamera, "Hikvision"},
	{"dahua", DeviceTypeCamera, "Dahua"},
	{"ipcam", DeviceTypeCamera, "IP Camera"},
	{"netcam", DeviceTypeCamera, "Network Camera"},
	{"camera", DeviceTypeCamera, "Camera"},
	{"_nvr", DeviceTypeNVR, "NVR"},
	{"_dvr", DeviceTypeNVR, "DVR"},
	{"_printer", DeviceTypePrinter, "LPR Printing"},
	{"_ipp", DeviceTypePrinter, "IPP Printing"},
	{"_pdl-datastream", DeviceTypePrinter, "Raw Printing"},
	{"_scanner", DeviceTypePrinter, "Scanning"},
	{"_router", DeviceTypeRouter, "Router"},
	{"gateway", DeviceTypeRouter, "Gateway"},
	{"_smb", DeviceTypeNAS, "SMB Share"},
	{"_afpovertcp", DeviceTypeNAS, "AFP Share"},
	{"_nfs", DeviceTypeNAS, "NFS Share"},
	{"_workstation", DeviceTypeWorkstation, "Workstation"},
	{"_ssh", DeviceTypeWorkstation, "SSH"},
}

// classifyService derives a device type and capability tag from an advertised
// service name. Unrecognized services classify as unknown with no tag.
func classifyService(service string) (DeviceType, string) {
	lowered := strings.ToLower(service)
	for _, class := range serviceClasses {
		if strings.Contains(lowered, class.substr) {
			return class.deviceType, class.capability
		}
	}
	return DeviceTypeUnknown, ""
}

// instanceLabel extracts the human-readable instance portion of a DNS-SD
// instance name such as "Front Door._onvif._tcp.local.".
func instanceLabel(instance string) string {
	if idx := strings.Index(instance, "._"); idx > 0 {
		return instance[:idx]
	}
	return strings.TrimSuffix(instance, ".")
}

func fillString(dst *string, src string) {
	if *dst == "" {
		*dst = src
	}
}

func appendUniqueString(list []string, value string) []string {
	if value == "" {
		return list
	}
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

func appendUniqueInt(list []int, value int) []int {
	if value == 0 {
		return list
	}
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
