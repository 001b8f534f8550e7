package mdns

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// receiveWindow bounds each blocking read so a silent socket still observes
// cancellation promptly. A deadline expiry is not an error, just a re-arm.
const receiveWindow = 500 * time.Millisecond

// EventKind labels the notifications the engine publishes.
type EventKind int

const (
	// EventDiscovered fires exactly once, when a device is first observed.
	EventDiscovered EventKind = iota
	// EventUpdated fires when later observations merge into a known device.
	EventUpdated
	// EventExpired fires when the cache evicts a device.
	EventExpired
)

func (k EventKind) String() string {
	switch k {
	case EventDiscovered:
		return "discovered"
	case EventUpdated:
		return "updated"
	case EventExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Event is one notification: a snapshot of the device plus the discovery
// method or service name that produced it.
type Event struct {
	Kind   EventKind `json:"kind"`
	Device Device    `json:"device"`
	Method string    `json:"method"`
}

// trackedDevice pairs a session device with its merge lock. Merges from
// different receive loops serialize here rather than inside Device, which
// stays plain copyable data.
type trackedDevice struct {
	mu  sync.Mutex
	dev Device
}

func (t *trackedDevice) merge(observation *Device) {
	t.mu.Lock()
	t.dev.UpdateFrom(observation)
	t.mu.Unlock()
}

func (t *trackedDevice) clone() Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dev.Clone()
}

func (t *trackedDevice) addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dev.IP
}

// deviceMap is the session-scoped concurrent device store. Creation is an
// atomic test-and-set under the map lock (first observer wins); merges then
// go through the tracked device's own lock, so updates from different
// sockets cannot interleave within one device's fields.
type deviceMap struct {
	mu      sync.Mutex
	devices map[string]*trackedDevice
}

func newDeviceMap() *deviceMap {
	return &deviceMap{devices: make(map[string]*trackedDevice)}
}

// getOrCreate returns the tracked device for key, creating it when absent.
// The second return value reports whether this call created it.
func (m *deviceMap) getOrCreate(key string) (*trackedDevice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.devices[key]; ok {
		return t, false
	}
	t := &trackedDevice{dev: Device{ID: key}}
	m.devices[key] = t
	return t, true
}

// tracked returns the current set of tracked devices without holding the map
// lock across per-device work.
func (m *deviceMap) tracked() []*trackedDevice {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*trackedDevice, 0, len(m.devices))
	for _, t := range m.devices {
		list = append(list, t)
	}
	return list
}

// countExternal counts devices whose address does not belong to the
// discovering host; the plateau detector watches this number.
func (m *deviceMap) countExternal(isLocal func(net.IP) bool) int {
	count := 0
	for _, t := range m.tracked() {
		if ip := net.ParseIP(t.addr()); ip != nil && isLocal(ip) {
			continue
		}
		count++
	}
	return count
}

// snapshot clones every device for safe use outside the session.
func (m *deviceMap) snapshot() []Device {
	tracked := m.tracked()
	devices := make([]Device, 0, len(tracked))
	for _, t := range tracked {
		devices = append(devices, t.clone())
	}
	return devices
}

// Listener runs one receive loop per listening socket and turns inbound
// datagrams into merged device observations. Junk, duplicates and
// self-originated traffic are all tolerated; nothing a single datagram does
// can take a loop down.
type Listener struct {
	nm      *NetworkManager
	devices *deviceMap
	target  *net.IPNet
	events  chan<- Event
	log     *zap.Logger
}

// NewListener creates a listener feeding the given device map. target, when
// non-nil, restricts processing to sources inside that network segment.
func NewListener(nm *NetworkManager, devices *deviceMap, target *net.IPNet, events chan<- Event, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{nm: nm, devices: devices, target: target, events: events, log: log}
}

// Run starts one receive goroutine per listening socket, tracked on wg.
func (l *Listener) Run(ctx context.Context, wg *sync.WaitGroup) {
	for _, conn := range l.nm.ListenConns() {
		wg.Add(1)
		go l.receiveLoop(ctx, conn, wg)
	}
}

func (l *Listener) receiveLoop(ctx context.Context, conn *net.UDPConn, wg *sync.WaitGroup) {
	defer wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		if ctx.Err() != nil || l.nm.Disposed() {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(receiveWindow))
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			// Closed mid-teardown or cancelled: expected, not an error.
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil || l.nm.Disposed() {
				return
			}
			l.log.Debug("mdns receive failed", zap.Error(err))
			continue
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		l.handleDatagram(src, datagram)
	}
}

// handleDatagram filters, decodes and merges one inbound datagram. Decode
// failures are contained here: even an unparsable reply is evidence that a
// device exists at the source address.
func (l *Listener) handleDatagram(src *net.UDPAddr, data []byte) {
	if src == nil || src.IP == nil {
		return
	}
	srcIP := src.IP
	if ip4 := srcIP.To4(); ip4 != nil {
		srcIP = ip4
	}
	if l.nm.IsLocal(srcIP) {
		return
	}
	if l.target != nil && !l.target.Contains(srcIP) {
		return
	}

	msg, err := Decode(data)
	if err != nil {
		l.log.Debug("undecodable mdns reply",
			zap.String("src", srcIP.String()),
			zap.Int("bytes", len(data)),
			zap.Error(err))
		l.observe(srcIP, minimalObservation(srcIP), "mdns")
		return
	}

	observation, method := extractDevice(srcIP, msg)
	l.observe(srcIP, observation, method)
}

// observe looks up-or-creates the device for the source address and merges
// the observation in. The discovery event fires exactly once per device.
func (l *Listener) observe(src net.IP, observation *Device, method string) {
	key := deviceKey(src, method)
	observation.ID = key

	tracked, created := l.devices.getOrCreate(key)
	tracked.merge(observation)

	kind := EventUpdated
	if created {
		kind = EventDiscovered
		l.log.Debug("device discovered",
			zap.String("key", key),
			zap.String("method", method))
	}
	l.emit(Event{Kind: kind, Device: tracked.clone(), Method: method})
}

// emit publishes without ever blocking a receive loop; a full subscriber
// channel drops the event.
func (l *Listener) emit(ev Event) {
	if l.events == nil {
		return
	}
	select {
	case l.events <- ev:
	default:
		l.log.Debug("event dropped", zap.String("kind", ev.Kind.String()))
	}
}

// minimalObservation is the "device observed at this address" record used
// when a reply could not be parsed.
func minimalObservation(src net.IP) *Device {
	return &Device{
		IP:       src.String(),
		Methods:  []string{"mDNS"},
		LastSeen: time.Now(),
		Online:   true,
	}
}

// extractDevice turns the decoded records of one response into a staging
// device plus the method/service label for the resulting event.
func extractDevice(src net.IP, msg *Message) (*Device, string) {
	observation := minimalObservation(src)
	method := "mdns"

	for _, rr := range msg.Records() {
		switch rr.Type {
		case TypeA:
			// Refreshes the IP-to-device mapping and the hostname.
			fillString(&observation.Hostname, strings.TrimSuffix(rr.Name, "."))
			observation.IPs = appendUniqueString(observation.IPs, rr.Data)

		case TypePTR, TypeCNAME:
			deviceType, capability := classifyService(rr.Name)
			if deviceType != DeviceTypeUnknown && (observation.Type == "" || observation.Type == DeviceTypeUnknown) {
				observation.Type = deviceType
			}
			if capability != "" {
				observation.Capabilities = appendUniqueString(observation.Capabilities, capability)
			}
			if method == "mdns" {
				method = strings.TrimSuffix(rr.Name, ".")
			}
			if label := instanceLabel(rr.Data); label != "" && !strings.HasPrefix(label, "_") {
				fillString(&observation.Name, label)
			}

		case TypeSRV:
			if rr.SRV == nil {
				continue
			}
			port := int(rr.SRV.Port)
			if observation.Port == 0 {
				observation.Port = port
			}
			observation.Ports = appendUniqueInt(observation.Ports, port)
			fillString(&observation.Hostname, strings.TrimSuffix(rr.SRV.Target, "."))

		case TypeTXT:
			applyTXT(observation, rr.Data)
		}
	}
	return observation, method
}

// txtFieldKeys maps well-known TXT keys (lower-cased) onto device fields.
var txtFieldKeys = map[string]func(*Device, string){
	"model":        func(d *Device, v string) { fillString(&d.Model, v) },
	"md":           func(d *Device, v string) { fillString(&d.Model, v) },
	"ty":           func(d *Device, v string) { fillString(&d.Model, v) },
	"manufacturer": func(d *Device, v string) { fillString(&d.Manufacturer, v) },
	"mfg":          func(d *Device, v string) { fillString(&d.Manufacturer, v) },
	"usb_mfg":      func(d *Device, v string) { fillString(&d.Manufacturer, v) },
	"vendor":       func(d *Device, v string) { fillString(&d.Manufacturer, v) },
	"firmware":     func(d *Device, v string) { fillString(&d.Firmware, v) },
	"fw":           func(d *Device, v string) { fillString(&d.Firmware, v) },
	"fwversion":    func(d *Device, v string) { fillString(&d.Firmware, v) },
	"srcvers":      func(d *Device, v string) { fillString(&d.Firmware, v) },
	"serial":       func(d *Device, v string) { fillString(&d.Serial, v) },
	"serialnumber": func(d *Device, v string) { fillString(&d.Serial, v) },
	"sn":           func(d *Device, v string) { fillString(&d.Serial, v) },
	"mac":          func(d *Device, v string) { fillString(&d.MAC, v) },
	"mac_address":  func(d *Device, v string) { fillString(&d.MAC, v) },
	"deviceid":     func(d *Device, v string) { fillString(&d.MAC, v) },
	"name":         func(d *Device, v string) { fillString(&d.Name, v) },
	"friendlyname": func(d *Device, v string) { fillString(&d.Name, v) },
	"fn":           func(d *Device, v string) { fillString(&d.Name, v) },
}

// applyTXT parses the joined character-strings of a TXT record as key=value
// pairs. Recognized keys land on typed fields; everything else is kept
// verbatim in the metadata bag.
func applyTXT(dev *Device, data string) {
	for _, segment := range strings.Split(data, txtSeparator) {
		if segment == "" {
			continue
		}
		key, value, found := strings.Cut(segment, "=")
		if !found {
			// Flag-style entry with no value: a capability marker.
			dev.Capabilities = appendUniqueString(dev.Capabilities, segment)
			continue
		}
		if apply, ok := txtFieldKeys[strings.ToLower(key)]; ok {
			apply(dev, value)
			continue
		}
		if dev.Metadata == nil {
			dev.Metadata = make(map[string]string)
		}
		if _, exists := dev.Metadata[key]; !exists {
			dev.Metadata[key] = value
		}
	}
}
