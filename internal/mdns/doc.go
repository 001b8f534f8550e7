// Package mdns implements a multicast DNS (RFC 6762) discovery engine for
// IP cameras and related network equipment.
//
// The engine sends phased DNS-SD queries over every usable local IPv4
// interface, listens concurrently for replies, decodes the binary DNS wire
// format (including name compression), and assembles a deduplicated,
// TTL-refreshed inventory of responding devices.
//
// # Architecture
//
// The package is layered leaf-first:
//
//   - Message codec: Encode/Decode of the DNS wire format and the
//     NewQuery builder.
//   - NetworkManager: owns one sending socket per local address (multicast
//     TTL 1, loopback off) plus a broadly-bound listening socket joined to
//     224.0.0.251:5353 on every viable interface.
//   - QuerySender: prioritized service-type phases, batched to bound
//     datagram size, with jittered pacing and a final broad sweep.
//   - Listener: one receive loop per listening socket; decodes datagrams,
//     extracts device observations from A/PTR/SRV/TXT records and merges
//     them by source address.
//   - Cache: the cross-session device store with a fixed freshness window
//     (unrelated to DNS record TTLs) and a background eviction sweep.
//   - Engine: the single-session-at-a-time orchestrator with early
//     termination once the device count plateaus.
//
// # Usage Example
//
//	logger, _ := logging.New("info")
//	engine := mdns.NewEngine(mdns.Options{}, logger)
//	defer engine.Close()
//
//	go func() {
//	    for ev := range engine.Events() {
//	        fmt.Printf("%s: %s\n", ev.Kind, ev.Device.DisplayName())
//	    }
//	}()
//
//	devices, err := engine.Scan(context.Background())
//
// # Reliability Model
//
// mDNS is best-effort over unreliable multicast. Every per-datagram and
// per-socket failure is contained at its own level and logged at debug;
// only a total inability to open sockets surfaces, and then as a clean
// empty result. Concurrent scans are rejected with ErrScanInProgress
// rather than queued.
package mdns
