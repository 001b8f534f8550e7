// Package server exposes the discovery engine over HTTP for dashboards and
// other consumers.
//
// # Endpoints
//
//   - GET  /api/devices - the still-fresh device inventory as JSON
//   - POST /api/scan    - trigger an out-of-cycle discovery session
//   - GET  /ws          - WebSocket stream of discovery/expiry events
//
// The server owns the engine's event channel and fans events out to every
// connected WebSocket client; a slow client is disconnected rather than
// allowed to stall the broadcast. It also runs discovery on a fixed rescan
// interval so the cache never goes stale while serving.
package server
