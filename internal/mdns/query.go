package mdns

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// ServiceTypeEnumeration is the DNS-SD meta-query that asks responders to
// enumerate every service type they advertise.
const ServiceTypeEnumeration = "_services._dns-sd._udp.local."

// ServicePhase is a named, priority-ordered group of service types that are
// queried together.
type ServicePhase struct {
	Name  string
	Types []string
}

// DefaultServicePhases returns the built-in query plan: the DNS-SD meta
// service first, then camera/security types, then generic network
// infrastructure, then a broad catch-all.
func DefaultServicePhases() []ServicePhase {
	return []ServicePhase{
		{
			Name:  "meta",
			Types: []string{ServiceTypeEnumeration},
		},
		{
			Name: "cameras",
			Types: []string{
				"_onvif._tcp.local.",
				"_rtsp._tcp.local.",
				"_psia._tcp.local.",
				"_axis-video._tcp.local.",
				"_hikvision._tcp.local.",
				"_dahua-dss._tcp.local.",
				"_nvr._tcp.local.",
			},
		},
		{
			Name: "network",
			Types: []string{
				"_http._tcp.local.",
				"_https._tcp.local.",
				"_printer._tcp.local.",
				"_ipp._tcp.local.",
				"_pdl-datastream._tcp.local.",
				"_smb._tcp.local.",
				"_afpovertcp._tcp.local.",
				"_nfs._tcp.local.",
				"_ftp._tcp.local.",
				"_ssh._tcp.local.",
				"_sftp-ssh._tcp.local.",
				"_telnet._tcp.local.",
				"_workstation._tcp.local.",
				"_device-info._tcp.local.",
			},
		},
		{
			Name: "catchall",
			Types: []string{
				ServiceTypeEnumeration,
				"_tcp.local.",
				"_udp.local.",
			},
		},
	}
}

// Query pacing. The randomized initial delay avoids synchronized query
// storms when several hosts scan the same segment; the small inter-batch
// and inter-phase gaps keep the sender polite on shared media.
const (
	initialDelayFloor  = 20 * time.Millisecond
	initialDelayJitter = 50 * time.Millisecond
	interBatchDelay    = 20 * time.Millisecond
	interPhaseDelay    = 60 * time.Millisecond
	sendTimeout        = 250 * time.Millisecond
)

// QuerySender turns the phased service-type plan into on-wire traffic
// through the network manager's sending sockets.
type QuerySender struct {
	nm     *NetworkManager
	phases []ServicePhase
	log    *zap.Logger
}

// NewQuerySender creates a sender over the given socket manager. A nil or
// empty phase list selects DefaultServicePhases.
func NewQuerySender(nm *NetworkManager, phases []ServicePhase, log *zap.Logger) *QuerySender {
	if len(phases) == 0 {
		phases = DefaultServicePhases()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &QuerySender{nm: nm, phases: phases, log: log}
}

// Run transmits every phase in priority order, then a final broad sweep for
// devices that ignored the targeted queries. Individual send failures are
// soft: logged and skipped. Run returns early only on context cancellation.
func (s *QuerySender) Run(ctx context.Context) error {
	delay := initialDelayFloor + rand.N(initialDelayJitter)
	if err := sleepCtx(ctx, delay); err != nil {
		return err
	}

	for _, phase := range s.phases {
		batchSize := batchSizeFor(len(phase.Types))
		for _, batch := range batchServiceTypes(phase.Types, batchSize) {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.sendBatch(ctx, phase.Name, batch)
			if err := sleepCtx(ctx, interBatchDelay); err != nil {
				return err
			}
		}
		if err := sleepCtx(ctx, interPhaseDelay); err != nil {
			return err
		}
	}

	s.sendBatch(ctx, "sweep", []string{ServiceTypeEnumeration, "_tcp.local.", "_udp.local."})
	return ctx.Err()
}

// sendBatch writes one query for the batch out of every sending socket.
func (s *QuerySender) sendBatch(ctx context.Context, phase string, types []string) {
	data, err := NewQuery(types...).Encode()
	if err != nil {
		s.log.Debug("query encode failed", zap.String("phase", phase), zap.Error(err))
		return
	}

	for _, sock := range s.nm.SendSockets() {
		if s.nm.Disposed() || ctx.Err() != nil {
			return
		}
		_ = sock.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
		if _, err := sock.conn.WriteToUDP(data, mdnsGroup); err != nil {
			if ctx.Err() != nil || s.nm.Disposed() {
				return
			}
			s.log.Debug("query send failed",
				zap.String("phase", phase),
				zap.String("local", sock.local.String()),
				zap.Error(err))
		}
	}
	s.log.Debug("query batch sent",
		zap.String("phase", phase),
		zap.Int("types", len(types)),
		zap.Int("bytes", len(data)))
}

// batchSizeFor scales the batch size with the phase's total service count so
// a single datagram stays well under practical UDP payload limits.
func batchSizeFor(total int) int {
	switch {
	case total <= 3:
		return total
	case total <= 9:
		return 3
	default:
		return 5
	}
}

// batchServiceTypes splits a phase's types into fixed-size batches.
func batchServiceTypes(types []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var batches [][]string
	for start := 0; start < len(types); start += size {
		end := start + size
		if end > len(types) {
			end = len(types)
		}
		batches = append(batches, types[start:end])
	}
	return batches
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
