package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"blechat/internal/ble"
)

// DefaultPeerTTL is how long a candidate stays listed after its last sighting.
const DefaultPeerTTL = 30 * time.Second

// Scanner runs bounded discovery scans for chat peers. One scan at a time;
// a second request is rejected with ErrScanBusy rather than queued.
type Scanner struct {
	adapter     ble.Adapter
	serviceUUID string
	ttl         time.Duration

	scanning atomic.Bool

	mu    sync.Mutex
	peers map[string]Peer
}

// NewScanner creates a scanner filtering advertisements by serviceUUID.
// ttl <= 0 falls back to DefaultPeerTTL.
func NewScanner(adapter ble.Adapter, serviceUUID string, ttl time.Duration) *Scanner {
	if ttl <= 0 {
		ttl = DefaultPeerTTL
	}
	return &Scanner{
		adapter:     adapter,
		serviceUUID: serviceUUID,
		ttl:         ttl,
		peers:       make(map[string]Peer),
	}
}

// Scan discovers peers for one bounded window and returns them deduplicated
// by address, most recent sighting winning. The scan ends on its own
// timeout; there is no user-initiated cancel.
func (s *Scanner) Scan(ctx context.Context, window time.Duration) ([]Peer, error) {
	if !s.scanning.CompareAndSwap(false, true) {
		return nil, ErrScanBusy
	}
	defer s.scanning.Store(false)

	slog.Info("[scan] starting", "window", window)
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	devices, err := s.adapter.Scan(ctx, s.serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScanUnavailable, err)
	}

	now := time.Now()
	found := make([]Peer, 0, len(devices))
	s.mu.Lock()
	for _, d := range devices {
		p := Peer{Addr: d.Addr, Name: d.Name, RSSI: d.RSSI, LastSeen: now}
		s.peers[d.Addr] = p
		found = append(found, p)
	}
	s.mu.Unlock()

	slog.Info("[scan] finished", "peers", len(found))
	return found, nil
}

// Peers returns a snapshot of known candidates, dropping those whose last
// sighting is older than the TTL.
func (s *Scanner) Peers() []Peer {
	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Peer, 0, len(s.peers))
	for addr, p := range s.peers {
		if p.LastSeen.Before(cutoff) {
			delete(s.peers, addr)
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Lookup returns the candidate with the given address, if still fresh.
func (s *Scanner) Lookup(addr string) (Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[addr]
	if !ok || time.Since(p.LastSeen) > s.ttl {
		return Peer{}, false
	}
	return p, true
}
