package lnk

import (
	"time"

	"github.com/kc4ksu/heymac/frame"
)

// Neighbor is one entry in the link-layer neighbor table (spec.md §3):
// keyed externally by an 8-byte link address, it tracks the most
// recent sighting of that neighbor plus enough beacon history to
// decide linking-state transitions.
type Neighbor struct {
	Addr [8]byte

	LastSeen  time.Time
	LastRSSI  int32
	LastSNR   float32
	BeaconCnt int

	// LastBeacon is the most recent full beacon frame heard from this
	// neighbor, per spec.md §3's neighbor-table value shape.
	LastBeacon *frame.Frame

	// HeardUs records whether this neighbor's most recent
	// NeighborDataCmd listed our own link address, the evidence
	// spec.md §4.D's beaconing->linking transition looks for.
	HeardUs bool
}

// Table is the neighbor table owned exclusively by the LNK state
// machine's loop goroutine; spec.md §5 forbids any other goroutine
// from touching it, so it carries no locking of its own.
type Table struct {
	byAddr map[[8]byte]*Neighbor
}

// NewTable returns an empty neighbor table.
func NewTable() *Table {
	return &Table{byAddr: make(map[[8]byte]*Neighbor)}
}

// touch records a sighting of addr at t with the given RSSI/SNR,
// creating the entry if it is new.
func (tb *Table) touch(addr [8]byte, t time.Time, rssi int32, snr float32) *Neighbor {
	n, ok := tb.byAddr[addr]
	if !ok {
		n = &Neighbor{Addr: addr}
		tb.byAddr[addr] = n
	}
	n.LastSeen = t
	n.LastRSSI = rssi
	n.LastSNR = snr
	return n
}

// observeBeacon records a beacon sighting: bumps BeaconCnt and stores
// the frame as the neighbor's most recent beacon.
func (tb *Table) observeBeacon(addr [8]byte, t time.Time, rssi int32, snr float32, f *frame.Frame) {
	n := tb.touch(addr, t, rssi, snr)
	n.BeaconCnt++
	n.LastBeacon = f
}

// markHeardUs records that addr's most recent NeighborDataCmd included
// local, evidence that peer has heard us.
func (tb *Table) markHeardUs(addr [8]byte, heard bool) {
	if n, ok := tb.byAddr[addr]; ok {
		n.HeardUs = heard
	}
}

// AnyHeardUs reports whether any neighbor's last NeighborDataCmd listed
// our own address.
func (tb *Table) AnyHeardUs() bool {
	for _, n := range tb.byAddr {
		if n.HeardUs {
			return true
		}
	}
	return false
}

// Expire drops entries whose last sighting is older than maxAge,
// spec.md §3's "four beacon periods without any valid frame".
func (tb *Table) Expire(now time.Time, maxAge time.Duration) {
	for addr, n := range tb.byAddr {
		if now.Sub(n.LastSeen) > maxAge {
			delete(tb.byAddr, addr)
		}
	}
}

// Neighbors returns a snapshot of the current table, for diagnostics
// and MQTT telemetry (spec.md §3 requires expiry, which implies some
// way to enumerate the table to notice it happening).
func (tb *Table) Neighbors() []Neighbor {
	out := make([]Neighbor, 0, len(tb.byAddr))
	for _, n := range tb.byAddr {
		out = append(out, *n)
	}
	return out
}

// Len reports the current neighbor count.
func (tb *Table) Len() int { return len(tb.byAddr) }
