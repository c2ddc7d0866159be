package lnk

import (
	"testing"
	"time"

	"github.com/kc4ksu/heymac/frame"
	"github.com/kc4ksu/heymac/hsm"
	"github.com/kc4ksu/heymac/phy"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

// TestColdStartBeaconsAfterLurkPeriod is spec.md §8 scenario 5: cold
// start with credentials on disk lurks for 2xperiod, then emits a
// Beacon command as the first outbound frame once per period.
func TestColdStartBeaconsAfterLurkPeriod(t *testing.T) {
	loop := hsm.NewLoop()
	p := phy.New(loop, nil, nil, nil, false, nil)

	const period = 15 * time.Millisecond
	want := Credentials{Callsign: "KC4KSU-123", LinkAddr: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}
	loader := func() (Credentials, bool, error) { return want, true, nil }

	l := New(loop, p, Config{BeaconPeriod: period, Capabilities: 2}, loader, nil)
	l.Start()
	if got := l.Current(); got != stateLurking {
		t.Fatalf("initial state = %q, want %q", got, stateLurking)
	}

	go loop.Run()
	defer loop.Stop()

	waitUntil(t, 2*period+200*time.Millisecond, func() bool { return l.Current() == stateBeaconing })

	waitUntil(t, period+200*time.Millisecond, func() bool { return !p.Queue().Empty() })

	action, ok := p.Queue().Pop()
	if !ok {
		t.Fatal("expected a queued TX action for the first beacon")
	}
	f, err := frame.Parse(action.Payload)
	if err != nil {
		t.Fatalf("Parse(beacon frame): %v", err)
	}
	if f.PID != frame.PIDCSMA {
		t.Fatalf("PID = %#02x, want CSMA", f.PID)
	}
	cmd, err := frame.DecodeCommand(f.Payload)
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	bc, ok := cmd.(frame.BeaconCmd)
	if !ok {
		t.Fatalf("first outbound command = %#v, want BeaconCmd", cmd)
	}
	if bc.Callsign != want.Callsign {
		t.Fatalf("Callsign = %q, want %q", bc.Callsign, want.Callsign)
	}
}

// TestLurkingRearmsWithoutCredentials covers the "else rearm for
// another beacon-period" branch of spec.md §4.D.
func TestLurkingRearmsWithoutCredentials(t *testing.T) {
	loop := hsm.NewLoop()
	p := phy.New(loop, nil, nil, nil, false, nil)

	const period = 10 * time.Millisecond
	attempts := 0
	loader := func() (Credentials, bool, error) {
		attempts++
		return Credentials{}, false, nil
	}
	l := New(loop, p, Config{BeaconPeriod: period}, loader, nil)
	l.Start()

	go loop.Run()
	defer loop.Stop()

	waitUntil(t, 2*period+300*time.Millisecond, func() bool { return attempts >= 2 })
	if l.Current() != stateLurking {
		t.Fatalf("state = %q, want still lurking with no credentials", l.Current())
	}
}

func buildMultiHopFrame(t *testing.T, daddr, taddr []byte, hops byte) []byte {
	t.Helper()
	f := frame.New(frame.PIDCSMA).WithLongAddrs(true).WithMultiHop(hops, taddr)
	if daddr != nil {
		f.WithDaddr(daddr)
	}
	f.WithPayload(frame.TextCmd{Message: "hi"}.Encode(nil))
	b, err := f.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return b
}

// TestMultiHopForwardFallback is spec.md §8 scenario 6: a multi-hop
// frame with Hops=3 and Taddr != local is re-emitted with Hops=2 and
// Taddr=local, when no Daddr is present to consult the router with.
func TestMultiHopForwardFallback(t *testing.T) {
	loop := hsm.NewLoop()
	p := phy.New(loop, nil, nil, nil, false, nil)
	l := New(loop, p, Config{}, nil, nil)
	l.haveCreds = true
	local := [8]byte{1, 1, 1, 1, 1, 1, 1, 1}
	l.creds.LinkAddr = local

	resender := []byte{2, 2, 2, 2, 2, 2, 2, 2}
	wire := buildMultiHopFrame(t, nil, resender, 3)

	l.handleRxFrame(hsm.Event{Signal: sigRxFrame, Data: rxPayload{wire, -80, 5, time.Now()}})

	action, ok := p.Queue().Pop()
	if !ok {
		t.Fatal("expected a re-emitted forwarding frame")
	}
	got, err := frame.Parse(action.Payload)
	if err != nil {
		t.Fatalf("Parse(forwarded frame): %v", err)
	}
	if got.Hops != 2 {
		t.Fatalf("Hops = %d, want 2", got.Hops)
	}
	if string(got.Taddr) != string(local[:]) {
		t.Fatalf("Taddr = % x, want local % x", got.Taddr, local)
	}
}

// TestMultiHopForwardHonrGatesOnRoute shows the richer path: when the
// frame carries a valid HONR Daddr, forwarding is gated on
// honr.ShouldForward rather than the bare Hops>1 rule.
func TestMultiHopForwardHonrGatesOnRoute(t *testing.T) {
	root := make([]byte, 8)
	local := [8]byte{0x10, 0, 0, 0, 0, 0, 0, 0}   // rank 1, nibble0=1
	dstUnder := []byte{0x13, 0, 0, 0, 0, 0, 0, 0} // rank 2, under local
	dstElsewhere := []byte{0x50, 0, 0, 0, 0, 0, 0, 0}

	t.Run("allowed", func(t *testing.T) {
		loop := hsm.NewLoop()
		p := phy.New(loop, nil, nil, nil, false, nil)
		l := New(loop, p, Config{}, nil, nil)
		l.haveCreds = true
		l.creds.LinkAddr = local

		wire := buildMultiHopFrame(t, dstUnder, root, 3)
		l.handleRxFrame(hsm.Event{Signal: sigRxFrame, Data: rxPayload{wire, 0, 0, time.Now()}})

		if p.Queue().Empty() {
			t.Fatal("expected forwarding when local is the next routed hop")
		}
	})

	t.Run("blocked", func(t *testing.T) {
		loop := hsm.NewLoop()
		p := phy.New(loop, nil, nil, nil, false, nil)
		l := New(loop, p, Config{}, nil, nil)
		l.haveCreds = true
		l.creds.LinkAddr = local

		wire := buildMultiHopFrame(t, dstElsewhere, root, 3)
		l.handleRxFrame(hsm.Event{Signal: sigRxFrame, Data: rxPayload{wire, 0, 0, time.Now()}})

		if !p.Queue().Empty() {
			t.Fatal("expected no forwarding when local is not on the route")
		}
	})
}

// TestNeighborTableTracksBeaconsAndHeardUs exercises the RX pipeline's
// neighbor bookkeeping (spec.md §3, §4.D) directly.
func TestNeighborTableTracksBeaconsAndHeardUs(t *testing.T) {
	loop := hsm.NewLoop()
	p := phy.New(loop, nil, nil, nil, false, nil)
	local := [8]byte{9, 9, 9, 9, 9, 9, 9, 9}
	l := New(loop, p, Config{}, nil, nil)
	l.haveCreds = true
	l.creds.LinkAddr = local

	peer := []byte{7, 7, 7, 7, 7, 7, 7, 7}
	bcn := frame.BeaconCmd{Capabilities: 1, Callsign: "W1AW"}
	bf := frame.New(frame.PIDCSMA).WithLongAddrs(true).WithSaddr(peer)
	bf.WithPayload(bcn.Encode(nil))
	wire, err := bf.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	l.handleRxFrame(hsm.Event{Signal: sigRxFrame, Data: rxPayload{wire, -70, 8, time.Now()}})

	neighbors := l.Neighbors()
	if len(neighbors) != 1 || neighbors[0].BeaconCnt != 1 {
		t.Fatalf("neighbors = %+v, want one entry with BeaconCnt=1", neighbors)
	}
	if l.table.AnyHeardUs() {
		t.Fatal("AnyHeardUs should be false before any NeighborDataCmd names us")
	}

	var peerAddr [8]byte
	copy(peerAddr[:], peer)
	nd := frame.NeighborDataCmd{Addrs: [][8]byte{local, peerAddr}}
	nf := frame.New(frame.PIDCSMA).WithLongAddrs(true).WithSaddr(peer)
	nf.WithPayload(nd.Encode(nil))
	wire2, err := nf.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	l.handleRxFrame(hsm.Event{Signal: sigRxFrame, Data: rxPayload{wire2, -70, 8, time.Now()}})

	if !l.table.AnyHeardUs() {
		t.Fatal("AnyHeardUs should be true once a peer's NeighborDataCmd lists us")
	}
}
