// Package lnk implements the Heymac LNK (link) layer state machine of
// spec.md §4.D: lurk -> beacon -> link lifecycle, the neighbor table,
// and re-emission of multi-hop commands, built on the same hsm
// event-loop substrate as phy. It is grounded on the teacher's
// cmd/mqttradio/loragw.go RX/TX pump (decode, inspect, conditionally
// re-enqueue), generalized from a pair of goroutines into an
// hsm.Machine so it can share one event loop with phy.
package lnk

import (
	"time"

	"github.com/kc4ksu/heymac/frame"
	"github.com/kc4ksu/heymac/honr"
	"github.com/kc4ksu/heymac/hsm"
	"github.com/kc4ksu/heymac/phy"
	"github.com/kc4ksu/heymac/sx127x"
)

const (
	stateInitializing = "initializing"
	stateLurking      = "lurking"
	stateBeaconing    = "beaconing"
	stateLinking      = "linking" // Super: stateBeaconing
)

const (
	sigLurkTimeout hsm.Signal = "lnk.lurk_timeout"
	sigBeaconTick  hsm.Signal = "lnk.beacon_tick"
	sigMaintTick   hsm.Signal = "lnk.maint_tick"
	sigRxFrame     hsm.Signal = "lnk.rx_frame"
)

// maintInterval is spec.md §4.D's fixed 4s linking-state neighbor
// expiry sweep, independent of beaconPeriod.
const maintInterval = 4 * time.Second

// SyncWord is the Heymac protocol's LoRa sync word, staged onto
// sx127x.FieldSyncWord at config time rather than baked into the
// field's own reset default (which is the chip's true power-on value).
const SyncWord = 0x48

// RxFrame is a fully decoded reception handed to the registered
// higher-layer callback: the parsed frame, its command payload (nil
// Cmd with a non-nil CmdErr if the payload didn't decode), and the RF
// metadata the PHY measured.
type RxFrame struct {
	Frame   *frame.Frame
	Cmd     frame.Command
	CmdErr  error
	RSSI    int32
	SNR     float32
	HdrTime time.Time
}

// RxCallback is invoked once per valid reception, after neighbor-table
// bookkeeping and any multi-hop re-emission.
type RxCallback func(RxFrame)

// Config parameterizes one LNK instance; zero-value BeaconPeriod
// defaults to 32s as spec.md §4.D specifies.
type Config struct {
	BeaconPeriod time.Duration
	Capabilities uint16
	Status       uint16
}

func (c Config) period() time.Duration {
	if c.BeaconPeriod <= 0 {
		return 32 * time.Second
	}
	return c.BeaconPeriod
}

// LNK drives one PHY through the lurk/beacon/link lifecycle. Exactly
// one hsm.Loop goroutine ever touches it, the same single-owner
// contract phy.PHY and sx127x.Driver require.
type LNK struct {
	loop *hsm.Loop
	m    *hsm.Machine
	phy  *phy.PHY

	cfg       Config
	loadCreds Loader
	creds     Credentials
	haveCreds bool

	table *Table
	rxCB  RxCallback

	lurkTimer   hsm.Timer
	beaconTimer hsm.Timer
	maintTimer  hsm.Timer

	Log sx127x.LogPrintf
}

// New creates an LNK bound to phy, sharing loop so both machines run
// on the single event loop spec.md §5 requires. Call Start once,
// before loop.Run starts processing events.
func New(loop *hsm.Loop, p *phy.PHY, cfg Config, loadCreds Loader, log sx127x.LogPrintf) *LNK {
	l := &LNK{
		loop:      loop,
		phy:       p,
		cfg:       cfg,
		loadCreds: loadCreds,
		table:     NewTable(),
		Log:       log,
	}
	l.m = hsm.NewMachine("lnk", []*hsm.State{
		{Name: stateInitializing, Handler: l.hInitializing},
		{Name: stateLurking, Handler: l.hLurking},
		{Name: stateBeaconing, Handler: l.hBeaconing},
		{Name: stateLinking, Super: stateBeaconing, Handler: l.hLinking},
	}, loop)
	return l
}

// Start enters the machine at its initializing state.
func (l *LNK) Start() { l.m.Start(stateInitializing) }

// Current reports the active leaf state name, for tests and diagnostics.
func (l *LNK) Current() string { return l.m.Current() }

// SetRxCallback registers the higher-layer callback invoked for every
// valid reception.
func (l *LNK) SetRxCallback(cb RxCallback) { l.rxCB = cb }

// Neighbors returns a snapshot of the neighbor table.
func (l *LNK) Neighbors() []Neighbor { return l.table.Neighbors() }

func (l *LNK) logf(format string, v ...interface{}) {
	if l.Log != nil {
		l.Log(format, v...)
	}
}

// --- initializing ---

func (l *LNK) hInitializing(m *hsm.Machine, ev hsm.Event) (hsm.Result, string) {
	switch ev.Signal {
	case hsm.Entry:
		l.phy.SetDefaultRxCallback(l.onPhyRx)
		return hsm.Transition, stateLurking
	}
	return hsm.Unhandled, ""
}

// onPhyRx runs on the shared loop goroutine (it is invoked directly
// from phy's rxing-state handler); it posts into lnk's own mailbox
// rather than dispatching inline, so a reception never re-enters the
// LNK machine while it is itself mid-handler.
func (l *LNK) onPhyRx(hdrTime time.Time, frameBytes []byte, rssiDBm int32, snrDB float32) {
	l.loop.Post(l.m, hsm.Event{Signal: sigRxFrame, Data: rxPayload{frameBytes, rssiDBm, snrDB, hdrTime}})
}

type rxPayload struct {
	bytes   []byte
	rssi    int32
	snr     float32
	hdrTime time.Time
}

// handleRxFrame implements spec.md §4.D's RX pipeline, shared by
// lurking, beaconing, and linking.
func (l *LNK) handleRxFrame(ev hsm.Event) {
	rp := ev.Data.(rxPayload)

	f, err := frame.Parse(rp.bytes)
	if err != nil {
		l.logf("lnk: dropping unparseable frame: %v", err)
		return
	}

	var cmd frame.Command
	var cmdErr error
	if len(f.Payload) > 0 {
		cmd, cmdErr = frame.DecodeCommand(f.Payload)
	}

	if len(f.Saddr) == 8 {
		var addr [8]byte
		copy(addr[:], f.Saddr)
		if _, ok := cmd.(frame.BeaconCmd); ok {
			l.table.observeBeacon(addr, rp.hdrTime, rp.rssi, rp.snr, f)
		} else {
			l.table.touch(addr, rp.hdrTime, rp.rssi, rp.snr)
		}
		if nd, ok := cmd.(frame.NeighborDataCmd); ok {
			l.table.markHeardUs(addr, neighborListContains(nd, l.creds.LinkAddr))
		}
	}

	l.maybeForward(f)

	if l.rxCB != nil {
		l.rxCB(RxFrame{Frame: f, Cmd: cmd, CmdErr: cmdErr, RSSI: rp.rssi, SNR: rp.snr, HdrTime: rp.hdrTime})
	}
}

func neighborListContains(nd frame.NeighborDataCmd, local [8]byte) bool {
	for _, a := range nd.Addrs {
		if a == local {
			return true
		}
	}
	return false
}

// maybeForward implements spec.md §4.D step 3: a multi-hop frame with
// Hops > 1 is re-emitted with Hops decremented and Taddr set to our
// own address. When the frame also carries a valid HONR Daddr and the
// old Taddr is a valid HONR address of matching length, honr.ShouldForward
// gates the re-emission on the actual routing decision (spec.md §2:
// "consults the router (E) for multi-hop forwarding"); otherwise it
// falls back to the bare Hops>1 rule.
func (l *LNK) maybeForward(f *frame.Frame) {
	if !l.haveCreds || f.Fctl&frame.FctlM == 0 || f.Hops <= 1 || len(f.Taddr) == 0 {
		return
	}
	if len(f.Daddr) > 0 {
		dst, errD := honr.New(f.Daddr)
		resender, errT := honr.New(f.Taddr)
		local, errL := honr.New(l.creds.LinkAddr[:])
		if errD == nil && errT == nil && errL == nil {
			should, err := honr.ShouldForward(resender, dst, local)
			if err == nil && !should {
				return
			}
		}
	}

	fwd := *f
	fwd.Hops = f.Hops - 1
	fwd.Taddr = append([]byte(nil), l.creds.LinkAddr[:len(f.Taddr)]...)

	bytes, err := fwd.Serialize()
	if err != nil {
		l.logf("lnk: cannot re-serialize multi-hop frame: %v", err)
		return
	}
	l.phy.PostTxAction(phy.Action{Immediate: true, Payload: bytes})
}

// --- lurking ---

func (l *LNK) hLurking(m *hsm.Machine, ev hsm.Event) (hsm.Result, string) {
	switch ev.Signal {
	case hsm.Entry:
		l.lurkTimer = l.loop.PostIn(2*l.cfg.period(), l.m, hsm.Event{Signal: sigLurkTimeout})
		return hsm.Handled, ""
	case hsm.Exit:
		l.lurkTimer.Disarm()
		return hsm.Handled, ""
	case sigLurkTimeout:
		creds, ok, err := l.tryLoadCreds()
		if err != nil {
			l.logf("lnk: credential load error: %v", err)
		}
		if ok {
			l.creds = creds
			l.haveCreds = true
			return hsm.Transition, stateBeaconing
		}
		l.lurkTimer = l.loop.PostIn(l.cfg.period(), l.m, hsm.Event{Signal: sigLurkTimeout})
		return hsm.Handled, ""
	case sigRxFrame:
		l.handleRxFrame(ev)
		return hsm.Handled, ""
	}
	return hsm.Unhandled, ""
}

func (l *LNK) tryLoadCreds() (Credentials, bool, error) {
	if l.loadCreds == nil {
		return Credentials{}, false, nil
	}
	return l.loadCreds()
}

// --- beaconing (superstate of linking) ---

func (l *LNK) hBeaconing(m *hsm.Machine, ev hsm.Event) (hsm.Result, string) {
	switch ev.Signal {
	case hsm.Entry:
		l.beaconTimer = l.loop.PostEvery(l.cfg.period(), l.m, hsm.Event{Signal: sigBeaconTick})
		return hsm.Handled, ""
	case hsm.Exit:
		l.beaconTimer.Disarm()
		return hsm.Handled, ""
	case sigBeaconTick:
		l.sendBeacon()
		return hsm.Handled, ""
	case sigRxFrame:
		l.handleRxFrame(ev)
		if l.table.AnyHeardUs() {
			return hsm.Transition, stateLinking
		}
		return hsm.Handled, ""
	}
	return hsm.Unhandled, ""
}

func (l *LNK) sendBeacon() {
	cmd := frame.BeaconCmd{Capabilities: l.cfg.Capabilities, Status: l.cfg.Status, Callsign: l.creds.Callsign, PubKey: l.creds.PubKey}
	l.sendCommand(cmd)
}

// sendNeighborData gossips the addresses we have heard from, giving
// peers the evidence spec.md §4.D's "neighbor list contains the local
// address" beaconing->linking transition looks for. The catalog's
// dedicated NeighborDataCmd (spec.md §3) has no other producer in this
// state machine; linking piggybacks it on the 4s maintenance tick
// rather than on every beacon, keeping the very first outbound frame
// after cold start an unambiguous Beacon (spec.md §8 scenario 5).
func (l *LNK) sendNeighborData() {
	neighbors := l.table.Neighbors()
	addrs := make([][8]byte, len(neighbors))
	for i, n := range neighbors {
		addrs[i] = n.Addr
	}
	l.sendCommand(frame.NeighborDataCmd{Addrs: addrs})
}

func (l *LNK) sendCommand(cmd frame.Command) {
	f := frame.New(frame.PIDCSMA).WithLongAddrs(true).WithSaddr(l.creds.LinkAddr[:])
	f.WithPayload(cmd.Encode(nil))
	bytes, err := f.Serialize()
	if err != nil {
		l.logf("lnk: cannot serialize outbound command: %v", err)
		return
	}
	l.phy.PostTxAction(phy.Action{Immediate: true, Payload: bytes})
}

// --- linking ---

func (l *LNK) hLinking(m *hsm.Machine, ev hsm.Event) (hsm.Result, string) {
	switch ev.Signal {
	case hsm.Entry:
		l.maintTimer = l.loop.PostEvery(maintInterval, l.m, hsm.Event{Signal: sigMaintTick})
		return hsm.Handled, ""
	case hsm.Exit:
		l.maintTimer.Disarm()
		return hsm.Handled, ""
	case sigMaintTick:
		l.table.Expire(l.loop.Time(), 4*l.cfg.period())
		l.sendNeighborData()
		if !l.table.AnyHeardUs() {
			return hsm.Transition, stateBeaconing
		}
		return hsm.Handled, ""
	case sigRxFrame:
		l.handleRxFrame(ev)
		if !l.table.AnyHeardUs() {
			return hsm.Transition, stateBeaconing
		}
		return hsm.Handled, ""
	}
	return hsm.Unhandled, ""
}
