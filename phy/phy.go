// Package phy turns the sx127x register-level driver into the PHY
// behavior spec.md §4.B describes: an API of post_tx_action,
// post_rx_action and set_default_rx_callback backed by a hierarchical
// state machine built on the hsm event-loop substrate. It generalizes
// the teacher's sx1276.Radio.worker (a select over an interrupt
// channel and a tx channel) into explicit RX-with-timeout, TX
// scheduling, and sleep states.
package phy

import (
	"time"

	"github.com/kc4ksu/heymac/hsm"
	"github.com/kc4ksu/heymac/sx127x"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/spi"
)

const (
	stateInitializing = "initializing"
	stateScheduling   = "scheduling"
	stateLingering    = "lingering"
	stateListening    = "listening"
	stateRxing        = "rxing"
	stateSleeping     = "sleeping"
	stateTxing        = "txing"
)

const (
	sigOpenRetry     hsm.Signal = "phy.open_retry"
	sigNewAction     hsm.Signal = "phy.new_action"
	sigIRQ           hsm.Signal = "phy.irq"
	sigNoiseTick     hsm.Signal = "phy.noise_tick"
	sigRxWindowTimer hsm.Signal = "phy.rx_window_timer"
	sigTxBackstop    hsm.Signal = "phy.tx_backstop"
	sigModeReady     hsm.Signal = "phy.mode_ready"
)

// DIO mapping bytes written to RegDioMapping1 for the two configured
// states (spec.md §4.B and §6): DIO0=RxDone, DIO1=RxTimeout,
// DIO3=ValidHeader for listening; DIO0=TxDone for txing.
const (
	dioMapListening byte = 0x01
	dioMapTxing     byte = 0x40
)

const retryInterval = time.Second
const noiseInterval = 100 * time.Millisecond
const txBackstop = time.Second
const blockSleepCap = 100 * time.Millisecond

// PHY drives one sx127x.Driver through the spec.md §4.B state machine.
// Exactly one hsm.Loop goroutine ever touches it, by the same
// single-owner contract the driver itself requires.
type PHY struct {
	conn  spi.Conn
	reset gpio.PinIO

	driver *sx127x.Driver
	loop   *hsm.Loop
	m      *hsm.Machine

	base            map[string]int64
	listenByDefault bool
	queue           *ActionQueue
	defaultRxCB     RxCallback

	curAction          Action
	hasScheduledAction bool

	noiseTimer hsm.Timer
	rxTimer    hsm.Timer
	txTimer    hsm.Timer
	wakeTimer  hsm.Timer

	Log sx127x.LogPrintf
}

// New creates a PHY bound to a not-yet-opened SX127x chip. base is the
// settings-field overlay applied before every write_settings call;
// listenByDefault selects whether lingering with no scheduled action
// parks in listening (RXCONT) or sleeping. Start must be called once,
// before loop.Run starts processing events.
func New(loop *hsm.Loop, conn spi.Conn, reset gpio.PinIO, base map[string]int64, listenByDefault bool, log sx127x.LogPrintf) *PHY {
	p := &PHY{
		conn:            conn,
		reset:           reset,
		loop:            loop,
		base:            base,
		listenByDefault: listenByDefault,
		queue:           NewActionQueue(),
		Log:             log,
	}
	p.m = hsm.NewMachine("phy", []*hsm.State{
		{Name: stateInitializing, Handler: p.hInitializing},
		{Name: stateScheduling, Handler: p.hScheduling},
		{Name: stateLingering, Super: stateScheduling, Handler: p.hLingering},
		{Name: stateListening, Super: stateLingering, Handler: p.hListening},
		{Name: stateRxing, Super: stateListening, Handler: p.hRxing},
		{Name: stateSleeping, Super: stateLingering, Handler: p.hSleeping},
		{Name: stateTxing, Super: stateScheduling, Handler: p.hTxing},
	}, loop)
	return p
}

// Start enters the machine at its initializing state.
func (p *PHY) Start() { p.m.Start(stateInitializing) }

// Current reports the active leaf state name, mainly for tests and
// diagnostics.
func (p *PHY) Current() string { return p.m.Current() }

// Queue exposes the pending action queue, for tests and diagnostic
// tooling that need to observe what PHY is about to schedule.
func (p *PHY) Queue() *ActionQueue { return p.queue }

// SetDefaultRxCallback registers the callback invoked for every
// listen-by-default reception with no action-specific override.
func (p *PHY) SetDefaultRxCallback(cb RxCallback) { p.defaultRxCB = cb }

// PostRxAction enqueues a receive window.
func (p *PHY) PostRxAction(a Action) {
	a.Kind = KindRX
	p.queue.Push(a)
	p.loop.Post(p.m, hsm.Event{Signal: sigNewAction})
}

// PostTxAction enqueues a transmit.
func (p *PHY) PostTxAction(a Action) {
	a.Kind = KindTX
	p.queue.Push(a)
	p.loop.Post(p.m, hsm.Event{Signal: sigNewAction})
}

func (p *PHY) logf(format string, v ...interface{}) {
	if p.Log != nil {
		p.Log(format, v...)
	}
}

func mergeSettings(base, overlay map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// --- initializing ---

func (p *PHY) hInitializing(m *hsm.Machine, ev hsm.Event) (hsm.Result, string) {
	switch ev.Signal {
	case hsm.Entry, sigOpenRetry:
		if p.tryOpen() {
			return hsm.Transition, stateScheduling
		}
		return hsm.Handled, ""
	}
	return hsm.Unhandled, ""
}

func (p *PHY) tryOpen() bool {
	drv, err := sx127x.Open(p.conn, p.reset, p.Log)
	if err != nil {
		p.logf("phy: open failed: %v", err)
		p.loop.PostIn(retryInterval, p.m, hsm.Event{Signal: sigOpenRetry})
		return false
	}
	if err := drv.SetFields(p.base); err != nil {
		p.logf("phy: base settings rejected: %v", err)
		p.loop.PostIn(retryInterval, p.m, hsm.Event{Signal: sigOpenRetry})
		return false
	}
	if err := drv.WriteSleepSettings(); err != nil {
		p.logf("phy: write sleep settings: %v", err)
		p.loop.PostIn(retryInterval, p.m, hsm.Event{Signal: sigOpenRetry})
		return false
	}
	if err := drv.WriteSettings(false); err != nil {
		p.logf("phy: write settings: %v", err)
		p.loop.PostIn(retryInterval, p.m, hsm.Event{Signal: sigOpenRetry})
		return false
	}
	p.driver = drv
	return true
}

// --- scheduling (transient) ---

func (p *PHY) hScheduling(m *hsm.Machine, ev hsm.Event) (hsm.Result, string) {
	switch ev.Signal {
	case hsm.Entry:
		return p.scheduleNext()
	}
	return hsm.Unhandled, ""
}

func (p *PHY) scheduleNext() (hsm.Result, string) {
	action, soon, ok := p.queue.Peek(p.loop.Time())
	if !ok {
		p.hasScheduledAction = false
		if p.listenByDefault {
			return hsm.Transition, stateListening
		}
		return hsm.Transition, stateSleeping
	}
	if soon {
		p.curAction, _ = p.queue.Pop()
		p.hasScheduledAction = true
		if action.Kind == KindTX {
			return hsm.Transition, stateTxing
		}
		return hsm.Transition, stateListening
	}

	// Not due yet: linger on the default and arm a wake-up so we
	// revisit once the head action crosses the soon threshold.
	p.hasScheduledAction = false
	if at, hasTimed := p.queue.NextTimedAt(); hasTimed {
		wake := at.Add(-soonThreshold)
		if wake.Before(p.loop.Time()) {
			wake = p.loop.Time()
		}
		p.wakeTimer.Disarm()
		p.wakeTimer = p.loop.PostAt(wake, p.m, hsm.Event{Signal: sigNewAction})
	}
	if p.listenByDefault {
		return hsm.Transition, stateListening
	}
	return hsm.Transition, stateSleeping
}

// --- lingering (superstate of listening, sleeping) ---

func (p *PHY) hLingering(m *hsm.Machine, ev hsm.Event) (hsm.Result, string) {
	switch ev.Signal {
	case sigNewAction:
		if !p.hasScheduledAction {
			return hsm.Transition, stateScheduling
		}
		return hsm.Handled, ""
	case hsm.Exit:
		if p.driver != nil {
			p.driver.WriteMode(sx127x.ModeStandby)
		}
		return hsm.Handled, ""
	}
	return hsm.Unhandled, ""
}

// --- listening ---

func (p *PHY) hListening(m *hsm.Machine, ev hsm.Event) (hsm.Result, string) {
	switch ev.Signal {
	case hsm.Entry:
		p.enterListening()
		return hsm.Handled, ""
	case hsm.Exit:
		p.noiseTimer.Disarm()
		p.rxTimer.Disarm()
		return hsm.Handled, ""
	case sigNoiseTick:
		if p.driver != nil {
			p.driver.UpdateNoise()
		}
		return hsm.Handled, ""
	case sigIRQ:
		return p.onListeningIRQ()
	case sigRxWindowTimer:
		return hsm.Transition, stateScheduling
	}
	return hsm.Unhandled, ""
}

func (p *PHY) enterListening() {
	if p.driver == nil {
		return
	}
	overlay := map[string]int64{}
	if p.hasScheduledAction {
		overlay = p.curAction.Settings
	}
	if err := p.driver.SetFields(mergeSettings(p.base, overlay)); err != nil {
		p.logf("phy: listening settings rejected: %v", err)
	}
	if err := p.driver.WriteSettings(true); err != nil {
		p.logf("phy: write rx settings: %v", err)
	}
	p.driver.WriteDioMapping1(dioMapListening)
	p.driver.WriteIrqMask(sx127x.IrqRxDone | sx127x.IrqRxTimeout | sx127x.IrqValidHeader)
	p.driver.ReadIRQ() // clear stale flags before arming
	p.driver.ResetRxFifo()

	p.noiseTimer = p.loop.PostEvery(noiseInterval, p.m, hsm.Event{Signal: sigNoiseTick})

	if p.hasScheduledAction && p.curAction.Kind == KindRX {
		blockSleepUntil(p.loop, p.curAction.At)
		p.driver.WriteMode(sx127x.ModeRxOnce)
		p.rxTimer = p.loop.PostIn(p.curAction.Duration, p.m, hsm.Event{Signal: sigRxWindowTimer})
	} else {
		p.driver.WriteMode(sx127x.ModeRxCont)
	}
}

// blockSleepUntil sleeps the calling (loop) goroutine up to
// blockSleepCap to align a reception or transmission to a target time
// with sub-event-loop precision, per spec.md §5's two explicit bounded
// block-sleep windows.
func blockSleepUntil(loop *hsm.Loop, at time.Time) {
	d := at.Sub(loop.Time())
	if d <= 0 {
		return
	}
	if d > blockSleepCap {
		d = blockSleepCap
	}
	time.Sleep(d)
}

func (p *PHY) onListeningIRQ() (hsm.Result, string) {
	flags, err := p.driver.ReadIRQ()
	if err != nil {
		p.logf("phy: read irq: %v", err)
		return hsm.Transition, stateScheduling
	}
	switch {
	case flags&sx127x.IrqValidHeader != 0:
		return hsm.Transition, stateRxing
	case flags&(sx127x.IrqPayloadCrcErr|sx127x.IrqRxTimeout) != 0:
		return hsm.Transition, stateScheduling
	}
	return hsm.Handled, ""
}

// --- rxing ---

func (p *PHY) hRxing(m *hsm.Machine, ev hsm.Event) (hsm.Result, string) {
	switch ev.Signal {
	case sigIRQ:
		return p.onRxingIRQ()
	}
	return hsm.Unhandled, ""
}

func (p *PHY) onRxingIRQ() (hsm.Result, string) {
	hdrTime := p.loop.Time()
	frame, rssi, snr, flags, err := p.driver.ReadLoRaRxd()
	if err != nil {
		p.logf("phy: read rxd: %v", err)
		return hsm.Transition, stateScheduling
	}
	if flags == 0 && frame != nil {
		cb := p.defaultRxCB
		if p.hasScheduledAction && p.curAction.Callback != nil {
			cb = p.curAction.Callback
		}
		if cb != nil {
			cb(hdrTime, frame, rssi, snr)
		}
	}
	return hsm.Transition, stateScheduling
}

// --- sleeping ---

func (p *PHY) hSleeping(m *hsm.Machine, ev hsm.Event) (hsm.Result, string) {
	switch ev.Signal {
	case hsm.Entry:
		if p.driver != nil {
			p.driver.WriteMode(sx127x.ModeSleep)
		}
		return hsm.Handled, ""
	}
	return hsm.Unhandled, ""
}

// --- txing ---

func (p *PHY) hTxing(m *hsm.Machine, ev hsm.Event) (hsm.Result, string) {
	switch ev.Signal {
	case hsm.Entry:
		p.enterTxing()
		return hsm.Handled, ""
	case hsm.Exit:
		p.txTimer.Disarm()
		return hsm.Handled, ""
	case sigIRQ:
		flags, err := p.driver.ReadIRQ()
		if err != nil {
			p.logf("phy: read irq: %v", err)
			return hsm.Transition, stateScheduling
		}
		if flags&sx127x.IrqTxDone != 0 {
			return hsm.Transition, stateScheduling
		}
		return hsm.Handled, ""
	case sigTxBackstop:
		p.driver.WriteMode(sx127x.ModeStandby)
		p.driver.WriteDioMapping2(0x00) // DIO5=ModeReady
		return hsm.Handled, ""
	case sigModeReady:
		return hsm.Transition, stateScheduling
	}
	return hsm.Unhandled, ""
}

func (p *PHY) enterTxing() {
	if p.driver == nil {
		return
	}
	if err := p.driver.SetFields(mergeSettings(p.base, p.curAction.Settings)); err != nil {
		p.logf("phy: txing settings rejected: %v", err)
	}
	if err := p.driver.WriteSettings(false); err != nil {
		p.logf("phy: write tx settings: %v", err)
	}
	p.driver.WriteDioMapping1(dioMapTxing)
	p.driver.WriteIrqMask(sx127x.IrqTxDone)
	p.driver.ReadIRQ()
	if err := p.driver.WriteFIFO(p.curAction.Payload); err != nil {
		p.logf("phy: write fifo: %v", err)
	}
	blockSleepUntil(p.loop, p.curAction.At)
	p.txTimer = p.loop.PostIn(txBackstop, p.m, hsm.Event{Signal: sigTxBackstop})
	p.driver.WriteMode(sx127x.ModeTx)
}
