// Copyright 2016 by Thorsten von Eicken, see LICENSE file
// Adapted for the SX127x Heymac PHY driver.

package sx127x

import (
	"errors"
	"fmt"
	"math"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/spi"
)

// LogPrintf is the package-wide logging hook, in the same shape the
// teacher's RadioOpts.Logger uses: nil means "don't log".
type LogPrintf func(format string, v ...interface{})

// ErrChipMismatch is returned by Open when RegVersion doesn't read back
// ChipVersion, meaning either the wrong chip is attached or the SPI
// wiring is bad.
var ErrChipMismatch = errors.New("sx127x: chip version mismatch, check wiring")

// Stats counts operational events a caller may want to alarm on,
// mirroring the taxonomy in spec.md §7 (TransientRxError,
// HardwareUnreachable).
type Stats struct {
	RxTimeouts    int
	CrcErrors     int
	ReopenAttempt int
}

// Driver is a single SX127x chip's register-level driver: the
// desired/applied settings cache plus the SPI/GPIO plumbing to flush it
// and to move data through the chip's FIFO. Exactly one goroutine (the
// phy state machine's loop) may call its methods; Driver does no
// internal locking, by the same contract as the teacher's sx1276.Radio.
type Driver struct {
	spi   spi.Conn
	reset gpio.PinIO // active-low reset pin, may be nil

	settings *settings
	mode     int64 // last OpMode written (ModeSleep, ...)

	lastForRx         bool
	applied500kAutoIF bool

	noiseAccum float64
	noiseCount int

	Stats Stats
	Log   LogPrintf
}

// Open brings up the chip: toggles reset if a reset pin was given,
// confirms RegVersion, and leaves the driver in ModeSleep with every
// field at its documented reset value.
func Open(conn spi.Conn, reset gpio.PinIO, log LogPrintf) (*Driver, error) {
	d := &Driver{spi: conn, reset: reset, settings: newSettings(), Log: log}
	if err := d.ResetRadio(); err != nil {
		return nil, err
	}
	ver, err := d.readReg(RegVersion)
	if err != nil {
		return nil, err
	}
	if ver != ChipVersion {
		return nil, fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrChipMismatch, ver, ChipVersion)
	}
	if err := d.writeReg(RegOpMode, byte(OpModeLongRangeMode|ModeSleep)); err != nil {
		return nil, err
	}
	d.mode = ModeSleep
	d.logf("sx127x: opened, chip version 0x%02x", ver)
	return d, nil
}

// Close does nothing and returns nil; neither the reset pin nor the SPI
// connection is released (periph.io owns SPI bus lifetime, not the driver).
func (d *Driver) Close() error {
	return nil
}

// ResetRadio pulses the hardware reset line (if present) and resets the
// desired/applied settings cache back to documented defaults. It does
// not by itself re-flush those defaults to the chip; call WriteSettings
// afterward.
func (d *Driver) ResetRadio() error {
	if d.reset != nil {
		if err := d.reset.Out(gpio.Low); err != nil {
			return err
		}
		time.Sleep(100 * time.Microsecond)
		if err := d.reset.Out(gpio.High); err != nil {
			return err
		}
		time.Sleep(5 * time.Millisecond)
	}
	d.settings.resetAll()
	return nil
}

func (d *Driver) logf(format string, v ...interface{}) {
	if d.Log != nil {
		d.Log(format, v...)
	}
}

// writeReg writes a single register, matching the teacher's
// sx1276.Radio.writeReg: SPI register writes set the MSB of the
// address byte.
func (d *Driver) writeReg(reg byte, value byte) error {
	w := []byte{reg | 0x80, value}
	r := make([]byte, 2)
	return d.spi.Tx(w, r)
}

// readReg reads a single register.
func (d *Driver) readReg(reg byte) (byte, error) {
	w := []byte{reg & 0x7f, 0}
	r := make([]byte, 2)
	if err := d.spi.Tx(w, r); err != nil {
		return 0, err
	}
	return r[1], nil
}

func (d *Driver) readBurst(reg byte, n int) ([]byte, error) {
	w := make([]byte, n+1)
	w[0] = reg & 0x7f
	r := make([]byte, n+1)
	if err := d.spi.Tx(w, r); err != nil {
		return nil, err
	}
	return r[1:], nil
}

func (d *Driver) writeBurst(reg byte, data []byte) error {
	w := make([]byte, len(data)+1)
	w[0] = reg | 0x80
	copy(w[1:], data)
	r := make([]byte, len(w))
	return d.spi.Tx(w, r)
}

// SetField validates and stages value for field name into the desired
// cache (spec.md §4.A set_field). It is not written to the chip until
// WriteSettings/WriteSleepSettings runs.
func (d *Driver) SetField(name string, value int64) error {
	return d.settings.setField(name, value)
}

// SetFields stages several fields at once.
func (d *Driver) SetFields(values map[string]int64) error {
	return d.settings.setFields(values)
}

// Field returns a staged (desired) field value in caller units.
func (d *Driver) Field(name string) int64 { return d.settings.get(name) }

// RequiresSleep reports whether any staged-but-unapplied field change
// needs the chip moved to ModeSleep before WriteSettings can proceed.
func (d *Driver) RequiresSleep() bool { return d.settings.requiresSleep() }

// WriteMode sets the chip's operating mode immediately (OpMode register
// low 3 bits), preserving the long-range/low-freq bits already staged.
func (d *Driver) WriteMode(mode int64) error {
	lrMode := d.settings.get(FieldLoRaMode)
	lfMode := d.settings.get(FieldLowFreqMode)
	v := byte(mode)
	if lrMode != 0 {
		v |= OpModeLongRangeMode
	}
	if lfMode != 0 {
		v |= OpModeLowFreqMode
	}
	if err := d.writeReg(RegOpMode, v); err != nil {
		return err
	}
	d.mode = mode
	return nil
}

// WriteSleepSettings flushes every changed field that RequiresSleep,
// after first forcing the chip into ModeSleep (spec.md §4.A
// write_sleep_settings). It is a no-op if nothing staged needs it.
func (d *Driver) WriteSleepSettings() error {
	if !d.settings.requiresSleep() {
		return nil
	}
	if d.mode != ModeSleep {
		if err := d.WriteMode(ModeSleep); err != nil {
			return err
		}
	}
	for _, reg := range d.settings.changedRegisters(true) {
		if reg == RegOpMode {
			continue // folded into WriteMode above
		}
		if err := d.writeReg(reg, d.settings.registerByte(reg)); err != nil {
			return err
		}
	}
	for name, f := range d.settings.table {
		if f.requiresSleep {
			d.settings.markApplied(name)
		}
	}
	d.settings.markApplied(FieldLoRaMode)
	return nil
}

// WriteSettings flushes every changed field that does not require
// sleep, including the frequency special-case (errata 2.3 rejection
// offset applied only when forRx is true), matching spec.md §4.A
// write_settings(for_rx).
func (d *Driver) WriteSettings(forRx bool) error {
	if err := d.writeFrequency(forRx); err != nil {
		return err
	}
	for _, reg := range d.settings.changedRegisters(false) {
		if err := d.writeReg(reg, d.settings.registerByte(reg)); err != nil {
			return err
		}
	}
	for name, f := range d.settings.table {
		if !f.requiresSleep && !f.special {
			d.settings.markApplied(name)
		}
	}
	return nil
}

// FifoReset points the FIFO pointer at the TX base address, the usual
// prelude to filling the FIFO for a transmit. RegPayloadLength is left
// as it is.
func (d *Driver) FifoReset() error {
	base, err := d.readReg(RegFifoTxBase)
	if err != nil {
		return err
	}
	return d.writeReg(RegFifoAddrPtr, base)
}

// WriteFIFO loads payload bytes into the chip's FIFO and sets
// RegPayloadLength to match, ready for a TX mode transition.
func (d *Driver) WriteFIFO(payload []byte) error {
	if len(payload) > 255 {
		return fmt.Errorf("sx127x: payload too long: %d bytes", len(payload))
	}
	if err := d.FifoReset(); err != nil {
		return err
	}
	if err := d.writeBurst(RegFifo, payload); err != nil {
		return err
	}
	return d.writeReg(RegPayloadLength, byte(len(payload)))
}

// ReadLoRaRxd reads and clears the IRQ flags, decides whether this was
// a good reception (RxDone set, neither RxTimeout nor PayloadCrcErr),
// and if so pulls the frame bytes plus RSSI/SNR out of the chip, using
// its own byte-count and current-FIFO-address registers so the read is
// exactly as long as what's there — no length prefix is ever needed on
// the wire (see DESIGN.md's Open Questions resolution). On a bad
// reception, frame is nil but rssi/snr are still returned. flags is
// whatever error bits remain after masking off RxDone, per spec.md
// §4.A read_lora_rxd.
func (d *Driver) ReadLoRaRxd() (frame []byte, rssiDBm int32, snrDB float32, flags byte, err error) {
	raw, err := d.readReg(RegIrqFlags)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	if err := d.writeReg(RegIrqFlags, raw); err != nil {
		return nil, 0, 0, 0, err
	}
	if raw&IrqRxTimeout != 0 {
		d.Stats.RxTimeouts++
	}
	if raw&IrqPayloadCrcErr != 0 {
		d.Stats.CrcErrors++
	}
	goodRx := raw&IrqRxDone != 0 && raw&IrqRxTimeout == 0 && raw&IrqPayloadCrcErr == 0
	flags = raw &^ IrqRxDone

	snrRaw, err := d.readReg(RegPktSnrValue)
	if err != nil {
		return nil, 0, 0, flags, err
	}
	snrDB = float32(int8(snrRaw)) / 4

	rssiRaw, err := d.readReg(RegPktRssiValue)
	if err != nil {
		return nil, 0, 0, flags, err
	}
	rssiDBm = -157 + int32(rssiRaw)

	if !goodRx {
		return nil, rssiDBm, snrDB, flags, nil
	}

	n, err := d.readReg(RegRxNbBytes)
	if err != nil {
		return nil, rssiDBm, snrDB, flags, err
	}
	cur, err := d.readReg(RegFifoRxCurrent)
	if err != nil {
		return nil, rssiDBm, snrDB, flags, err
	}
	if err := d.writeReg(RegFifoAddrPtr, cur); err != nil {
		return nil, rssiDBm, snrDB, flags, err
	}
	frame, err = d.readBurst(RegFifo, int(n))
	if err != nil {
		return nil, rssiDBm, snrDB, flags, err
	}
	return frame, rssiDBm, snrDB, flags, nil
}

// ReadIRQ reads and then clears the IRQ flags register, returning the
// flags observed before clearing. Used for early interrupt triage
// (e.g. ValidHeader) before a reception has fully completed; the final
// read of a completed reception goes through ReadLoRaRxd instead.
func (d *Driver) ReadIRQ() (byte, error) {
	flags, err := d.readReg(RegIrqFlags)
	if err != nil {
		return 0, err
	}
	if err := d.writeReg(RegIrqFlags, flags); err != nil {
		return 0, err
	}
	if flags&IrqRxTimeout != 0 {
		d.Stats.RxTimeouts++
	}
	if flags&IrqPayloadCrcErr != 0 {
		d.Stats.CrcErrors++
	}
	return flags, nil
}

// ResetRxFifo points the FIFO pointer at 0, the prelude spec.md §4.B
// listening requires before a reception begins.
func (d *Driver) ResetRxFifo() error {
	return d.writeReg(RegFifoAddrPtr, 0)
}

// WriteDioMapping1 writes RegDioMapping1 directly, bypassing the
// settings cache since DIO routing is control-plane, not an RF field
// with a documented reset value that needs desired/applied tracking.
func (d *Driver) WriteDioMapping1(value byte) error {
	return d.writeReg(RegDioMapping1, value)
}

// WriteIrqMask enables exactly the IRQ bits set in unmasked and masks
// every other one, matching the chip's "1 masks the IRQ" convention.
func (d *Driver) WriteIrqMask(unmasked byte) error {
	return d.writeReg(RegIrqFlagsMask, ^unmasked)
}

// WriteDioMapping2 writes RegDioMapping2 directly (DIO4/DIO5
// selectors), for the same reason WriteDioMapping1 bypasses the
// settings cache.
func (d *Driver) WriteDioMapping2(value byte) error {
	return d.writeReg(RegDioMapping2, value)
}

// UpdateNoise folds one wideband-RSSI sample (RegRssiWideband, raw
// units) into the running noise-floor estimate.
func (d *Driver) UpdateNoise() error {
	raw, err := d.readReg(RegRssiWideband)
	if err != nil {
		return err
	}
	d.noiseAccum += float64(raw)
	d.noiseCount++
	return nil
}

// Noise returns the mean of every sample folded in by UpdateNoise since
// the last call, in the chip's raw RSSI-wideband units, and resets the
// accumulator.
func (d *Driver) Noise() float64 {
	if d.noiseCount == 0 {
		return 0
	}
	mean := d.noiseAccum / float64(d.noiseCount)
	d.noiseAccum, d.noiseCount = 0, 0
	return mean
}

// OnAirTime computes the LoRa symbol-level on-air duration for a packet
// of payloadLen bytes under the driver's currently staged modem
// settings, per the Semtech datasheet formula (spec.md §4.A). CRC and
// implicit-header are read from their staged fields; n_preamble and DE
// are taken as their reset value of 0 rather than the live staged
// fields, matching calc_on_air_time.
func (d *Driver) OnAirTime(payloadLen int) time.Duration {
	sf := float64(d.settings.get(FieldSpreadingFactor))
	bw := float64(d.settings.get(FieldBandwidth))
	cr := float64(d.settings.get(FieldCodingRate))
	crc := float64(d.settings.get(FieldCRCOn))
	ih := float64(d.settings.get(FieldImplicitHeader))
	de := 0.0
	preamble := 0.0

	tSym := math.Pow(2, sf) / bw * 1000 // ms

	num := 2*float64(payloadLen) - sf + 7 + 4*crc - 5*ih
	denom := sf - 2*de
	term := math.Ceil(num/denom) * (cr + 4)
	if term < 0 {
		term = 0
	}
	nPayload := 8 + term

	tPkt := (4.25 + preamble + nPayload) * tSym
	return time.Duration(tPkt * float64(time.Millisecond))
}
