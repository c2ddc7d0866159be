package sx127x

import "fmt"

// fieldSpec describes one named settings field: which register(s) it
// lives in, the bit slice within those registers, its legal range, its
// power-on-reset value, and whether changing it requires the chip to be
// in SLEEP mode first (spec.md §3, §4.A requires_sleep predicate).
//
// A field with len(regs) == 1 is a plain sub-byte bitfield (shift,
// width within that one register). A field with len(regs) > 1 is a
// pure multi-byte numeric value split MSB-first across its registers;
// shift only ever applies to the last (lowest-order) register, which
// covers both "sub-byte field sharing a register with others" (regs
// has 1 entry) and "value spans a register partially plus a dedicated
// byte" (e.g. the 10-bit symbol timeout: 2 bits in ModemConfig2, 8
// bits in its own register).
type fieldSpec struct {
	regs          []byte
	shift         uint
	width         uint
	min, max      int64
	reset         int64
	requiresSleep bool
	special       bool // true: excluded from the generic register-combine flush (frequency only)
	// encode converts a caller-facing value (e.g. bandwidth in Hz) to
	// the raw bit pattern written to the register; nil means identity.
	// desired/applied always hold caller-facing values, never raw
	// register bit patterns, so only rawValue's encode direction is
	// needed; there is no corresponding decode step.
	encode func(int64) int64
}

func (f *fieldSpec) rawValue(v int64) int64 {
	if f.encode != nil {
		return f.encode(v)
	}
	return v
}

// Field names, matching the FLD_RDO_* convention spec.md implies.
const (
	FieldFrequency           = "FLD_RDO_FREQ"
	FieldLoRaMode            = "FLD_RDO_LORA_MODE"
	FieldLowFreqMode         = "FLD_RDO_LOW_FREQ_MODE"
	FieldPASelect            = "FLD_RDO_PA_SELECT"
	FieldOutputPower         = "FLD_RDO_OUTPUT_POWER"
	FieldLnaGain             = "FLD_RDO_LNA_GAIN"
	FieldLnaBoostHF          = "FLD_RDO_LNA_BOOST_HF"
	FieldBandwidth           = "FLD_RDO_BW"
	FieldCodingRate          = "FLD_RDO_CODING_RATE"
	FieldImplicitHeader      = "FLD_RDO_IMPLICIT_HEADER"
	FieldSpreadingFactor     = "FLD_RDO_SPREADING_FACTOR"
	FieldCRCOn               = "FLD_RDO_CRC_ON"
	FieldSymbolTimeout       = "FLD_RDO_SYMB_TIMEOUT"
	FieldPreambleLen         = "FLD_RDO_PREAMBLE_LEN"
	FieldPayloadLen          = "FLD_RDO_PAYLOAD_LEN"
	FieldAGCAutoOn           = "FLD_RDO_AGC_AUTO_ON"
	FieldLowDataRateOptimize = "FLD_RDO_LOW_DATA_RATE_OPTIMIZE"
	FieldSyncWord            = "FLD_RDO_SYNC_WORD"
)

func bandwidthEncode(hz int64) int64 {
	code, ok := bwCodeForHz(hz)
	if !ok {
		return 7 // 125kHz, should not happen: SetField validates against bandwidths first
	}
	return code
}

// newFieldTable builds the canonical settings table described in
// spec.md §3. It is built fresh for every Driver so that the
// desired/applied maps below (which store copies of these reset
// values) never alias between Driver instances.
func newFieldTable() map[string]*fieldSpec {
	return map[string]*fieldSpec{
		FieldFrequency: {
			special: true, min: 137000000, max: 1020000000, reset: 0,
		},
		FieldLoRaMode: {
			regs: []byte{RegOpMode}, shift: 7, width: 1,
			min: 0, max: 1, reset: 0, requiresSleep: true,
		},
		FieldLowFreqMode: {
			regs: []byte{RegOpMode}, shift: 3, width: 1,
			min: 0, max: 1, reset: 1,
		},
		FieldPASelect: {
			regs: []byte{RegPaConfig}, shift: 7, width: 1,
			min: 0, max: 1, reset: 0,
		},
		FieldOutputPower: {
			regs: []byte{RegPaConfig}, shift: 0, width: 4,
			min: 0, max: 15, reset: 15,
		},
		FieldLnaGain: {
			regs: []byte{RegLna}, shift: 5, width: 3,
			min: 1, max: 6, reset: 1,
		},
		FieldLnaBoostHF: {
			regs: []byte{RegLna}, shift: 0, width: 2,
			min: 0, max: 3, reset: 0,
		},
		FieldBandwidth: {
			regs: []byte{RegModemConfig1}, shift: 4, width: 4,
			min: 7800, max: 500000, reset: 125000,
			encode: bandwidthEncode,
		},
		FieldCodingRate: {
			regs: []byte{RegModemConfig1}, shift: 1, width: 3,
			min: 1, max: 4, reset: 1,
		},
		FieldImplicitHeader: {
			regs: []byte{RegModemConfig1}, shift: 0, width: 1,
			min: 0, max: 1, reset: 0,
		},
		FieldSpreadingFactor: {
			regs: []byte{RegModemConfig2}, shift: 4, width: 4,
			min: 6, max: 12, reset: 7,
		},
		FieldCRCOn: {
			regs: []byte{RegModemConfig2}, shift: 2, width: 1,
			min: 0, max: 1, reset: 1,
		},
		FieldSymbolTimeout: {
			regs: []byte{RegModemConfig2, RegSymbTimeoutLsb}, shift: 0, width: 10,
			min: 0, max: 1023, reset: 0x64,
		},
		FieldPreambleLen: {
			regs: []byte{RegPreambleMsb, RegPreambleLsb}, shift: 0, width: 16,
			min: 0, max: 0xffff, reset: 0,
		},
		FieldPayloadLen: {
			regs: []byte{RegPayloadLength}, shift: 0, width: 8,
			min: 0, max: 255, reset: 0,
		},
		FieldAGCAutoOn: {
			regs: []byte{RegModemConfig3}, shift: 2, width: 1,
			min: 0, max: 1, reset: 0,
		},
		FieldLowDataRateOptimize: {
			regs: []byte{RegModemConfig3}, shift: 3, width: 1,
			min: 0, max: 1, reset: 0,
		},
		FieldSyncWord: {
			regs: []byte{RegSyncWord}, shift: 0, width: 8,
			min: 0, max: 0xff, reset: 0x12, // true silicon reset; Heymac overlays 0x48 at config time
		},
	}
}

// settings holds the desired/applied field caches described in
// spec.md §3 and §4.A.
type settings struct {
	table   map[string]*fieldSpec
	desired map[string]int64
	applied map[string]int64
}

func newSettings() *settings {
	s := &settings{table: newFieldTable(), desired: map[string]int64{}, applied: map[string]int64{}}
	s.resetAll()
	return s
}

// resetAll sets every field's desired and applied value back to its
// documented reset value, as if the chip had just come out of RESET
// (Driver.ResetRadio).
func (s *settings) resetAll() {
	for name, f := range s.table {
		s.desired[name] = f.reset
		s.applied[name] = f.reset
	}
}

// setField validates value against the field's bounds and stores it in
// the desired cache only (spec.md §4.A set_field).
func (s *settings) setField(name string, value int64) error {
	f, ok := s.table[name]
	if !ok {
		return fmt.Errorf("sx127x: unknown setting %q", name)
	}
	if value < f.min || value > f.max {
		return fmt.Errorf("sx127x: %s=%d out of range [%d,%d]", name, value, f.min, f.max)
	}
	s.desired[name] = value
	return nil
}

func (s *settings) setFields(values map[string]int64) error {
	for name, value := range values {
		if err := s.setField(name, value); err != nil {
			return err
		}
	}
	return nil
}

// changed reports whether a field's desired value differs from its
// last-applied value.
func (s *settings) changed(name string) bool {
	return s.desired[name] != s.applied[name]
}

// requiresSleep reports whether any changed field needs the chip in
// SLEEP mode before it can be written.
func (s *settings) requiresSleep() bool {
	for name, f := range s.table {
		if f.requiresSleep && s.changed(name) {
			return true
		}
	}
	return false
}

// changedRegisters returns, for the fields selected by sleepOnly (true:
// only fields that require sleep; false: only fields that do not), the
// set of non-special register addresses touched by at least one
// changed field among them.
func (s *settings) changedRegisters(sleepOnly bool) []byte {
	seen := map[byte]bool{}
	var regs []byte
	for name, f := range s.table {
		if f.special || f.requiresSleep != sleepOnly {
			continue
		}
		if !s.changed(name) {
			continue
		}
		for _, r := range f.regs {
			if !seen[r] {
				seen[r] = true
				regs = append(regs, r)
			}
		}
	}
	return regs
}

// registerByte recomputes the byte that should be written to reg by
// combining the (possibly several) fields mapped onto it, sourced from
// the desired cache.
func (s *settings) registerByte(reg byte) byte {
	var v byte
	for name, f := range s.table {
		if f.special {
			continue
		}
		for i, r := range f.regs {
			if r != reg {
				continue
			}
			raw := f.rawValue(s.desired[name])
			v |= fieldByteAt(raw, f.width, len(f.regs), i, f.shift)
		}
	}
	return v
}

// fieldByteAt returns the contribution a field with the given total
// bit width, spread across nregs registers, makes to register index i
// (0 = most significant), with shift applied only to the last
// register's byte.
func fieldByteAt(raw int64, width uint, nregs int, i int, shift uint) byte {
	v := uint64(raw)
	bitsHere := uint(8)
	if i == 0 {
		bitsHere = width - 8*uint(nregs-1)
	}
	// Figure out how many low bits of v remain below this register's
	// chunk: every register after i (i.e. closer to the LSB) holds 8
	// bits each, except there is exactly one LSB register.
	lowBits := uint(0)
	if nregs-1-i > 0 {
		lowBits = 8 * uint(nregs-1-i)
	}
	mask := uint64(1)<<bitsHere - 1
	b := byte((v >> lowBits) & mask)
	if i == nregs-1 {
		b <<= shift
	}
	return b
}

// markApplied copies a field's desired value into applied after a
// successful register write.
func (s *settings) markApplied(name string) {
	s.applied[name] = s.desired[name]
}

// get returns a field's current desired value in caller units. desired
// and applied are always stored in caller units (set_field and
// resetAll never encode); only registerByte's rawValue converts to the
// register bit pattern, when producing the byte actually written.
func (s *settings) get(name string) int64 {
	return s.desired[name]
}

func (s *settings) getApplied(name string) int64 {
	return s.applied[name]
}
