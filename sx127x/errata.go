package sx127x

// ifFreq2LUT and rejectionOffsetHzLUT are SX1276 errata note 2.3's
// per-bandwidth IF-frequency byte and RX rejection offset, indexed by
// the same BW code as the bandwidths table (codes 0-8; code 9,
// BW=500kHz, uses automatic IF instead and isn't in either table).
var ifFreq2LUT = [9]byte{0x48, 0x44, 0x44, 0x44, 0x44, 0x44, 0x40, 0x40, 0x40}
var rejectionOffsetHzLUT = [9]int64{7810, 10420, 15620, 20830, 31250, 41670, 0, 0, 0}

// writeFrequency applies the FLD_RDO_FREQ special case: the raw FRF
// register code, with SX1276 errata 2.3's bandwidth-dependent RX
// rejection offset folded in when forRx is true and the bandwidth is
// narrow enough to need it. At BW >= 500kHz the errata instead calls
// for enabling automatic IF calculation rather than an offset, so no
// offset is added there.
func (d *Driver) writeFrequency(forRx bool) error {
	name := FieldFrequency
	bw := d.settings.get(FieldBandwidth)
	bwCode, _ := bwCodeForHz(bw)
	autoIF := bw >= 500000

	if !d.settings.changed(name) && !d.settings.changed(FieldBandwidth) &&
		forRx == d.lastForRx && autoIF == d.applied500kAutoIF {
		return nil
	}
	freq := d.settings.get(name)

	offset := int64(0)
	if forRx && !autoIF {
		offset = errataRejectionOffset(bwCode)
	}

	frf := freqToFrf(freq + offset)
	if err := d.writeReg(RegFrfMsb, byte(frf>>16)); err != nil {
		return err
	}
	if err := d.writeReg(RegFrfMid, byte(frf>>8)); err != nil {
		return err
	}
	if err := d.writeReg(RegFrfLsb, byte(frf)); err != nil {
		return err
	}

	if err := d.writeErrataHF(autoIF, bwCode); err != nil {
		return err
	}
	d.applied500kAutoIF = autoIF
	d.lastForRx = forRx

	d.settings.markApplied(name)
	return nil
}

// errataRejectionOffset returns the frequency, in Hz, to add before
// converting to an FRF code when receiving at the given bandwidth code
// (SX1276 errata note 2.3, rejection_offset_hz_lut).
func errataRejectionOffset(bwCode int64) int64 {
	if bwCode < 0 || int(bwCode) >= len(rejectionOffsetHzLUT) {
		return 0
	}
	return rejectionOffsetHzLUT[bwCode]
}

// writeErrataHF writes the per-bandwidth IF-frequency byte to
// RegErrataHf1 (REG_LORA_IF_FREQ_2), or its automatic-IF reset value
// when auto is set, and toggles only the automatic-IF bit of
// RegErrataHf2 (REG_LORA_DTCT_OPTMZ), leaving the register's other
// bits as found, per SX1276 errata note 2.3.
func (d *Driver) writeErrataHF(auto bool, bwCode int64) error {
	ifFreq2 := byte(0x20) // automatic-IF reset value
	if !auto && bwCode >= 0 && int(bwCode) < len(ifFreq2LUT) {
		ifFreq2 = ifFreq2LUT[bwCode]
	}
	if err := d.writeReg(RegErrataHf1, ifFreq2); err != nil {
		return err
	}
	v2, err := d.readReg(RegErrataHf2)
	if err != nil {
		return err
	}
	v2 &^= 0x80
	if auto {
		v2 |= 0x80
	}
	return d.writeReg(RegErrataHf2, v2)
}
