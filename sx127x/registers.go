// Copyright 2016 by Thorsten von Eicken, see LICENSE file
// Adapted for the SX127x Heymac PHY driver.

package sx127x

// Register addresses, all SX127x LoRa-mode (spec.md §6).
const (
	RegFifo          = 0x00
	RegOpMode        = 0x01
	RegFrfMsb        = 0x06
	RegFrfMid        = 0x07
	RegFrfLsb        = 0x08
	RegPaConfig      = 0x09
	RegOcp           = 0x0B
	RegLna           = 0x0C
	RegFifoAddrPtr   = 0x0D
	RegFifoTxBase    = 0x0E
	RegFifoRxBase    = 0x0F
	RegFifoRxCurrent = 0x10
	RegIrqFlagsMask  = 0x11
	RegIrqFlags      = 0x12
	RegRxNbBytes     = 0x13
	RegModemStat     = 0x18
	RegPktSnrValue   = 0x19
	RegPktRssiValue  = 0x1A
	RegRssiValue     = 0x1B
	RegModemConfig1  = 0x1D
	RegModemConfig2  = 0x1E
	RegSymbTimeoutLsb = 0x1F
	RegPreambleMsb   = 0x20
	RegPreambleLsb   = 0x21
	RegPayloadLength = 0x22
	RegMaxPayloadLen = 0x23
	RegModemConfig3  = 0x26
	RegRssiWideband  = 0x2C
	RegErrataHf1     = 0x2F // spec.md §6: errata registers
	RegErrataHf2     = 0x31
	RegSyncWord      = 0x39
	RegDioMapping1   = 0x40
	RegDioMapping2   = 0x41
	RegVersion       = 0x42
)

// ChipVersion is the value a functional SX127x part returns from
// RegVersion.
const ChipVersion = 0x12

// Operating modes (OpMode register bits 2-0).
const (
	ModeSleep = iota
	ModeStandby
	ModeFsTx
	ModeTx
	ModeFsRx
	ModeRxCont
	ModeRxOnce
	ModeCad
)

// OpMode register bits outside the mode field.
const (
	OpModeLongRangeMode = 1 << 7 // LoRa mode select
	OpModeLowFreqMode   = 1 << 3
)

// IRQ flag bits (RegIrqFlags / RegIrqFlagsMask).
const (
	IrqRxTimeout     = 1 << 7
	IrqRxDone        = 1 << 6
	IrqPayloadCrcErr = 1 << 5
	IrqValidHeader   = 1 << 4
	IrqTxDone        = 1 << 3
	IrqCadDone       = 1 << 2
	IrqFhssChangeChannel = 1 << 1
	IrqCadDetected   = 1 << 0
)

// bandwidths is the LoRa bandwidth table, indexed by the 4-bit
// RegModemConfig1 BW code, values in Hz.
var bandwidths = [10]int64{
	7800, 10400, 15600, 20800, 31250, 41700, 62500, 125000, 250000, 500000,
}

func bwCodeForHz(hz int64) (code int64, ok bool) {
	for i, v := range bandwidths {
		if v == hz {
			return int64(i), true
		}
	}
	return 0, false
}

func bwHzForCode(code int64) int64 {
	if code < 0 || int(code) >= len(bandwidths) {
		return 0
	}
	return bandwidths[code]
}

// FXOSC is the SX127x reference crystal frequency in Hz, used to
// convert a desired RF frequency into the 24-bit FRF register code:
// frf = freqHz * 2^19 / FXOSC.
const FXOSC = 32000000

const frfStep = 1 << 19

func freqToFrf(hz int64) uint32 {
	// round to nearest, matching the testable property in spec.md §8.
	num := uint64(hz) * frfStep
	return uint32((num + FXOSC/2) / FXOSC)
}
