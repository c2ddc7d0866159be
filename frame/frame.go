// Package frame implements the Heymac link-layer wire format: PID,
// Fctl, variable addressing, an IE sequence, payload, MIC, and an
// optional multi-hop trailer, plus the command catalog carried in the
// payload.
//
// The builder/parser shape follows the teacher's sx1276/jll.go
// JLLEncode/JLLDecode pair: a constructor plus setters that validate as
// they go, and a matching parser that checks lengths before slicing.
package frame

import "fmt"

// Fctl bit flags (spec.md §6).
const (
	FctlX byte = 0x80 // extended: rest of frame is raw payload
	FctlL byte = 0x40 // long (8-byte) addresses vs short (2-byte)
	FctlN byte = 0x20 // NetId present
	FctlD byte = 0x10 // Daddr present
	FctlI byte = 0x08 // IE sequence present
	FctlS byte = 0x04 // Saddr present
	FctlM byte = 0x02 // multi-hop fields (Hops, Taddr) present
	FctlP byte = 0x01 // pending frame follows
)

// PID values.
const (
	PIDHeymacMask = 0xF0
	PIDHeymac     = 0xE0
	PIDCSMA       = 0xE4
	PIDTDMA       = 0xE0
)

// StructureError reports a Heymac frame build/parse violation, the
// FrameStructureError taxonomy entry of spec.md §7.
type StructureError struct {
	Reason string
}

func (e *StructureError) Error() string { return "frame: " + e.Reason }

func structErr(format string, v ...interface{}) error {
	return &StructureError{Reason: fmt.Sprintf(format, v...)}
}

// MaxFrameLen is the largest a serialized Heymac frame may be.
const MaxFrameLen = 256

// Frame is a parsed or in-progress Heymac frame. Addresses are nil when
// absent; IEs and Payload/MIC are nil slices when absent. Build it with
// New and the With* setters, or obtain one from Parse.
type Frame struct {
	PID  byte
	Fctl byte

	NetID *uint16
	Daddr []byte
	Saddr []byte

	HeaderIEs  []IE
	PayloadIEs []IE

	Payload []byte
	MIC     []byte

	Hops  byte
	Taddr []byte
}

// New starts a frame with the given PID; Fctl starts at 0 and is set
// incrementally by the With* setters.
func New(pid byte) *Frame {
	return &Frame{PID: pid}
}

// addrSize returns the address length implied by Fctl.L: 8 if set, 2
// otherwise.
func (f *Frame) addrSize() int {
	if f.Fctl&FctlL != 0 {
		return 8
	}
	return 2
}

// WithLongAddrs sets or clears Fctl.L. It must be called before any
// address setter if the frame needs 8-byte addresses; existing
// addresses are not retroactively validated.
func (f *Frame) WithLongAddrs(long bool) *Frame {
	if long {
		f.Fctl |= FctlL
	} else {
		f.Fctl &^= FctlL
	}
	return f
}

// WithNetID sets the 2-byte network id and lights Fctl.N.
func (f *Frame) WithNetID(id uint16) *Frame {
	f.NetID = &id
	f.Fctl |= FctlN
	return f
}

// WithDaddr sets the destination address; addr must be 2 or 8 bytes
// and match Fctl.L. Lights Fctl.D. A nil/empty addr clears Fctl.D.
func (f *Frame) WithDaddr(addr []byte) *Frame {
	f.Daddr = addr
	if len(addr) == 0 {
		f.Fctl &^= FctlD
	} else {
		f.Fctl |= FctlD
	}
	return f
}

// WithSaddr sets the source address, mirroring WithDaddr.
func (f *Frame) WithSaddr(addr []byte) *Frame {
	f.Saddr = addr
	if len(addr) == 0 {
		f.Fctl &^= FctlS
	} else {
		f.Fctl |= FctlS
	}
	return f
}

// WithIEs sets the header and payload IE sequences and lights Fctl.I.
// Passing both nil clears Fctl.I.
func (f *Frame) WithIEs(header, payload []IE) *Frame {
	f.HeaderIEs = header
	f.PayloadIEs = payload
	if len(header) == 0 && len(payload) == 0 {
		f.Fctl &^= FctlI
	} else {
		f.Fctl |= FctlI
	}
	return f
}

// WithPayload sets the frame payload bytes.
func (f *Frame) WithPayload(p []byte) *Frame {
	f.Payload = p
	return f
}

// WithMIC sets the trailing MIC bytes.
func (f *Frame) WithMIC(mic []byte) *Frame {
	f.MIC = mic
	return f
}

// WithMultiHop sets the multi-hop trailer (Hops, Taddr) and lights
// Fctl.M. Taddr must match the frame's address size.
func (f *Frame) WithMultiHop(hops byte, taddr []byte) *Frame {
	f.Hops = hops
	f.Taddr = taddr
	f.Fctl |= FctlM
	return f
}

// WithRaw sets Fctl.X and a raw payload; every other field is cleared,
// since X means the rest of the frame is opaque.
func (f *Frame) WithRaw(payload []byte) *Frame {
	*f = Frame{PID: f.PID, Fctl: FctlX, Payload: payload}
	return f
}

func validAddrLen(n int) bool { return n == 2 || n == 8 }

// validate checks Fctl/field consistency without serializing, per
// spec.md §3's invariant list.
func (f *Frame) validate() error {
	if f.PID&PIDHeymacMask != PIDHeymac {
		return structErr("PID upper nibble is not Heymac: %#02x", f.PID)
	}
	if subProto := f.PID &^ PIDHeymacMask; subProto != PIDTDMA&^PIDHeymacMask && subProto != PIDCSMA&^PIDHeymacMask {
		return structErr("reserved sub-protocol: %#02x", f.PID)
	}
	if f.Fctl&FctlX != 0 {
		if f.Fctl&^FctlX != 0 || f.NetID != nil || len(f.Daddr) != 0 || len(f.Saddr) != 0 ||
			len(f.HeaderIEs) != 0 || len(f.PayloadIEs) != 0 || len(f.MIC) != 0 || len(f.Taddr) != 0 {
			return structErr("Fctl.X set alongside structured fields")
		}
		return nil
	}

	size := f.addrSize()
	if (f.Fctl&FctlN != 0) != (f.NetID != nil) {
		return structErr("Fctl.N inconsistent with NetId presence")
	}
	if (f.Fctl&FctlD != 0) != (len(f.Daddr) != 0) {
		return structErr("Fctl.D inconsistent with Daddr presence")
	}
	if len(f.Daddr) != 0 && !validAddrLen(len(f.Daddr)) {
		return structErr("Daddr length %d invalid", len(f.Daddr))
	}
	if len(f.Daddr) != 0 && len(f.Daddr) != size {
		return structErr("Daddr length %d does not match Fctl.L", len(f.Daddr))
	}
	if (f.Fctl&FctlS != 0) != (len(f.Saddr) != 0) {
		return structErr("Fctl.S inconsistent with Saddr presence")
	}
	if len(f.Saddr) != 0 && !validAddrLen(len(f.Saddr)) {
		return structErr("Saddr length %d invalid", len(f.Saddr))
	}
	if len(f.Saddr) != 0 && len(f.Saddr) != size {
		return structErr("Saddr length %d does not match Fctl.L", len(f.Saddr))
	}
	if (f.Fctl&FctlI != 0) != (len(f.HeaderIEs) != 0 || len(f.PayloadIEs) != 0) {
		return structErr("Fctl.I inconsistent with IE presence")
	}
	if f.Fctl&FctlL != 0 {
		if len(f.Daddr) == 0 && len(f.Saddr) == 0 && len(f.Taddr) == 0 {
			return structErr("Fctl.L set but no address field present")
		}
	}
	if f.Fctl&FctlM != 0 {
		if len(f.Taddr) == 0 {
			return structErr("Fctl.M set but Taddr missing")
		}
		if len(f.Taddr) != size {
			return structErr("Taddr length %d does not match Fctl.L", len(f.Taddr))
		}
	} else if len(f.Taddr) != 0 {
		return structErr("Taddr present but Fctl.M not set")
	}
	return nil
}
