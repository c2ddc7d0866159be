package frame

import "encoding/binary"

// Serialize encodes f into wire bytes, re-validating Fctl/field
// consistency first (spec.md §4.C: "serializing re-validates").
func (f *Frame) Serialize() ([]byte, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 32)
	buf = append(buf, f.PID, f.Fctl)

	if f.Fctl&FctlX != 0 {
		buf = append(buf, f.Payload...)
		if len(buf) > MaxFrameLen {
			return nil, structErr("serialized length %d exceeds %d", len(buf), MaxFrameLen)
		}
		return buf, nil
	}

	if f.Fctl&FctlN != 0 {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], *f.NetID)
		buf = append(buf, b[:]...)
	}
	if f.Fctl&FctlD != 0 {
		buf = append(buf, f.Daddr...)
	}
	if f.Fctl&FctlI != 0 {
		var err error
		buf, err = encodeIESeq(buf, f.HeaderIEs, false)
		if err != nil {
			return nil, err
		}
		buf, err = encodeIESeq(buf, f.PayloadIEs, true)
		if err != nil {
			return nil, err
		}
	}
	if f.Fctl&FctlS != 0 {
		buf = append(buf, f.Saddr...)
	}
	buf = append(buf, f.Payload...)
	buf = append(buf, f.MIC...)
	if f.Fctl&FctlM != 0 {
		buf = append(buf, f.Hops)
		buf = append(buf, f.Taddr...)
	}

	if len(buf) > MaxFrameLen {
		return nil, structErr("serialized length %d exceeds %d", len(buf), MaxFrameLen)
	}
	return buf, nil
}
