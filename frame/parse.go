package frame

import "encoding/binary"

// Parse decodes wire bytes into a Frame, following spec.md §4.C's
// ten-step procedure, or returns a StructureError.
func Parse(data []byte) (*Frame, error) {
	if len(data) < 2 {
		return nil, structErr("frame shorter than PID+Fctl")
	}
	if len(data) > MaxFrameLen {
		return nil, structErr("frame length %d exceeds %d", len(data), MaxFrameLen)
	}

	f := &Frame{PID: data[0], Fctl: data[1]}
	if f.PID&PIDHeymacMask != PIDHeymac {
		return nil, structErr("PID upper nibble is not Heymac: %#02x", f.PID)
	}
	if subProto := f.PID &^ PIDHeymacMask; subProto != PIDTDMA&^PIDHeymacMask && subProto != PIDCSMA&^PIDHeymacMask {
		return nil, structErr("reserved sub-protocol: %#02x", f.PID)
	}
	pos := 2

	if f.Fctl&FctlX != 0 {
		f.Payload = append([]byte(nil), data[pos:]...)
		return f, nil
	}

	size := f.addrSize()

	if f.Fctl&FctlN != 0 {
		if pos+2 > len(data) {
			return nil, structErr("truncated NetId")
		}
		id := binary.BigEndian.Uint16(data[pos : pos+2])
		f.NetID = &id
		pos += 2
	}
	if f.Fctl&FctlD != 0 {
		if pos+size > len(data) {
			return nil, structErr("truncated Daddr")
		}
		f.Daddr = append([]byte(nil), data[pos:pos+size]...)
		pos += size
	}
	if f.Fctl&FctlI != 0 {
		hdr, n, err := decodeIESeq(data[pos:], false)
		if err != nil {
			return nil, err
		}
		pos += n
		pie, n, err := decodeIESeq(data[pos:], true)
		if err != nil {
			return nil, err
		}
		pos += n
		f.HeaderIEs, f.PayloadIEs = hdr, pie
	}
	if f.Fctl&FctlS != 0 {
		if pos+size > len(data) {
			return nil, structErr("truncated Saddr")
		}
		f.Saddr = append([]byte(nil), data[pos:pos+size]...)
		pos += size
	}

	tail := data[pos:]
	micLen := 0
	for _, ie := range f.PayloadIEs {
		if ie.Subtype == IEMIC && len(ie.Data) == 2 {
			micLen = int(ie.Data[1] & 0x0f)
		}
	}
	multihopLen := 0
	if f.Fctl&FctlM != 0 {
		multihopLen = 1 + size
	}
	payloadLen := len(tail) - micLen - multihopLen
	if payloadLen < 0 {
		return nil, structErr("tail too short for declared MIC/multi-hop trailer")
	}

	f.Payload = append([]byte(nil), tail[:payloadLen]...)
	rest := tail[payloadLen:]
	f.MIC = append([]byte(nil), rest[:micLen]...)
	rest = rest[micLen:]

	if f.Fctl&FctlM != 0 {
		f.Hops = rest[0]
		f.Taddr = append([]byte(nil), rest[1:1+size]...)
		rest = rest[1+size:]
	}

	if len(rest) != 0 {
		return nil, structErr("unconsumed trailing bytes")
	}
	return f, nil
}
