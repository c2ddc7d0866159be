package frame

import (
	"encoding/binary"
	"fmt"
)

// Command ids (spec.md §3's catalog table); the top two bits of a
// command's first payload byte are always the prefix 0b10.
const (
	cmdPrefix = 0x80
	cmdMask   = 0xc0

	CmdText         byte = 1
	CmdBeacon       byte = 2
	CmdNeighborData byte = 4
	CmdJoin         byte = 5
)

// Join sub-ids.
const (
	JoinRequest byte = 1
	JoinAccept  byte = 2
	JoinConfirm byte = 3
	JoinReject  byte = 4
)

// Beacon capability bits.
const (
	CapPWR    uint16 = 1
	CapRXCONT uint16 = 2
)

// CommandError is the CommandStructureError taxonomy entry of spec.md
// §7: a known command whose body is too short for its fixed format.
type CommandError struct {
	Reason string
}

func (e *CommandError) Error() string { return "command: " + e.Reason }

func cmdErr(format string, v ...interface{}) error {
	return &CommandError{Reason: fmt.Sprintf(format, v...)}
}

// Command is any Heymac command-catalog payload.
type Command interface {
	// Encode appends this command's wire bytes (prefix byte, optional
	// sub-id, body) to buf and returns the result.
	Encode(buf []byte) []byte
}

// TextCmd is command id 1: a length-prefixed UTF-8 message.
type TextCmd struct{ Message string }

func (c TextCmd) Encode(buf []byte) []byte {
	buf = append(buf, cmdPrefix|CmdText, byte(len(c.Message)))
	return append(buf, c.Message...)
}

// BeaconCmd is command id 2.
type BeaconCmd struct {
	Capabilities uint16
	Status       uint16
	Callsign     string // encoded/decoded against a fixed 16-byte field
	PubKey       [96]byte
}

func (c BeaconCmd) Encode(buf []byte) []byte {
	buf = append(buf, cmdPrefix|CmdBeacon)
	var b [4]byte
	binary.BigEndian.PutUint16(b[0:2], c.Capabilities)
	binary.BigEndian.PutUint16(b[2:4], c.Status)
	buf = append(buf, b[:]...)

	var cs [16]byte
	copy(cs[:], c.Callsign)
	buf = append(buf, cs[:]...)
	buf = append(buf, c.PubKey[:]...)
	return buf
}

// NeighborDataCmd is command id 4: a count-prefixed list of 8-byte
// link addresses.
type NeighborDataCmd struct{ Addrs [][8]byte }

func (c NeighborDataCmd) Encode(buf []byte) []byte {
	buf = append(buf, cmdPrefix|CmdNeighborData, byte(len(c.Addrs)))
	for _, a := range c.Addrs {
		buf = append(buf, a[:]...)
	}
	return buf
}

// JoinRequestCmd is command id 5, sub-id 1.
type JoinRequestCmd struct{ NetID uint16 }

func (c JoinRequestCmd) Encode(buf []byte) []byte {
	buf = append(buf, cmdPrefix|CmdJoin, JoinRequest)
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], c.NetID)
	return append(buf, b[:]...)
}

// JoinAcceptCmd is command id 5, sub-id 2.
type JoinAcceptCmd struct{ NetID, NetAddr uint16 }

func (c JoinAcceptCmd) Encode(buf []byte) []byte {
	buf = append(buf, cmdPrefix|CmdJoin, JoinAccept)
	var b [4]byte
	binary.BigEndian.PutUint16(b[0:2], c.NetID)
	binary.BigEndian.PutUint16(b[2:4], c.NetAddr)
	return append(buf, b[:]...)
}

// JoinConfirmCmd is command id 5, sub-id 3.
type JoinConfirmCmd struct{ NetID, NetAddr uint16 }

func (c JoinConfirmCmd) Encode(buf []byte) []byte {
	buf = append(buf, cmdPrefix|CmdJoin, JoinConfirm)
	var b [4]byte
	binary.BigEndian.PutUint16(b[0:2], c.NetID)
	binary.BigEndian.PutUint16(b[2:4], c.NetAddr)
	return append(buf, b[:]...)
}

// JoinRejectCmd is command id 5, sub-id 4: an empty body.
type JoinRejectCmd struct{}

func (c JoinRejectCmd) Encode(buf []byte) []byte {
	return append(buf, cmdPrefix|CmdJoin, JoinReject)
}

// UnknownCmd preserves an unrecognized command's raw bytes, per
// spec.md §7's "Unknown(bytes)" fallback.
type UnknownCmd struct{ Raw []byte }

func (c UnknownCmd) Encode(buf []byte) []byte { return append(buf, c.Raw...) }

// DecodeCommand parses a frame payload's leading command, returning
// UnknownCmd for an unrecognized id/sub-id rather than an error, and a
// CommandError only when the payload is empty or a known command's
// fixed body is too short.
func DecodeCommand(payload []byte) (Command, error) {
	if len(payload) == 0 {
		return nil, cmdErr("empty command payload")
	}
	if payload[0]&cmdMask != cmdPrefix {
		return UnknownCmd{Raw: append([]byte(nil), payload...)}, nil
	}
	id := payload[0] & 0x3f
	body := payload[1:]

	switch id {
	case CmdText:
		if len(body) < 1 {
			return nil, cmdErr("text command missing length byte")
		}
		n := int(body[0])
		if len(body) < 1+n {
			return nil, cmdErr("text command declares %d bytes, have %d", n, len(body)-1)
		}
		return TextCmd{Message: string(body[1 : 1+n])}, nil

	case CmdBeacon:
		const want = 2 + 2 + 16 + 96
		if len(body) < want {
			return nil, cmdErr("beacon command too short: %d, want %d", len(body), want)
		}
		caps := binary.BigEndian.Uint16(body[0:2])
		status := binary.BigEndian.Uint16(body[2:4])
		cs := trimTrailingZeros(body[4:20])
		var pk [96]byte
		copy(pk[:], body[20:116])
		return BeaconCmd{Capabilities: caps, Status: status, Callsign: string(cs), PubKey: pk}, nil

	case CmdNeighborData:
		if len(body) < 1 {
			return nil, cmdErr("neighbor-data command missing count byte")
		}
		n := int(body[0])
		if len(body) < 1+n*8 {
			return nil, cmdErr("neighbor-data command declares %d entries, not enough data", n)
		}
		addrs := make([][8]byte, n)
		for i := 0; i < n; i++ {
			copy(addrs[i][:], body[1+i*8:1+(i+1)*8])
		}
		return NeighborDataCmd{Addrs: addrs}, nil

	case CmdJoin:
		if len(body) < 1 {
			return nil, cmdErr("join command missing sub-id")
		}
		sub := body[0]
		rest := body[1:]
		switch sub {
		case JoinRequest:
			if len(rest) < 2 {
				return nil, cmdErr("join-request too short")
			}
			return JoinRequestCmd{NetID: binary.BigEndian.Uint16(rest[0:2])}, nil
		case JoinAccept:
			if len(rest) < 4 {
				return nil, cmdErr("join-accept too short")
			}
			return JoinAcceptCmd{NetID: binary.BigEndian.Uint16(rest[0:2]), NetAddr: binary.BigEndian.Uint16(rest[2:4])}, nil
		case JoinConfirm:
			if len(rest) < 4 {
				return nil, cmdErr("join-confirm too short")
			}
			return JoinConfirmCmd{NetID: binary.BigEndian.Uint16(rest[0:2]), NetAddr: binary.BigEndian.Uint16(rest[2:4])}, nil
		case JoinReject:
			return JoinRejectCmd{}, nil
		default:
			return UnknownCmd{Raw: append([]byte(nil), payload...)}, nil
		}

	default:
		return UnknownCmd{Raw: append([]byte(nil), payload...)}, nil
	}
}

func trimTrailingZeros(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return b[:i]
}
