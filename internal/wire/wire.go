// Package wire defines the on-the-wire layout of NVMe submission and
// completion queue entries and the hand-rolled little-endian
// marshal/unmarshal functions for them. Entries are never passed to
// encoding/binary's struct-reflection path: byte layout correctness here
// is load-bearing (it's what the controller DMAs), so every field is
// written and read explicitly.
package wire

import (
	"encoding/binary"
	"unsafe"
)

// SQE is a 64-byte NVMe submission queue entry (NVMe Base Spec 1.4,
// figure 86), covering the common Dword0-Dword1 header plus the fields
// every admin and NVM command this driver issues actually uses.
type SQE struct {
	Opcode   uint8  // CDW0 bits 0:7
	FusedOp  uint8  // CDW0 bits 8:9 (fused operation), rest reserved
	CID      uint16 // CDW0 bits 16:31, command identifier
	NSID     uint32 // CDW1, namespace identifier (0 for non-namespace commands)
	_        uint64 // CDW2-3, reserved
	MPTR     uint64 // CDW4-5, metadata pointer (unused, no metadata support)
	PRP1     uint64 // CDW6-7, first PRP entry / data pointer
	PRP2     uint64 // CDW8-9, second PRP entry or PRP list pointer
	CDW10    uint32
	CDW11    uint32
	CDW12    uint32
	CDW13    uint32
	CDW14    uint32
	CDW15    uint32
}

var _ [64]byte = [unsafe.Sizeof(SQE{})]byte{}

// CQE is a 16-byte NVMe completion queue entry (NVMe Base Spec 1.4,
// figure 92).
type CQE struct {
	DW0    uint32 // command-specific
	DW1    uint32 // reserved for most commands
	SQHead uint16 // current head pointer of the associated SQ
	SQID   uint16 // submission queue this completion is for
	CID    uint16 // command identifier being completed
	Status uint16 // phase tag (bit 0) + status code (bits 1:8) + status code type (bits 9:11)
}

var _ [16]byte = [unsafe.Sizeof(CQE{})]byte{}

// Phase returns the completion's phase tag bit (bit 0 of Status).
func (c CQE) Phase() bool { return c.Status&0x1 != 0 }

// SC returns the Status Code (bits 1:8).
func (c CQE) SC() uint8 { return uint8((c.Status >> 1) & 0xff) }

// SCT returns the Status Code Type (bits 9:11).
func (c CQE) SCT() uint8 { return uint8((c.Status >> 9) & 0x7) }

// DNR returns the Do Not Retry bit (bit 15).
func (c CQE) DNR() bool { return c.Status&(1<<15) != 0 }

// MarshalSQE writes e into a 64-byte slice in little-endian wire order.
func MarshalSQE(e *SQE) []byte {
	buf := make([]byte, 64)
	buf[0] = e.Opcode
	buf[1] = e.FusedOp
	binary.LittleEndian.PutUint16(buf[2:4], e.CID)
	binary.LittleEndian.PutUint32(buf[4:8], e.NSID)
	// buf[8:16] reserved (CDW2-3), left zero.
	binary.LittleEndian.PutUint64(buf[16:24], e.MPTR)
	binary.LittleEndian.PutUint64(buf[24:32], e.PRP1)
	binary.LittleEndian.PutUint64(buf[32:40], e.PRP2)
	binary.LittleEndian.PutUint32(buf[40:44], e.CDW10)
	binary.LittleEndian.PutUint32(buf[44:48], e.CDW11)
	binary.LittleEndian.PutUint32(buf[48:52], e.CDW12)
	binary.LittleEndian.PutUint32(buf[52:56], e.CDW13)
	binary.LittleEndian.PutUint32(buf[56:60], e.CDW14)
	binary.LittleEndian.PutUint32(buf[60:64], e.CDW15)
	return buf
}

// UnmarshalSQE is the inverse of MarshalSQE, used by simhal to interpret a
// command host software placed into the simulated submission queue.
func UnmarshalSQE(data []byte) SQE {
	var e SQE
	e.Opcode = data[0]
	e.FusedOp = data[1]
	e.CID = binary.LittleEndian.Uint16(data[2:4])
	e.NSID = binary.LittleEndian.Uint32(data[4:8])
	e.MPTR = binary.LittleEndian.Uint64(data[16:24])
	e.PRP1 = binary.LittleEndian.Uint64(data[24:32])
	e.PRP2 = binary.LittleEndian.Uint64(data[32:40])
	e.CDW10 = binary.LittleEndian.Uint32(data[40:44])
	e.CDW11 = binary.LittleEndian.Uint32(data[44:48])
	e.CDW12 = binary.LittleEndian.Uint32(data[48:52])
	e.CDW13 = binary.LittleEndian.Uint32(data[52:56])
	e.CDW14 = binary.LittleEndian.Uint32(data[56:60])
	e.CDW15 = binary.LittleEndian.Uint32(data[60:64])
	return e
}

// MarshalCQE writes c into a 16-byte slice in little-endian wire order.
func MarshalCQE(c *CQE) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], c.DW0)
	binary.LittleEndian.PutUint32(buf[4:8], c.DW1)
	binary.LittleEndian.PutUint16(buf[8:10], c.SQHead)
	binary.LittleEndian.PutUint16(buf[10:12], c.SQID)
	binary.LittleEndian.PutUint16(buf[12:14], c.CID)
	binary.LittleEndian.PutUint16(buf[14:16], c.Status)
	return buf
}

// UnmarshalCQE is the inverse of MarshalCQE.
func UnmarshalCQE(data []byte) CQE {
	var c CQE
	c.DW0 = binary.LittleEndian.Uint32(data[0:4])
	c.DW1 = binary.LittleEndian.Uint32(data[4:8])
	c.SQHead = binary.LittleEndian.Uint16(data[8:10])
	c.SQID = binary.LittleEndian.Uint16(data[10:12])
	c.CID = binary.LittleEndian.Uint16(data[12:14])
	c.Status = binary.LittleEndian.Uint16(data[14:16])
	return c
}

// Admin command opcodes. The driver issues CREATE I/O CQ/SQ, IDENTIFY and
// GET LOG PAGE; the others are defined for completeness.
const (
	OpDeleteIOSQ    = 0x00
	OpCreateIOSQ    = 0x01
	OpGetLogPage    = 0x02
	OpDeleteIOCQ    = 0x04
	OpCreateIOCQ    = 0x05
	OpIdentify      = 0x06
	OpSetFeatures   = 0x09
	OpGetFeatures   = 0x0a
)

// NVM I/O command opcodes this driver issues.
const (
	OpFlush = 0x00
	OpWrite = 0x01
	OpRead  = 0x02
)

// Identify CNS (Controller or Namespace Structure) values.
const (
	CNSNamespace  = 0x00
	CNSController = 0x01
)
