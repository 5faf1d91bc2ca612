package nvmehost

import (
	"errors"
	"fmt"
	"strings"
)

// Code is the public, stable error category, mirroring the fixed set of
// negative-integer codes callers coming from the original C driver expect.
type Code int

const (
	OK         Code = 0
	BadParam   Code = -1
	NoResource Code = -2
	Controller Code = -3
	Timeout    Code = -4
	ReadOnly   Code = -5
	LBARange   Code = -6
)

func (c Code) String() string {
	switch c {
	case OK:
		return "ok"
	case BadParam:
		return "bad parameter"
	case NoResource:
		return "no resource"
	case Controller:
		return "controller error"
	case Timeout:
		return "timeout"
	case ReadOnly:
		return "read only"
	case LBARange:
		return "lba out of range"
	default:
		return "unknown"
	}
}

// Error is a structured driver error with the context needed to diagnose a
// failed command: which operation, which queue, and the raw completion
// status if the failure came from the controller.
type Error struct {
	Op    string // operation that failed, e.g. "IDENTIFY", "READ", "RESET"
	Queue int    // queue id, -1 if not applicable
	Code  Code   // high-level category
	SCT   uint8  // NVMe status code type, 0 if not applicable
	SC    uint8  // NVMe status code, 0 if not applicable
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Queue >= 0 {
		parts = append(parts, fmt.Sprintf("queue=%d", e.Queue))
	}
	if e.SCT != 0 || e.SC != 0 {
		parts = append(parts, fmt.Sprintf("sct=%#x sc=%#x", e.SCT, e.SC))
	}

	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}
	if len(parts) > 0 {
		return fmt.Sprintf("nvmehost: %s (%s)", msg, strings.Join(parts, " "))
	}
	return fmt.Sprintf("nvmehost: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// NewError creates a structured error with no wrapped cause.
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, Queue: -1, Code: code, Msg: msg}
}

// NewQueueError creates a structured error scoped to a specific queue.
func NewQueueError(op string, queue int, code Code, msg string) *Error {
	return &Error{Op: op, Queue: queue, Code: code, Msg: msg}
}

// NewStatusError builds an error from a raw NVMe completion status field.
func NewStatusError(op string, queue int, sct, sc uint8) *Error {
	code := mapStatusToCode(sct, sc)
	return &Error{
		Op:    op,
		Queue: queue,
		Code:  code,
		SCT:   sct,
		SC:    sc,
		Msg:   fmt.Sprintf("%s (sct=%#x sc=%#x)", code, sct, sc),
	}
}

// WrapError attaches operation context to an existing error without losing
// its category, if it already has one.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	var existing *Error
	if errors.As(inner, &existing) {
		return &Error{
			Op:    op,
			Queue: existing.Queue,
			Code:  existing.Code,
			SCT:   existing.SCT,
			SC:    existing.SC,
			Msg:   existing.Msg,
			Inner: inner,
		}
	}
	return &Error{Op: op, Queue: -1, Code: Controller, Msg: inner.Error(), Inner: inner}
}

// mapStatusToCode maps an NVMe completion status (Status Code Type, Status
// Code) to a driver error category. Generic command status (SCT=0) carries
// the codes this driver cares about distinguishing; every other SCT
// (command-specific, media/data integrity, path-related, vendor-specific)
// collapses to Controller since the caller has no separate recourse for it.
func mapStatusToCode(sct, sc uint8) Code {
	if sct != 0 {
		return Controller
	}
	switch sc {
	case 0x00: // successful completion
		return OK
	case 0x01, 0x02: // invalid opcode / invalid field in command
		return BadParam
	case 0x05: // command ID conflict
		return BadParam
	case 0x80: // LBA out of range (NVM command set specific, but common)
		return LBARange
	case 0x81: // capacity exceeded
		return NoResource
	case 0x82: // namespace not ready
		return Controller
	case 0x86: // write to a read-only range / namespace
		return ReadOnly
	default:
		return Controller
	}
}

// IsCode reports whether err carries the given error category.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
