// Package nvmeq implements the pure ring bookkeeping shared by the admin
// and I/O queue pairs: tail/head cursor arithmetic and completion phase
// tracking, with no device I/O of its own. Keeping this free of HAL calls
// makes the wraparound and phase-flip logic exercisable without a
// simulated controller at all.
package nvmeq

import "github.com/basalt-io/nvmehost/internal/wire"

// QueuePair is one submission/completion queue pair: the admin pair (qid
// 0) or the single I/O pair this driver supports (qid 1).
type QueuePair struct {
	QID     uint16
	Entries uint16 // number of entries in both SQ and CQ

	SQVirt uintptr
	SQPhys uint64
	CQVirt uintptr
	CQPhys uint64

	sqTail uint16
	cqHead uint16
	phase  bool // expected phase tag of the next unconsumed CQE
}

// New constructs a QueuePair over caller-allocated, already-zeroed SQ/CQ
// memory. The phase tag starts true: the host zeroes the CQ memory before
// first use and the controller posts its first completions with phase=1, so the host starts out expecting 1 and flips
// to 0 on the queue's first wraparound.
func New(qid uint16, entries uint16, sqVirt uintptr, sqPhys uint64, cqVirt uintptr, cqPhys uint64) *QueuePair {
	return &QueuePair{
		QID: qid, Entries: entries,
		SQVirt: sqVirt, SQPhys: sqPhys,
		CQVirt: cqVirt, CQPhys: cqPhys,
		phase: true,
	}
}

// SQSlot returns the byte offset of submission queue slot i.
func (q *QueuePair) SQSlot(i uint16) uintptr {
	return q.SQVirt + uintptr(i)*64
}

// CQSlot returns the byte offset of completion queue slot i.
func (q *QueuePair) CQSlot(i uint16) uintptr {
	return q.CQVirt + uintptr(i)*16
}

// Tail returns the current (unpublished) submission tail index.
func (q *QueuePair) Tail() uint16 { return q.sqTail }

// Head returns the current completion head index.
func (q *QueuePair) Head() uint16 { return q.cqHead }

// Phase returns the phase tag the host currently expects on the next
// unconsumed completion.
func (q *QueuePair) Phase() bool { return q.phase }

// NextSQSlot returns the submission queue slot the next command is written
// to: the current tail.
func (q *QueuePair) NextSQSlot() uint16 { return q.sqTail }

// AdvanceTail moves the submission tail forward by one slot, wrapping at
// Entries, and returns the new tail — the value callers must then write to
// the SQ doorbell register.
func (q *QueuePair) AdvanceTail() uint16 {
	q.sqTail = (q.sqTail + 1) % q.Entries
	return q.sqTail
}

// CQEMatchesPhase reports whether cqe's phase bit equals the phase the
// host currently expects — i.e. whether it is a new completion rather than
// stale memory from the previous wrap.
func (q *QueuePair) CQEMatchesPhase(cqe wire.CQE) bool {
	return cqe.Phase() == q.phase
}

// CQEMatches reports whether cqe is the delivered completion for cid: its
// phase bit must equal the phase the host currently expects, its cid must
// equal the one requested, and its sqid must equal this queue's id. All
// three must agree before a CQE is considered delivered rather than stale
// memory from a previous wrap or a slot that hasn't been written yet.
func (q *QueuePair) CQEMatches(cqe wire.CQE, cid uint16) bool {
	return cqe.Phase() == q.phase && cqe.CID == cid && cqe.SQID == q.QID
}

// AdvanceHead consumes one completion: moves the completion head forward,
// flipping the expected phase tag exactly once per full wrap around the
// queue, and returns the new head — the value callers must then write to
// the CQ doorbell register.
func (q *QueuePair) AdvanceHead() (newHead uint16, wrapped bool) {
	q.cqHead++
	if q.cqHead == q.Entries {
		q.cqHead = 0
		q.phase = !q.phase
		wrapped = true
	}
	return q.cqHead, wrapped
}

// Full reports whether the submission queue has no free slots: advancing
// the tail once more would make it equal to head.
func (q *QueuePair) Full(sqHead uint16) bool {
	next := (q.sqTail + 1) % q.Entries
	return next == sqHead
}
