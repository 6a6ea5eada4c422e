package dashboard

import (
	"cmp"
	"slices"
	"time"

	"github.com/glekoz/chipdash/internal/apierr"
)

type OpKind string

const (
	OpRename OpKind = "rename"
	OpDelete OpKind = "delete"
	OpExport OpKind = "export"
)

// OpStatus follows pending -> committed | rolled_back.
type OpStatus string

const (
	StatusPending    OpStatus = "pending"
	StatusCommitted  OpStatus = "committed"
	StatusRolledBack OpStatus = "rolled_back"
)

type opKey struct {
	kind      OpKind
	chipID    string
	timestamp int64 // zero for renames
}

type Operation struct {
	Kind      OpKind
	ChipID    string
	Timestamp int64
	Status    OpStatus
	Error     string
	ErrorKind apierr.Kind
	UpdatedAt time.Time
}

// tracker is the per-key status map. It is not safe for concurrent use,
// the Reconciler guards it with its own mutex.
type tracker struct {
	ops map[opKey]Operation
	now func() time.Time
}

func newTracker(now func() time.Time) *tracker {
	return &tracker{ops: make(map[opKey]Operation), now: now}
}

func (t *tracker) pending(k opKey) bool {
	op, ok := t.ops[k]
	return ok && op.Status == StatusPending
}

// begin marks k as pending unless k or one of the conflicting keys already is.
func (t *tracker) begin(k opKey, chipID string, conflicts ...opKey) bool {
	if t.pending(k) {
		return false
	}
	for _, c := range conflicts {
		if t.pending(c) {
			return false
		}
	}
	t.ops[k] = Operation{
		Kind:      k.kind,
		ChipID:    chipID,
		Timestamp: k.timestamp,
		Status:    StatusPending,
		UpdatedAt: t.now(),
	}
	return true
}

func (t *tracker) settle(k opKey, err error) {
	op := t.ops[k]
	op.UpdatedAt = t.now()
	if err != nil {
		op.Status = StatusRolledBack
		op.Error = apierr.MessageOf(err)
		op.ErrorKind = apierr.KindOf(err)
	} else {
		op.Status = StatusCommitted
		op.Error = ""
		op.ErrorKind = apierr.Unknown
	}
	t.ops[k] = op
}

func (t *tracker) snapshot() []Operation {
	out := make([]Operation, 0, len(t.ops))
	for _, op := range t.ops {
		out = append(out, op)
	}
	slices.SortFunc(out, func(a, b Operation) int {
		return cmp.Or(
			cmp.Compare(a.ChipID, b.ChipID),
			cmp.Compare(a.Timestamp, b.Timestamp),
			cmp.Compare(a.Kind, b.Kind),
		)
	})
	return out
}

// forget drops settled entries for record keys that no longer exist, a
// refresh would otherwise keep them around forever.
func (t *tracker) forget(keep func(opKey) bool) {
	for k, op := range t.ops {
		if op.Status != StatusPending && !keep(k) {
			delete(t.ops, k)
		}
	}
}
