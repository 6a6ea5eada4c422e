package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glekoz/chipdash/internal/apierr"
	"github.com/glekoz/chipdash/internal/models"
	"github.com/glekoz/chipdash/pkg/logger"
	"golang.org/x/sync/errgroup"
)

type RemoteAPI interface {
	FetchLogs(ctx context.Context) ([]models.LogRecord, error)
	FetchNames(ctx context.Context) ([]models.NameEntry, error)
	SetName(ctx context.Context, chipID, name string) error
	DeleteRecord(ctx context.Context, key models.RecordKey) error
	ExportRecord(ctx context.Context, key models.RecordKey) (models.Artifact, error)
}

// Reconciler owns the working set of log records and device names. Remote
// calls run without the lock held; only the read and the commit of a state
// transition take it.
type Reconciler struct {
	api    RemoteAPI
	logger *slog.Logger

	mu        sync.RWMutex
	state     State
	loaded    bool
	loadErr   error
	shapeErr  bool
	loadedAt  time.Time
	loadSeq   uint64
	appliedAt uint64
	ops       *tracker
}

type LoadStatus struct {
	Loaded   bool
	LoadedAt time.Time
	Err      error
}

func New(api RemoteAPI, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		api:    api,
		logger: logger,
		ops:    newTracker(time.Now),
	}
}

// LoadAll fetches logs and names concurrently and swaps them in together.
// If either fetch fails the previous state stays in place and the returned
// views are the previous ones, except when the API answered with something
// other than a collection: then the views are empty until the next
// successful load. A result from an older call than the last one applied is
// dropped whether it succeeded or failed.
func (r *Reconciler) LoadAll(ctx context.Context) ([]models.DeviceView, error) {
	r.mu.Lock()
	r.loadSeq++
	seq := r.loadSeq
	r.mu.Unlock()

	var (
		records []models.LogRecord
		names   []models.NameEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = r.api.FetchLogs(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		names, err = r.api.FetchNames(gctx)
		return err
	})
	err := g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	if seq < r.appliedAt {
		r.logger.InfoContext(ctx, "discarding stale load", slog.Uint64("seq", seq))
		return r.views(), nil
	}
	r.appliedAt = seq

	if err != nil {
		r.loadErr = err
		r.shapeErr = apierr.KindOf(err) == apierr.InvalidResponseShape
		r.logger.ErrorContext(ctx, "load failed",
			slog.String("kind", apierr.KindOf(err).String()),
			slog.String("error", err.Error()),
		)
		return r.views(), fmt.Errorf("load logs: %w", err)
	}

	r.state = NewState(records, names)
	r.loaded = true
	r.loadErr = nil
	r.shapeErr = false
	r.loadedAt = time.Now()
	r.ops.forget(func(k opKey) bool {
		if k.kind == OpRename {
			return true
		}
		return r.state.Has(models.RecordKey{ChipID: k.chipID, Timestamp: k.timestamp})
	})

	r.logger.InfoContext(ctx, "logs loaded",
		slog.Int("records", r.state.Len()),
		slog.Int("names", len(r.state.names)),
	)
	return r.views(), nil
}

// RenameDevice upserts a display name. A blank name is a no-op. Only one
// rename per chip may be in flight; a second one gets ErrBusy.
func (r *Reconciler) RenameDevice(ctx context.Context, chipID, newName string) ([]models.DeviceView, error) {
	const op = "rename device"
	name := strings.TrimSpace(newName)
	if name == "" {
		return r.Views(), nil
	}
	ctx = logger.WithChip(ctx, chipID)
	key := opKey{kind: OpRename, chipID: joinKey(chipID)}

	r.mu.Lock()
	if !r.ops.begin(key, chipID) {
		r.mu.Unlock()
		return nil, apierr.Precondition(op, ErrBusy)
	}
	r.mu.Unlock()

	err := r.api.SetName(ctx, chipID, name)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops.settle(key, err)
	if err != nil {
		r.logger.ErrorContext(ctx, "rename failed", slog.String("error", err.Error()))
		return r.views(), fmt.Errorf("rename %s: %w", chipID, err)
	}
	r.state = r.state.WithName(chipID, name)
	r.logger.InfoContext(ctx, "device renamed", slog.String("name", name))
	return r.views(), nil
}

// DeleteRecord removes one record after the API confirms it. While the call
// is pending neither a second delete nor an export of the key is accepted.
func (r *Reconciler) DeleteRecord(ctx context.Context, chipID string, timestamp int64) ([]models.DeviceView, error) {
	const op = "delete record"
	rk := models.RecordKey{ChipID: chipID, Timestamp: timestamp}
	ctx = logger.WithRecord(ctx, chipID, timestamp)
	key := opKey{kind: OpDelete, chipID: chipID, timestamp: timestamp}

	r.mu.Lock()
	if !r.state.Has(rk) {
		r.mu.Unlock()
		return nil, apierr.Precondition(op, ErrRecordNotFound)
	}
	if !r.ops.begin(key, chipID, opKey{kind: OpExport, chipID: chipID, timestamp: timestamp}) {
		r.mu.Unlock()
		return nil, apierr.Precondition(op, ErrBusy)
	}
	r.mu.Unlock()

	err := r.api.DeleteRecord(ctx, rk)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops.settle(key, err)
	if err != nil {
		r.logger.ErrorContext(ctx, "delete failed", slog.String("error", err.Error()))
		return r.views(), fmt.Errorf("delete %s: %w", rk, err)
	}
	// a refresh that landed meanwhile may already have dropped it
	r.state, _ = r.state.WithoutRecord(rk)
	r.logger.InfoContext(ctx, "record deleted")
	return r.views(), nil
}

// ExportRecord asks the API for the PDF of one record. The working set is
// never touched.
func (r *Reconciler) ExportRecord(ctx context.Context, chipID string, timestamp int64) (models.Artifact, error) {
	const op = "export record"
	rk := models.RecordKey{ChipID: chipID, Timestamp: timestamp}
	ctx = logger.WithRecord(ctx, chipID, timestamp)
	key := opKey{kind: OpExport, chipID: chipID, timestamp: timestamp}

	r.mu.Lock()
	if !r.state.Has(rk) {
		r.mu.Unlock()
		return models.Artifact{}, apierr.Precondition(op, ErrRecordNotFound)
	}
	if !r.ops.begin(key, chipID, opKey{kind: OpDelete, chipID: chipID, timestamp: timestamp}) {
		r.mu.Unlock()
		return models.Artifact{}, apierr.Precondition(op, ErrBusy)
	}
	r.mu.Unlock()

	artifact, err := r.api.ExportRecord(ctx, rk)

	r.mu.Lock()
	r.ops.settle(key, err)
	r.mu.Unlock()
	if err != nil {
		r.logger.ErrorContext(ctx, "export failed", slog.String("error", err.Error()))
		return models.Artifact{}, fmt.Errorf("export %s: %w", rk, err)
	}
	if artifact.Filename == "" {
		artifact.Filename = models.DefaultExportFilename(rk)
	}
	r.logger.InfoContext(ctx, "record exported", slog.Int("bytes", len(artifact.Data)))
	return artifact, nil
}

func (r *Reconciler) Views() []models.DeviceView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.views()
}

// views must be called with mu held.
func (r *Reconciler) views() []models.DeviceView {
	if r.shapeErr {
		return []models.DeviceView{}
	}
	return r.state.Views()
}

func (r *Reconciler) Names() []models.NameEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Names()
}

func (r *Reconciler) ResolveDisplayName(chipID string) models.DisplayName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.ResolveDisplayName(chipID)
}

// Snapshot returns the current state value; it stays valid after later
// transitions.
func (r *Reconciler) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Reconciler) Operations() []Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ops.snapshot()
}

func (r *Reconciler) Status() LoadStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return LoadStatus{Loaded: r.loaded, LoadedAt: r.loadedAt, Err: r.loadErr}
}
