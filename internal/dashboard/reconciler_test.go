package dashboard_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/glekoz/chipdash/internal/apierr"
	"github.com/glekoz/chipdash/internal/dashboard"
	"github.com/glekoz/chipdash/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mock remote ---

type mockRemote struct {
	fetchLogs    func(ctx context.Context) ([]models.LogRecord, error)
	fetchNames   func(ctx context.Context) ([]models.NameEntry, error)
	setName      func(ctx context.Context, chipID, name string) error
	deleteRecord func(ctx context.Context, key models.RecordKey) error
	exportRecord func(ctx context.Context, key models.RecordKey) (models.Artifact, error)

	mu    sync.Mutex
	calls []string
}

func (m *mockRemote) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockRemote) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockRemote) FetchLogs(ctx context.Context) ([]models.LogRecord, error) {
	m.record("FetchLogs")
	return m.fetchLogs(ctx)
}
func (m *mockRemote) FetchNames(ctx context.Context) ([]models.NameEntry, error) {
	m.record("FetchNames")
	return m.fetchNames(ctx)
}
func (m *mockRemote) SetName(ctx context.Context, chipID, name string) error {
	m.record("SetName")
	return m.setName(ctx, chipID, name)
}
func (m *mockRemote) DeleteRecord(ctx context.Context, key models.RecordKey) error {
	m.record("DeleteRecord")
	return m.deleteRecord(ctx, key)
}
func (m *mockRemote) ExportRecord(ctx context.Context, key models.RecordKey) (models.Artifact, error) {
	m.record("ExportRecord")
	return m.exportRecord(ctx, key)
}

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func staticRemote(records []models.LogRecord, names []models.NameEntry) *mockRemote {
	return &mockRemote{
		fetchLogs:  func(context.Context) ([]models.LogRecord, error) { return records, nil },
		fetchNames: func(context.Context) ([]models.NameEntry, error) { return names, nil },
	}
}

func loaded(t *testing.T, m *mockRemote) *dashboard.Reconciler {
	t.Helper()
	r := dashboard.New(m, testLogger)
	_, err := r.LoadAll(context.Background())
	require.NoError(t, err)
	return r
}

var sampleRecords = []models.LogRecord{
	{ChipID: "A", Timestamp: 100},
	{ChipID: "B", Timestamp: 50},
	{ChipID: "A", Timestamp: 200},
}

// =================================================================
// LoadAll
// =================================================================

func TestLoadAll_Success(t *testing.T) {
	m := staticRemote(sampleRecords, []models.NameEntry{{ChipID: "A", Name: "Kitchen"}})
	r := dashboard.New(m, testLogger)

	views, err := r.LoadAll(context.Background())

	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "Kitchen", views[0].Name.String())
	assert.Equal(t, "Unknown Chip (B)", views[1].Name.String())
	assert.True(t, r.Status().Loaded)
	assert.NoError(t, r.Status().Err)
}

func TestLoadAll_EmptyRecords(t *testing.T) {
	r := dashboard.New(staticRemote([]models.LogRecord{}, nil), testLogger)

	views, err := r.LoadAll(context.Background())

	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestLoadAll_NamesFailureKeepsPriorView(t *testing.T) {
	m := staticRemote(sampleRecords, []models.NameEntry{{ChipID: "A", Name: "Kitchen"}})
	r := loaded(t, m)
	before := r.Views()

	m.fetchLogs = func(context.Context) ([]models.LogRecord, error) {
		return []models.LogRecord{{ChipID: "C", Timestamp: 1}}, nil
	}
	m.fetchNames = func(context.Context) ([]models.NameEntry, error) {
		return nil, apierr.Rejected("fetch names", 500, "names down")
	}

	views, err := r.LoadAll(context.Background())

	require.Error(t, err)
	assert.Equal(t, apierr.RemoteRejection, apierr.KindOf(err))
	assert.Equal(t, before, views)
	assert.Equal(t, before, r.Views())
	assert.Error(t, r.Status().Err)
}

func TestLoadAll_FirstLoadFailureIsEmpty(t *testing.T) {
	m := &mockRemote{
		fetchLogs: func(context.Context) ([]models.LogRecord, error) {
			return nil, apierr.Shape("fetch logs", errors.New("expected a JSON array"))
		},
		fetchNames: func(context.Context) ([]models.NameEntry, error) { return nil, nil },
	}
	r := dashboard.New(m, testLogger)

	views, err := r.LoadAll(context.Background())

	assert.Equal(t, apierr.InvalidResponseShape, apierr.KindOf(err))
	assert.Empty(t, views)
	assert.False(t, r.Status().Loaded)
}

func TestLoadAll_ReplacesWholesale(t *testing.T) {
	m := staticRemote(sampleRecords, []models.NameEntry{{ChipID: "A", Name: "Kitchen"}})
	r := loaded(t, m)

	m.fetchLogs = func(context.Context) ([]models.LogRecord, error) {
		return []models.LogRecord{{ChipID: "B", Timestamp: 50}}, nil
	}
	m.fetchNames = func(context.Context) ([]models.NameEntry, error) { return nil, nil }

	views, err := r.LoadAll(context.Background())

	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "B", views[0].ChipID)
	assert.False(t, r.ResolveDisplayName("A").IsAssigned())
}

func TestLoadAll_StaleResultDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var mu sync.Mutex
	calls := 0

	m := &mockRemote{
		fetchNames: func(context.Context) ([]models.NameEntry, error) { return nil, nil },
	}
	m.fetchLogs = func(context.Context) ([]models.LogRecord, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(started)
			<-release
			return []models.LogRecord{{ChipID: "old", Timestamp: 1}}, nil
		}
		return []models.LogRecord{{ChipID: "new", Timestamp: 2}}, nil
	}
	r := dashboard.New(m, testLogger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.LoadAll(context.Background())
	}()
	<-started

	_, err := r.LoadAll(context.Background())
	require.NoError(t, err)
	close(release)
	<-done

	views := r.Views()
	require.Len(t, views, 1)
	assert.Equal(t, "new", views[0].ChipID)
}

func TestLoadAll_StaleFailureDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var mu sync.Mutex
	calls := 0

	m := &mockRemote{
		fetchNames: func(context.Context) ([]models.NameEntry, error) { return nil, nil },
	}
	m.fetchLogs = func(context.Context) ([]models.LogRecord, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(started)
			<-release
			return nil, apierr.Network("fetch logs", context.DeadlineExceeded)
		}
		return sampleRecords, nil
	}
	r := dashboard.New(m, testLogger)

	var staleErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, staleErr = r.LoadAll(context.Background())
	}()
	<-started

	_, err := r.LoadAll(context.Background())
	require.NoError(t, err)
	close(release)
	<-done

	assert.NoError(t, staleErr)
	assert.NoError(t, r.Status().Err)
	assert.Len(t, r.Views(), 2)
}

func TestLoadAll_ShapeFailureBlanksView(t *testing.T) {
	m := staticRemote(sampleRecords, nil)
	r := loaded(t, m)
	require.Len(t, r.Views(), 2)

	m.fetchLogs = func(context.Context) ([]models.LogRecord, error) {
		return nil, apierr.Shape("fetch logs", errors.New("expected a JSON array"))
	}

	views, err := r.LoadAll(context.Background())

	assert.Equal(t, apierr.InvalidResponseShape, apierr.KindOf(err))
	assert.Empty(t, views)
	assert.Empty(t, r.Views())

	m.fetchLogs = func(context.Context) ([]models.LogRecord, error) { return sampleRecords, nil }

	views, err = r.LoadAll(context.Background())

	require.NoError(t, err)
	assert.Len(t, views, 2)
	assert.Len(t, r.Views(), 2)
}

// =================================================================
// RenameDevice
// =================================================================

func TestRenameDevice_Success(t *testing.T) {
	m := staticRemote(sampleRecords, nil)
	m.setName = func(_ context.Context, chipID, name string) error {
		assert.Equal(t, "chip-1", chipID)
		assert.Equal(t, "Living Room", name)
		return nil
	}
	r := loaded(t, m)

	_, err := r.RenameDevice(context.Background(), "chip-1", "Living Room")

	require.NoError(t, err)
	assert.Equal(t, "Living Room", r.ResolveDisplayName("chip-1").String())
	ops := r.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, dashboard.StatusCommitted, ops[0].Status)
}

func TestRenameDevice_TrimsName(t *testing.T) {
	m := staticRemote(sampleRecords, nil)
	var sent string
	m.setName = func(_ context.Context, _, name string) error {
		sent = name
		return nil
	}
	r := loaded(t, m)

	_, err := r.RenameDevice(context.Background(), "A", "  Kitchen ")

	require.NoError(t, err)
	assert.Equal(t, "Kitchen", sent)
	assert.Equal(t, "Kitchen", r.ResolveDisplayName("A").String())
}

func TestRenameDevice_FailureKeepsPreviousName(t *testing.T) {
	m := staticRemote(sampleRecords, []models.NameEntry{{ChipID: "chip-1", Name: "Garage"}})
	m.setName = func(context.Context, string, string) error {
		return apierr.Rejected("set name", 400, "name rejected")
	}
	r := loaded(t, m)

	_, err := r.RenameDevice(context.Background(), "chip-1", "Living Room")

	require.Error(t, err)
	assert.Equal(t, "name rejected", apierr.MessageOf(err))
	assert.Equal(t, "Garage", r.ResolveDisplayName("chip-1").String())
	ops := r.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, dashboard.StatusRolledBack, ops[0].Status)
	assert.Equal(t, "name rejected", ops[0].Error)
	assert.Equal(t, apierr.RemoteRejection, ops[0].ErrorKind)
}

func TestRenameDevice_BlankIsNoop(t *testing.T) {
	m := staticRemote(sampleRecords, []models.NameEntry{{ChipID: "A", Name: "Kitchen"}})
	m.setName = func(context.Context, string, string) error {
		t.Fatal("SetName must not be called for a blank name")
		return nil
	}
	r := loaded(t, m)
	before := r.Snapshot()
	callsBefore := m.callCount()

	for _, name := range []string{"", "   "} {
		views, err := r.RenameDevice(context.Background(), "A", name)
		require.NoError(t, err)
		assert.Equal(t, before.Views(), views)
	}

	assert.Equal(t, callsBefore, m.callCount())
	assert.Equal(t, "Kitchen", r.ResolveDisplayName("A").String())
	assert.Empty(t, r.Operations())
}

func TestRenameDevice_BusyWhilePending(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	m := staticRemote(sampleRecords, nil)
	m.setName = func(context.Context, string, string) error {
		close(entered)
		<-release
		return nil
	}
	r := loaded(t, m)

	done := make(chan error, 1)
	go func() {
		_, err := r.RenameDevice(context.Background(), "A", "First")
		done <- err
	}()
	<-entered

	ops := r.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, dashboard.StatusPending, ops[0].Status)

	// case differs, same device
	_, err := r.RenameDevice(context.Background(), "a", "Second")
	assert.ErrorIs(t, err, dashboard.ErrBusy)
	assert.Equal(t, apierr.PreconditionViolation, apierr.KindOf(err))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, "First", r.ResolveDisplayName("A").String())
}

// =================================================================
// DeleteRecord
// =================================================================

func TestDeleteRecord_Success(t *testing.T) {
	m := staticRemote([]models.LogRecord{{ChipID: "chip-1", Timestamp: 1000}, {ChipID: "chip-1", Timestamp: 2000}}, nil)
	m.deleteRecord = func(_ context.Context, key models.RecordKey) error {
		assert.Equal(t, models.RecordKey{ChipID: "chip-1", Timestamp: 1000}, key)
		return nil
	}
	r := loaded(t, m)

	views, err := r.DeleteRecord(context.Background(), "chip-1", 1000)

	require.NoError(t, err)
	assert.False(t, r.Snapshot().Has(models.RecordKey{ChipID: "chip-1", Timestamp: 1000}))
	require.Len(t, views, 1)
	assert.Equal(t, []int64{2000}, timestamps(views[0].Records))
}

func TestDeleteRecord_LastRecordDropsGroup(t *testing.T) {
	m := staticRemote(sampleRecords, nil)
	m.deleteRecord = func(context.Context, models.RecordKey) error { return nil }
	r := loaded(t, m)

	views, err := r.DeleteRecord(context.Background(), "B", 50)

	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "A", views[0].ChipID)
}

func TestDeleteRecord_FailureRetainsRecord(t *testing.T) {
	m := staticRemote([]models.LogRecord{{ChipID: "chip-1", Timestamp: 1000}}, nil)
	m.deleteRecord = func(context.Context, models.RecordKey) error {
		return apierr.Network("delete record", errors.New("connection reset"))
	}
	r := loaded(t, m)

	_, err := r.DeleteRecord(context.Background(), "chip-1", 1000)

	assert.Equal(t, apierr.NetworkFailure, apierr.KindOf(err))
	assert.True(t, r.Snapshot().Has(models.RecordKey{ChipID: "chip-1", Timestamp: 1000}))
	ops := r.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, dashboard.StatusRolledBack, ops[0].Status)
}

func TestDeleteRecord_NotFound(t *testing.T) {
	m := staticRemote(sampleRecords, nil)
	m.deleteRecord = func(context.Context, models.RecordKey) error { return nil }
	r := loaded(t, m)

	_, err := r.DeleteRecord(context.Background(), "A", 100)
	require.NoError(t, err)
	calls := m.callCount()

	_, err = r.DeleteRecord(context.Background(), "A", 100)

	assert.ErrorIs(t, err, dashboard.ErrRecordNotFound)
	assert.Equal(t, apierr.PreconditionViolation, apierr.KindOf(err))
	assert.Equal(t, calls, m.callCount())
}

func TestDeleteRecord_BusyWhileExporting(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	m := staticRemote(sampleRecords, nil)
	m.exportRecord = func(context.Context, models.RecordKey) (models.Artifact, error) {
		close(entered)
		<-release
		return models.Artifact{Data: []byte("%PDF")}, nil
	}
	m.deleteRecord = func(context.Context, models.RecordKey) error { return nil }
	r := loaded(t, m)

	done := make(chan error, 1)
	go func() {
		_, err := r.ExportRecord(context.Background(), "A", 100)
		done <- err
	}()
	<-entered

	_, err := r.DeleteRecord(context.Background(), "A", 100)
	assert.ErrorIs(t, err, dashboard.ErrBusy)

	// a different key is not blocked
	_, err = r.DeleteRecord(context.Background(), "A", 200)
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
	assert.True(t, r.Snapshot().Has(models.RecordKey{ChipID: "A", Timestamp: 100}))
}

// =================================================================
// ExportRecord
// =================================================================

func TestExportRecord_Success(t *testing.T) {
	m := staticRemote(sampleRecords, nil)
	m.exportRecord = func(_ context.Context, key models.RecordKey) (models.Artifact, error) {
		return models.Artifact{Filename: "server.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}, nil
	}
	r := loaded(t, m)
	before := r.Views()

	a, err := r.ExportRecord(context.Background(), "A", 100)

	require.NoError(t, err)
	assert.Equal(t, "server.pdf", a.Filename)
	assert.Equal(t, before, r.Views())
}

func TestExportRecord_DefaultFilename(t *testing.T) {
	m := staticRemote(sampleRecords, nil)
	m.exportRecord = func(context.Context, models.RecordKey) (models.Artifact, error) {
		return models.Artifact{Data: []byte("%PDF")}, nil
	}
	r := loaded(t, m)

	a, err := r.ExportRecord(context.Background(), "A", 100)

	require.NoError(t, err)
	assert.Equal(t, "log_report_A_100.pdf", a.Filename)
}

func TestExportRecord_Failure(t *testing.T) {
	m := staticRemote(sampleRecords, nil)
	m.exportRecord = func(context.Context, models.RecordKey) (models.Artifact, error) {
		return models.Artifact{}, apierr.Rejected("export record", 404, "Log entry not found.")
	}
	r := loaded(t, m)
	before := r.Views()

	_, err := r.ExportRecord(context.Background(), "A", 100)

	assert.Equal(t, "Log entry not found.", apierr.MessageOf(err))
	assert.Equal(t, before, r.Views())
}

func TestExportRecord_BusyWhileDeleting(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	m := staticRemote(sampleRecords, nil)
	m.deleteRecord = func(context.Context, models.RecordKey) error {
		close(entered)
		<-release
		return nil
	}
	m.exportRecord = func(context.Context, models.RecordKey) (models.Artifact, error) {
		t.Fatal("export must not be issued while the key is being deleted")
		return models.Artifact{}, nil
	}
	r := loaded(t, m)

	done := make(chan error, 1)
	go func() {
		_, err := r.DeleteRecord(context.Background(), "A", 100)
		done <- err
	}()
	<-entered

	_, err := r.ExportRecord(context.Background(), "A", 100)
	assert.ErrorIs(t, err, dashboard.ErrBusy)

	close(release)
	require.NoError(t, <-done)
}

func TestExportRecord_UnknownKey(t *testing.T) {
	r := loaded(t, staticRemote(sampleRecords, nil))

	_, err := r.ExportRecord(context.Background(), "Z", 1)

	assert.ErrorIs(t, err, dashboard.ErrRecordNotFound)
}
