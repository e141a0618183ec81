package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfidmonitor/internal/attendance"
	"rfidmonitor/internal/directory"
)

var baseTime = time.Date(2025, time.September, 1, 14, 5, 0, 0, time.UTC)

type captureNotifier struct {
	mu        sync.Mutex
	successes []string
	failures  []string
}

func (n *captureNotifier) Success(text string) {
	n.mu.Lock()
	n.successes = append(n.successes, text)
	n.mu.Unlock()
}

func (n *captureNotifier) Error(text string) {
	n.mu.Lock()
	n.failures = append(n.failures, text)
	n.mu.Unlock()
}

func testDirectory() *directory.Directory {
	dir := directory.New()
	dir.SetStudents([]directory.Student{
		{ID: "u1", StudentID: "S-001", FirstName: "Juan", LastName: "Dela Cruz", Course: "c1", RFIDTag: "T1"},
		{ID: "u2", StudentID: "S-002", FirstName: "Maria", LastName: "Santos", Course: "c1", RFIDTag: "T2"},
	})
	dir.SetCourses([]directory.Course{
		{ID: "c1", CourseID: "BSIT", CourseName: "BS Information Technology"},
	})
	return dir
}

func newTestEngine(store attendance.Store) (*Engine, *captureNotifier, *time.Time) {
	notifier := &captureNotifier{}
	eng := New(store, testDirectory(), notifier, time.Hour)
	now := baseTime
	eng.SetNow(func() time.Time { return now })
	return eng, notifier, &now
}

func TestCheckInCreatesRecord(t *testing.T) {
	mem := attendance.NewMemoryStore()
	eng, notifier, _ := newTestEngine(mem)

	var hooked []Transition
	eng.OnTransition(func(tr Transition) { hooked = append(hooked, tr) })

	tr, err := eng.ProcessScan(context.Background(), "T1")
	require.NoError(t, err)

	assert.Equal(t, attendance.KindCheckIn, tr.Kind)
	assert.Equal(t, "S-001", tr.Record.StudentID)
	assert.Equal(t, "Juan Dela Cruz", tr.Record.StudentName)
	assert.Equal(t, "BSIT", tr.Record.Course)
	assert.Equal(t, "2025-09-01", tr.Record.Date)
	assert.Equal(t, "02:05 PM", tr.Record.TimeIn)
	assert.Nil(t, tr.Record.TimeOut)
	assert.Equal(t, attendance.StatusIn, tr.Record.Status)

	// Exactly one record was created.
	require.Len(t, mem.Records(), 1)
	require.Len(t, hooked, 1)
	assert.Equal(t, tr.Record.ID, hooked[0].Record.ID)

	require.Len(t, notifier.successes, 1)
	assert.Contains(t, notifier.successes[0], "checked in successfully")
}

func TestCheckOutUpdatesSameRecord(t *testing.T) {
	mem := attendance.NewMemoryStore()
	eng, notifier, now := newTestEngine(mem)

	first, err := eng.ProcessScan(context.Background(), "T1")
	require.NoError(t, err)
	eng.release()

	*now = now.Add(time.Hour)
	second, err := eng.ProcessScan(context.Background(), "T1")
	require.NoError(t, err)

	assert.Equal(t, attendance.KindCheckOut, second.Kind)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, attendance.StatusOut, second.Record.Status)
	require.NotNil(t, second.Record.TimeOut)
	assert.Equal(t, "03:05 PM", *second.Record.TimeOut)
	assert.Equal(t, "02:05 PM", second.Record.TimeIn)

	// Still one record for the student and date.
	require.Len(t, mem.Records(), 1)
	assert.Contains(t, notifier.successes[1], "checked out successfully")
}

func TestThirdScanSameDayRejected(t *testing.T) {
	mem := attendance.NewMemoryStore()
	eng, notifier, _ := newTestEngine(mem)

	_, err := eng.ProcessScan(context.Background(), "T1")
	require.NoError(t, err)
	eng.release()
	_, err = eng.ProcessScan(context.Background(), "T1")
	require.NoError(t, err)
	eng.release()

	_, err = eng.ProcessScan(context.Background(), "T1")
	require.ErrorIs(t, err, attendance.ErrAlreadyCheckedOut)

	// No mutation, guard released right away.
	recs := mem.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, attendance.StatusOut, recs[0].Status)
	assert.False(t, eng.Busy())
	require.NotEmpty(t, notifier.failures)
	assert.Contains(t, notifier.failures[len(notifier.failures)-1], "already checked out")
}

func TestNextDayStartsNewCycle(t *testing.T) {
	mem := attendance.NewMemoryStore()
	eng, _, now := newTestEngine(mem)

	_, err := eng.ProcessScan(context.Background(), "T1")
	require.NoError(t, err)
	eng.release()
	_, err = eng.ProcessScan(context.Background(), "T1")
	require.NoError(t, err)
	eng.release()

	*now = now.AddDate(0, 0, 1)
	tr, err := eng.ProcessScan(context.Background(), "T1")
	require.NoError(t, err)

	assert.Equal(t, attendance.KindCheckIn, tr.Kind)
	assert.Equal(t, "2025-09-02", tr.Record.Date)
	assert.Len(t, mem.Records(), 2)
}

func TestUnknownTagMakesNoMutation(t *testing.T) {
	mem := attendance.NewMemoryStore()
	eng, notifier, _ := newTestEngine(mem)

	_, err := eng.ProcessScan(context.Background(), "ZZZ")
	require.ErrorIs(t, err, ErrStudentNotFound)

	assert.Empty(t, mem.Records())
	assert.False(t, eng.Busy())
	require.Len(t, notifier.failures, 1)
	assert.Contains(t, notifier.failures[0], "not found")
}

func TestGuardSerializesAndReopens(t *testing.T) {
	mem := attendance.NewMemoryStore()
	notifier := &captureNotifier{}
	eng := New(mem, testDirectory(), notifier, 30*time.Millisecond)
	now := baseTime
	eng.SetNow(func() time.Time { return now })

	_, err := eng.ProcessScan(context.Background(), "T1")
	require.NoError(t, err)

	// Rejected while processing/cooling down.
	_, err = eng.ProcessScan(context.Background(), "T2")
	require.ErrorIs(t, err, ErrBusy)

	// Accepted again within the short re-enable window.
	time.Sleep(80 * time.Millisecond)
	_, err = eng.ProcessScan(context.Background(), "T2")
	require.NoError(t, err)
}

type failingStore struct {
	*attendance.MemoryStore
	findErr  error
	writeErr error
}

func (s *failingStore) FindRecordForStudentToday(ctx context.Context, studentID, date string) (*attendance.Record, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.MemoryStore.FindRecordForStudentToday(ctx, studentID, date)
}

func (s *failingStore) Transition(ctx context.Context, f attendance.CreateFields, timeOut string) (attendance.Record, attendance.Kind, error) {
	if s.writeErr != nil {
		return attendance.Record{}, attendance.KindCheckIn, s.writeErr
	}
	return s.MemoryStore.Transition(ctx, f, timeOut)
}

func TestLookupFailureAbortsWithoutGuessing(t *testing.T) {
	failing := &failingStore{MemoryStore: attendance.NewMemoryStore(), findErr: assert.AnError}
	eng, notifier, _ := newTestEngine(failing)

	var hooked int
	eng.OnTransition(func(Transition) { hooked++ })

	_, err := eng.ProcessScan(context.Background(), "T1")
	require.ErrorIs(t, err, assert.AnError)

	assert.Empty(t, failing.Records())
	assert.Zero(t, hooked)
	assert.False(t, eng.Busy())
	require.Len(t, notifier.failures, 1)
}

func TestWriteFailureReleasesGuard(t *testing.T) {
	failing := &failingStore{MemoryStore: attendance.NewMemoryStore(), writeErr: assert.AnError}
	eng, notifier, _ := newTestEngine(failing)

	_, err := eng.ProcessScan(context.Background(), "T1")
	require.ErrorIs(t, err, assert.AnError)

	assert.Empty(t, failing.Records())
	assert.False(t, eng.Busy())
	require.Len(t, notifier.failures, 1)

	// A later valid scan goes through.
	failing.writeErr = nil
	_, err = eng.ProcessScan(context.Background(), "T1")
	require.NoError(t, err)
	assert.Len(t, failing.Records(), 1)
}
