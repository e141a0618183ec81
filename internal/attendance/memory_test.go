package attendance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = "2025-09-01"

func fields(studentID string) CreateFields {
	return CreateFields{
		StudentID:   studentID,
		StudentName: "Juan Dela Cruz",
		Course:      "BSIT",
		Date:        day,
		TimeIn:      "08:00 AM",
	}
}

func TestTransitionFullCycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec, kind, err := s.Transition(ctx, fields("S-001"), "08:00 AM")
	require.NoError(t, err)
	assert.Equal(t, KindCheckIn, kind)
	assert.Equal(t, StatusIn, rec.Status)
	assert.Nil(t, rec.TimeOut)

	out, kind, err := s.Transition(ctx, fields("S-001"), "04:00 PM")
	require.NoError(t, err)
	assert.Equal(t, KindCheckOut, kind)
	assert.Equal(t, rec.ID, out.ID)
	assert.Equal(t, StatusOut, out.Status)
	require.NotNil(t, out.TimeOut)
	assert.Equal(t, "04:00 PM", *out.TimeOut)

	_, _, err = s.Transition(ctx, fields("S-001"), "05:00 PM")
	require.ErrorIs(t, err, ErrAlreadyCheckedOut)

	// The record never mutated past OUT and stayed unique for the day.
	require.Len(t, s.Records(), 1)
	assert.Equal(t, "04:00 PM", *s.Records()[0].TimeOut)
}

func TestCreateRejectsDuplicateDay(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.CreateRecord(ctx, fields("S-001"))
	require.NoError(t, err)
	_, err = s.CreateRecord(ctx, fields("S-001"))
	require.Error(t, err)
}

func TestUpdateRecordSetsCheckOut(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec, err := s.CreateRecord(ctx, fields("S-001"))
	require.NoError(t, err)
	require.NoError(t, s.UpdateRecord(ctx, rec.ID, "04:00 PM", StatusOut))

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOut, got.Status)
	require.NotNil(t, got.TimeOut)
	assert.Equal(t, "04:00 PM", *got.TimeOut)

	assert.Error(t, s.UpdateRecord(ctx, "missing", "04:00 PM", StatusOut))
}

func TestFindRecordForStudentToday(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	got, err := s.FindRecordForStudentToday(ctx, "S-001", day)
	require.NoError(t, err)
	assert.Nil(t, got)

	created, err := s.CreateRecord(ctx, fields("S-001"))
	require.NoError(t, err)

	got, err = s.FindRecordForStudentToday(ctx, "S-001", day)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)

	// Different date is a different cycle.
	got, err = s.FindRecordForStudentToday(ctx, "S-001", "2025-09-02")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestLatestRecordsNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2025, time.September, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for _, id := range []string{"S-001", "S-002", "S-003"} {
		_, err := s.CreateRecord(ctx, fields(id))
		require.NoError(t, err)
	}

	recs, err := s.LatestRecords(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "S-003", recs[0].StudentID)
	assert.Equal(t, "S-002", recs[1].StudentID)
}

func TestSubscribeLatestFiresOnChanges(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var calls [][]Record
	unsub, err := s.SubscribeLatest(ctx, 10, func(recs []Record) {
		calls = append(calls, recs)
	})
	require.NoError(t, err)

	// Fired once on subscribe.
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0])

	_, err = s.CreateRecord(ctx, fields("S-001"))
	require.NoError(t, err)
	require.Len(t, calls, 2)
	require.Len(t, calls[1], 1)

	unsub()
	_, err = s.CreateRecord(ctx, fields("S-002"))
	require.NoError(t, err)
	assert.Len(t, calls, 2)
}

func TestDailySummaryCounters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.BumpDailySummary(ctx, day, KindCheckIn))
	require.NoError(t, s.BumpDailySummary(ctx, day, KindCheckIn))
	require.NoError(t, s.BumpDailySummary(ctx, day, KindCheckOut))

	checkins, checkouts := s.DailySummary(day)
	assert.Equal(t, 2, checkins)
	assert.Equal(t, 1, checkouts)
}
