package attendance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local store backend for dev and tests. It keeps the
// same invariants as the Postgres backend, serialized by a single mutex.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
	summary map[string][2]int // date -> {checkins, checkouts}
	subs    map[int]memorySub
	nextSub int
	now     func() time.Time
}

type memorySub struct {
	limit    int
	onChange func([]Record)
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		summary: make(map[string][2]int),
		subs:    make(map[int]memorySub),
		now:     time.Now,
	}
}

// FindRecordForStudentToday returns the record for (studentID, date), or nil.
func (s *MemoryStore) FindRecordForStudentToday(_ context.Context, studentID, date string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(studentID, date); i >= 0 {
		rec := s.records[i]
		return &rec, nil
	}
	return nil, nil
}

// CreateRecord inserts a fresh check-in record.
func (s *MemoryStore) CreateRecord(_ context.Context, f CreateFields) (Record, error) {
	s.mu.Lock()
	if s.indexOf(f.StudentID, f.Date) >= 0 {
		s.mu.Unlock()
		return Record{}, errors.New("attendance: record already exists for student and date")
	}
	rec := s.insertLocked(f)
	s.mu.Unlock()
	s.notify()
	return rec, nil
}

// UpdateRecord sets the check-out half of a record.
func (s *MemoryStore) UpdateRecord(_ context.Context, id, timeOut string, status Status) error {
	s.mu.Lock()
	found := false
	for i := range s.records {
		if s.records[i].ID == id {
			out := timeOut
			s.records[i].TimeOut = &out
			s.records[i].Status = status
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return errors.New("attendance: record not found")
	}
	s.notify()
	return nil
}

// Transition decides check-in vs check-out under the store mutex.
func (s *MemoryStore) Transition(_ context.Context, f CreateFields, timeOut string) (Record, Kind, error) {
	s.mu.Lock()
	i := s.indexOf(f.StudentID, f.Date)
	if i < 0 {
		rec := s.insertLocked(f)
		s.mu.Unlock()
		s.notify()
		return rec, KindCheckIn, nil
	}
	if s.records[i].Status == StatusOut {
		s.mu.Unlock()
		return Record{}, KindCheckOut, ErrAlreadyCheckedOut
	}
	out := timeOut
	s.records[i].TimeOut = &out
	s.records[i].Status = StatusOut
	rec := s.records[i]
	s.mu.Unlock()
	s.notify()
	return rec, KindCheckOut, nil
}

// GetRecord returns a single record by id.
func (s *MemoryStore) GetRecord(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return Record{}, errors.New("attendance: record not found")
}

// LatestRecords returns the newest records first.
func (s *MemoryStore) LatestRecords(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestLocked(limit), nil
}

// SubscribeLatest registers a change callback, invoking it once immediately.
func (s *MemoryStore) SubscribeLatest(_ context.Context, limit int, onChange func([]Record)) (func(), error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = memorySub{limit: limit, onChange: onChange}
	initial := s.latestLocked(limit)
	s.mu.Unlock()

	onChange(initial)
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}

// BumpDailySummary increments the per-date counters.
func (s *MemoryStore) BumpDailySummary(_ context.Context, date string, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := s.summary[date]
	if kind == KindCheckOut {
		counts[1]++
	} else {
		counts[0]++
	}
	s.summary[date] = counts
	return nil
}

// DailySummary reports the counters for a date.
func (s *MemoryStore) DailySummary(date string) (checkins, checkouts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := s.summary[date]
	return counts[0], counts[1]
}

// Records returns a copy of everything stored, for assertions in tests.
func (s *MemoryStore) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *MemoryStore) indexOf(studentID, date string) int {
	for i := range s.records {
		if s.records[i].StudentID == studentID && s.records[i].Date == date {
			return i
		}
	}
	return -1
}

func (s *MemoryStore) insertLocked(f CreateFields) Record {
	rec := Record{
		ID:          uuid.NewString(),
		StudentID:   f.StudentID,
		StudentName: f.StudentName,
		Course:      f.Course,
		Date:        f.Date,
		TimeIn:      f.TimeIn,
		Status:      StatusIn,
		CreatedAt:   s.now(),
	}
	s.records = append(s.records, rec)
	return rec
}

func (s *MemoryStore) latestLocked(limit int) []Record {
	if limit <= 0 {
		limit = 20
	}
	sorted := make([]Record, len(s.records))
	copy(sorted, s.records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

func (s *MemoryStore) notify() {
	s.mu.Lock()
	subs := make([]memorySub, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		recs, _ := s.LatestRecords(context.Background(), sub.limit)
		sub.onChange(recs)
	}
}
