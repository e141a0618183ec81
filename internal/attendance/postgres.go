package attendance

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"rfidmonitor/internal/store"
)

// PostgresStore persists attendance records in Postgres. When a Redis handle is
// provided, writes publish an invalidation message so SubscribeLatest wakes up
// across processes; without it, subscribers fall back to polling alone.
type PostgresStore struct {
	db           *sql.DB
	redis        *store.Redis
	pollInterval time.Duration
}

// NewPostgresStore creates a store over an open database handle.
func NewPostgresStore(db *sql.DB, r *store.Redis) *PostgresStore {
	return &PostgresStore{db: db, redis: r, pollInterval: 15 * time.Second}
}

const recordColumns = `id, student_id, student_name, course, date, time_in, time_out, status, created_at`

func scanRecord(row interface{ Scan(dest ...any) error }) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.StudentName, &rec.Course,
		&rec.Date, &rec.TimeIn, &rec.TimeOut, &rec.Status, &rec.CreatedAt)
	return rec, err
}

// FindRecordForStudentToday returns today's record for a student, or nil.
func (s *PostgresStore) FindRecordForStudentToday(ctx context.Context, studentID, date string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = $1 AND date = $2
	`, studentID, date)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// CreateRecord inserts a fresh check-in record.
func (s *PostgresStore) CreateRecord(ctx context.Context, f CreateFields) (Record, error) {
	rec := Record{
		ID:          uuid.NewString(),
		StudentID:   f.StudentID,
		StudentName: f.StudentName,
		Course:      f.Course,
		Date:        f.Date,
		TimeIn:      f.TimeIn,
		Status:      StatusIn,
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, student_id, student_name, course, date, time_in, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at
	`, rec.ID, rec.StudentID, rec.StudentName, rec.Course, rec.Date, rec.TimeIn, rec.Status)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return Record{}, err
	}
	s.notifyLatest(ctx)
	return rec, nil
}

// UpdateRecord sets the check-out half of a record.
func (s *PostgresStore) UpdateRecord(ctx context.Context, id, timeOut string, status Status) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE attendance_records
		SET time_out = $2, status = $3
		WHERE id = $1
	`, id, timeOut, status)
	if err == nil {
		s.notifyLatest(ctx)
	}
	return err
}

// Transition decides check-in vs check-out inside one transaction. The row
// lock plus the unique (student_id, date) index serialize concurrent scans of
// the same student from different terminals.
func (s *PostgresStore) Transition(ctx context.Context, f CreateFields, timeOut string) (Record, Kind, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, KindCheckIn, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = $1 AND date = $2
		FOR UPDATE
	`, f.StudentID, f.Date)
	rec, err := scanRecord(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		rec = Record{
			ID:          uuid.NewString(),
			StudentID:   f.StudentID,
			StudentName: f.StudentName,
			Course:      f.Course,
			Date:        f.Date,
			TimeIn:      f.TimeIn,
			Status:      StatusIn,
		}
		created := tx.QueryRowContext(ctx, `
			INSERT INTO attendance_records (id, student_id, student_name, course, date, time_in, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			RETURNING created_at
		`, rec.ID, rec.StudentID, rec.StudentName, rec.Course, rec.Date, rec.TimeIn, rec.Status)
		if err := created.Scan(&rec.CreatedAt); err != nil {
			return Record{}, KindCheckIn, err
		}
		if err := tx.Commit(); err != nil {
			return Record{}, KindCheckIn, err
		}
		s.notifyLatest(ctx)
		return rec, KindCheckIn, nil

	case err != nil:
		return Record{}, KindCheckIn, err

	case rec.Status == StatusOut:
		return Record{}, KindCheckOut, ErrAlreadyCheckedOut

	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE attendance_records SET time_out = $2, status = $3 WHERE id = $1
		`, rec.ID, timeOut, StatusOut); err != nil {
			return Record{}, KindCheckOut, err
		}
		if err := tx.Commit(); err != nil {
			return Record{}, KindCheckOut, err
		}
		rec.TimeOut = &timeOut
		rec.Status = StatusOut
		s.notifyLatest(ctx)
		return rec, KindCheckOut, nil
	}
}

// GetRecord returns a single record by id.
func (s *PostgresStore) GetRecord(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM attendance_records WHERE id = $1
	`, id)
	return scanRecord(row)
}

// LatestRecords returns the newest records first.
func (s *PostgresStore) LatestRecords(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// SubscribeLatest pushes the latest records on subscribe, on Redis
// invalidation messages, and on a polling fallback tick.
func (s *PostgresStore) SubscribeLatest(ctx context.Context, limit int, onChange func([]Record)) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)

	var pubsub *redis.PubSub
	var wake <-chan *redis.Message
	if s.redis != nil && s.redis.Client != nil {
		pubsub = s.redis.Client.Subscribe(subCtx, store.ChannelLatest)
		wake = pubsub.Channel()
	}

	push := func() {
		recs, err := s.LatestRecords(subCtx, limit)
		if err != nil {
			if subCtx.Err() == nil {
				log.Printf("latest records fetch failed: %v", err)
			}
			return
		}
		onChange(recs)
	}

	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		push()
		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
				push()
			case _, ok := <-wake:
				if !ok {
					wake = nil
					continue
				}
				push()
			}
		}
	}()

	return func() {
		cancel()
		if pubsub != nil {
			_ = pubsub.Close()
		}
	}, nil
}

// BumpDailySummary increments the per-date counters maintained by the worker.
func (s *PostgresStore) BumpDailySummary(ctx context.Context, date string, kind Kind) error {
	checkins, checkouts := 0, 0
	if kind == KindCheckOut {
		checkouts = 1
	} else {
		checkins = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_daily_summary (date, checkins, checkouts)
		VALUES ($1, $2, $3)
		ON CONFLICT (date) DO UPDATE SET
			checkins = attendance_daily_summary.checkins + EXCLUDED.checkins,
			checkouts = attendance_daily_summary.checkouts + EXCLUDED.checkouts
	`, date, checkins, checkouts)
	return err
}

func (s *PostgresStore) notifyLatest(ctx context.Context) {
	if s.redis != nil {
		s.redis.Notify(ctx, store.ChannelLatest, "changed")
	}
}
