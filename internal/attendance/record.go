package attendance

import (
	"context"
	"errors"
	"time"
)

// Layouts for the record's calendar date and clock fields. Times are kept as
// formatted display strings, matching what the monitor renders.
const (
	DateLayout  = "2006-01-02"
	ClockLayout = "03:04 PM"
)

// Status of a daily attendance record.
type Status string

const (
	StatusIn  Status = "IN"
	StatusOut Status = "OUT"
)

// Record is one student's attendance for one calendar date. At most one record
// exists per (StudentID, Date); TimeOut is set exactly when Status is OUT, and
// OUT is terminal for the day.
type Record struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"studentId"`
	StudentName string    `json:"studentName"`
	Course      string    `json:"course"`
	Date        string    `json:"date"`
	TimeIn      string    `json:"timeIn"`
	TimeOut     *string   `json:"timeOut,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CreateFields carries the denormalized snapshot written at check-in.
type CreateFields struct {
	StudentID   string
	StudentName string
	Course      string
	Date        string
	TimeIn      string
}

// Kind distinguishes the two halves of a daily attendance cycle.
type Kind int

const (
	KindCheckIn Kind = iota
	KindCheckOut
)

func (k Kind) String() string {
	if k == KindCheckOut {
		return "checkout"
	}
	return "checkin"
}

// ErrAlreadyCheckedOut is returned for a scan of a student whose record for the
// day is already terminal.
var ErrAlreadyCheckedOut = errors.New("attendance: already checked out today")

// Store is the persisted record collection the engine reads and mutates.
type Store interface {
	// FindRecordForStudentToday returns the record for (studentID, date), or
	// nil when the student has not been scanned that day.
	FindRecordForStudentToday(ctx context.Context, studentID, date string) (*Record, error)
	CreateRecord(ctx context.Context, f CreateFields) (Record, error)
	UpdateRecord(ctx context.Context, id, timeOut string, status Status) error

	// Transition performs the whole check-in-or-out decision atomically:
	// no record → create with StatusIn, StatusIn → flip to StatusOut with
	// timeOut, StatusOut → ErrAlreadyCheckedOut. Concurrent terminals scanning
	// the same student serialize here.
	Transition(ctx context.Context, f CreateFields, timeOut string) (Record, Kind, error)

	LatestRecords(ctx context.Context, limit int) ([]Record, error)

	// SubscribeLatest invokes onChange with the newest-first latest records,
	// immediately on subscribe and again after changes, until the returned
	// unsubscribe function is called.
	SubscribeLatest(ctx context.Context, limit int, onChange func([]Record)) (func(), error)
}

// SummaryStore is the slice of the store the summary worker consumes.
type SummaryStore interface {
	GetRecord(ctx context.Context, id string) (Record, error)
	BumpDailySummary(ctx context.Context, date string, kind Kind) error
}
