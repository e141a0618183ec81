// Package engine decides, for each decoded RFID tag, whether the scan is a
// check-in or a check-out and persists exactly one record mutation.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"rfidmonitor/internal/attendance"
	"rfidmonitor/internal/directory"
	"rfidmonitor/internal/queue"
)

var (
	// ErrStudentNotFound means the scanned tag matches no cached student.
	ErrStudentNotFound = errors.New("engine: no student for scanned tag")
	// ErrBusy means a previous scan is still being processed.
	ErrBusy = errors.New("engine: scan already in progress")
)

// Transition is the event emitted after a scan's store write completed.
type Transition struct {
	Kind    attendance.Kind
	Student directory.Student
	Record  attendance.Record
	At      time.Time
}

// TransitionMessage is the queue payload consumed by the summary worker.
type TransitionMessage struct {
	RecordID string `json:"record_id"`
	Kind     string `json:"kind"`
	Date     string `json:"date"`
}

// Resolver is the read-only reference cache scans resolve against.
type Resolver interface {
	ByTag(tag string) (directory.Student, bool)
	CourseCode(courseID string) string
}

// Notifier receives the user-visible outcome of each scan.
type Notifier interface {
	Success(text string)
	Error(text string)
}

// Engine serializes scan processing: one scan runs from tag resolution to
// store write before the next is admitted, and the guard re-opens after a
// short cooldown so rapid distinct scans are not blocked by the much longer
// display timer.
type Engine struct {
	store    attendance.Store
	dir      Resolver
	notifier Notifier
	cooldown time.Duration
	now      func() time.Time

	onTransition func(Transition)
	publisher    queue.Queue

	mu            sync.Mutex
	busy          bool
	closed        bool
	cooldownTimer *time.Timer
}

// New creates an engine. A non-positive cooldown falls back to 2s.
func New(store attendance.Store, dir Resolver, notifier Notifier, cooldown time.Duration) *Engine {
	if cooldown <= 0 {
		cooldown = 2 * time.Second
	}
	return &Engine{
		store:    store,
		dir:      dir,
		notifier: notifier,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// OnTransition registers the hook invoked after each successful scan, once the
// store write is durable.
func (e *Engine) OnTransition(fn func(Transition)) { e.onTransition = fn }

// SetPublisher routes transition messages to the summary worker's queue.
func (e *Engine) SetPublisher(q queue.Queue) { e.publisher = q }

// SetNow overrides the clock, for tests.
func (e *Engine) SetNow(now func() time.Time) { e.now = now }

// Busy reports whether a scan is currently being processed or cooling down.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

// Close stops the cooldown timer. A closed engine accepts no further scans.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	if e.cooldownTimer != nil {
		e.cooldownTimer.Stop()
		e.cooldownTimer = nil
	}
	e.mu.Unlock()
}

// ProcessScan runs the full scan sequence for one tag. The guard is released
// on every path: immediately on failure, after the cooldown on success.
func (e *Engine) ProcessScan(ctx context.Context, tag string) (tr Transition, err error) {
	if !e.acquire() {
		return Transition{}, ErrBusy
	}
	defer func() {
		if err != nil {
			e.release()
		} else {
			e.releaseAfterCooldown()
		}
	}()
	return e.process(ctx, tag)
}

func (e *Engine) process(ctx context.Context, tag string) (Transition, error) {
	now := e.now()

	student, ok := e.dir.ByTag(tag)
	if !ok {
		scansTotal.WithLabelValues("unknown_tag").Inc()
		e.notifier.Error("Student data not found in local cache")
		return Transition{}, ErrStudentNotFound
	}

	// Classify first so a failed lookup aborts without guessing between
	// check-in and check-out.
	existing, err := e.store.FindRecordForStudentToday(ctx, student.StudentID, now.Format(attendance.DateLayout))
	if err != nil {
		scansTotal.WithLabelValues("store_error").Inc()
		e.notifier.Error("Failed to process attendance")
		return Transition{}, fmt.Errorf("record lookup: %w", err)
	}
	if existing != nil && existing.Status == attendance.StatusOut {
		scansTotal.WithLabelValues("already_out").Inc()
		e.notifier.Error(fmt.Sprintf("%s already checked out today", student.FullName()))
		return Transition{}, attendance.ErrAlreadyCheckedOut
	}

	fields := attendance.CreateFields{
		StudentID:   student.StudentID,
		StudentName: student.FullName(),
		Course:      e.dir.CourseCode(student.Course),
		Date:        now.Format(attendance.DateLayout),
		TimeIn:      now.Format(attendance.ClockLayout),
	}

	start := time.Now()
	rec, kind, err := e.store.Transition(ctx, fields, now.Format(attendance.ClockLayout))
	processSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, attendance.ErrAlreadyCheckedOut) {
			// A concurrent terminal beat this scan to the check-out.
			scansTotal.WithLabelValues("already_out").Inc()
			e.notifier.Error(fmt.Sprintf("%s already checked out today", student.FullName()))
			return Transition{}, err
		}
		scansTotal.WithLabelValues("store_error").Inc()
		e.notifier.Error("Failed to process attendance")
		return Transition{}, fmt.Errorf("record write: %w", err)
	}

	tr := Transition{Kind: kind, Student: student, Record: rec, At: now}
	if kind == attendance.KindCheckOut {
		scansTotal.WithLabelValues("checkout").Inc()
		e.notifier.Success(fmt.Sprintf("%s checked out successfully", student.FullName()))
	} else {
		scansTotal.WithLabelValues("checkin").Inc()
		e.notifier.Success(fmt.Sprintf("%s checked in successfully", student.FullName()))
	}

	e.publish(ctx, tr)
	if e.onTransition != nil {
		e.onTransition(tr)
	}
	return tr, nil
}

func (e *Engine) publish(ctx context.Context, tr Transition) {
	if e.publisher == nil {
		return
	}
	body, err := json.Marshal(TransitionMessage{
		RecordID: tr.Record.ID,
		Kind:     tr.Kind.String(),
		Date:     tr.Record.Date,
	})
	if err != nil {
		return
	}
	if err := e.publisher.Publish(ctx, queue.Message{Type: queue.TypeTransition, Body: body}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}

func (e *Engine) acquire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy || e.closed {
		return false
	}
	e.busy = true
	return true
}

func (e *Engine) release() {
	e.mu.Lock()
	e.busy = false
	if e.cooldownTimer != nil {
		e.cooldownTimer.Stop()
		e.cooldownTimer = nil
	}
	e.mu.Unlock()
}

func (e *Engine) releaseAfterCooldown() {
	e.mu.Lock()
	if e.cooldownTimer != nil {
		e.cooldownTimer.Stop()
	}
	e.cooldownTimer = time.AfterFunc(e.cooldown, e.release)
	e.mu.Unlock()
}
