// Package roster maintains the monitor's ephemeral display state: the
// featured (just scanned) student, the bounded recently-scanned list, and the
// recent-attendance table fed by the store's live subscription.
package roster

import (
	"time"

	"rfidmonitor/internal/attendance"
	"rfidmonitor/internal/directory"
	"rfidmonitor/internal/engine"
)

// Phase of the featured display. The only transitions are
// WAITING → CHECKED IN → CHECKED OUT and, from either scanned phase, the idle
// timeout back to WAITING.
type Phase string

const (
	PhaseWaiting    Phase = "WAITING"
	PhaseCheckedIn  Phase = "CHECKED IN"
	PhaseCheckedOut Phase = "CHECKED OUT"
)

const (
	// RecentCapacity bounds the recently-scanned list.
	RecentCapacity = 3
	// TableSize bounds the recent-attendance table exposed to clients.
	TableSize = 7
)

// RecentEntry is a student displaced from the featured slot, with display
// time and status frozen at the moment of displacement.
type RecentEntry struct {
	Student directory.Student `json:"student"`
	Time    string            `json:"time"`
	Status  attendance.Status `json:"status"`
}

// Snapshot is the read-only view rendered by the presentation layer.
type Snapshot struct {
	Phase   Phase               `json:"phase"`
	Student *directory.Student  `json:"student,omitempty"`
	Recents []RecentEntry       `json:"recents"`
	Table   []attendance.Record `json:"table"`
}

type featured struct {
	student directory.Student
	status  attendance.Status
	display string
}

// Projector consumes engine transitions and store feed updates on a single
// dispatcher goroutine, so ordering and timer lifecycle need no locks.
type Projector struct {
	resetAfter time.Duration

	transitions chan engine.Transition
	tables      chan []attendance.Record
	snapshots   chan chan Snapshot
	quit        chan struct{}
	done        chan struct{}

	// Owned by the run loop.
	phase      Phase
	current    *featured
	recents    []RecentEntry
	table      []attendance.Record
	resetTimer *time.Timer
}

// New starts a projector whose featured display resets to WAITING after
// resetAfter without a new scan. Non-positive falls back to 30s.
func New(resetAfter time.Duration) *Projector {
	if resetAfter <= 0 {
		resetAfter = 30 * time.Second
	}
	p := &Projector{
		resetAfter:  resetAfter,
		transitions: make(chan engine.Transition),
		tables:      make(chan []attendance.Record),
		snapshots:   make(chan chan Snapshot),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		phase:       PhaseWaiting,
	}
	go p.run()
	return p
}

// Apply feeds one engine transition into the projector.
func (p *Projector) Apply(tr engine.Transition) {
	select {
	case p.transitions <- tr:
	case <-p.quit:
	}
}

// SetTable replaces the recent-attendance table from the store's live feed.
// It is not gated by the engine's processing state.
func (p *Projector) SetTable(recs []attendance.Record) {
	select {
	case p.tables <- recs:
	case <-p.quit:
	}
}

// Snapshot returns the current display state.
func (p *Projector) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case p.snapshots <- reply:
		return <-reply
	case <-p.done:
		return Snapshot{Phase: PhaseWaiting}
	}
}

// Close stops the dispatcher and cancels the reset timer.
func (p *Projector) Close() {
	select {
	case <-p.quit:
	default:
		close(p.quit)
	}
	<-p.done
}

func (p *Projector) run() {
	defer close(p.done)
	for {
		select {
		case tr := <-p.transitions:
			p.apply(tr)
		case recs := <-p.tables:
			p.table = recs
		case reply := <-p.snapshots:
			reply <- p.snapshot()
		case <-p.resetC():
			p.resetTimer = nil
			p.idle()
		case <-p.quit:
			if p.resetTimer != nil {
				p.resetTimer.Stop()
				p.resetTimer = nil
			}
			return
		}
	}
}

func (p *Projector) resetC() <-chan time.Time {
	if p.resetTimer == nil {
		return nil
	}
	return p.resetTimer.C
}

func (p *Projector) apply(tr engine.Transition) {
	// Re-scanning the still-featured student updates in place; only a
	// different student displaces the featured one into recents.
	if p.current != nil && p.current.student.StudentID != tr.Student.StudentID {
		p.pushRecent(RecentEntry{
			Student: p.current.student,
			Time:    p.current.display,
			Status:  p.current.status,
		})
	}

	status := attendance.StatusIn
	p.phase = PhaseCheckedIn
	if tr.Kind == attendance.KindCheckOut {
		status = attendance.StatusOut
		p.phase = PhaseCheckedOut
	}
	p.current = &featured{
		student: tr.Student,
		status:  status,
		display: tr.At.Format(attendance.ClockLayout),
	}

	if p.resetTimer != nil {
		p.resetTimer.Stop()
	}
	p.resetTimer = time.NewTimer(p.resetAfter)
}

// idle fires when the featured student was never displaced by a later scan.
func (p *Projector) idle() {
	if p.current != nil && !p.inRecents(p.current.student.StudentID) {
		p.pushRecent(RecentEntry{
			Student: p.current.student,
			Time:    p.current.display,
			Status:  p.current.status,
		})
	}
	p.current = nil
	p.phase = PhaseWaiting
}

func (p *Projector) pushRecent(entry RecentEntry) {
	p.recents = append([]RecentEntry{entry}, p.recents...)
	if len(p.recents) > RecentCapacity {
		p.recents = p.recents[:RecentCapacity]
	}
}

func (p *Projector) inRecents(studentID string) bool {
	for _, r := range p.recents {
		if r.Student.StudentID == studentID {
			return true
		}
	}
	return false
}

func (p *Projector) snapshot() Snapshot {
	snap := Snapshot{Phase: p.phase}
	if p.current != nil {
		student := p.current.student
		snap.Student = &student
	}
	snap.Recents = append([]RecentEntry(nil), p.recents...)
	table := p.table
	if len(table) > TableSize {
		table = table[:TableSize]
	}
	snap.Table = append([]attendance.Record(nil), table...)
	return snap
}
