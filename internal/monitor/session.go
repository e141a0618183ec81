// Package monitor ties one terminal's scan decoder, attendance engine, and
// roster projector together and exposes them over HTTP.
package monitor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"rfidmonitor/internal/attendance"
	"rfidmonitor/internal/directory"
	"rfidmonitor/internal/engine"
	"rfidmonitor/internal/notify"
	"rfidmonitor/internal/queue"
	"rfidmonitor/internal/roster"
	"rfidmonitor/internal/scanner"
)

// Config carries the monitor timing knobs.
type Config struct {
	ScanTimeout  time.Duration
	ScanCooldown time.Duration
	DisplayReset time.Duration
	LatestLimit  int
}

// Session owns the per-terminal monitor state. Teardown cancels the decoder's
// pending scan timeout, the projector's reset timer, and the store
// subscription, so nothing fires against a discarded session.
type Session struct {
	TerminalID string
	Decoder    *scanner.Decoder
	Engine     *engine.Engine
	Projector  *roster.Projector
	Notifs     *notify.Hub

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	closeOnce   sync.Once
}

// NewSession wires a decoder, engine, and projector for one terminal.
func NewSession(ctx context.Context, terminalID string, store attendance.Store, dir *directory.Directory, q queue.Queue, cfg Config) (*Session, error) {
	sctx, cancel := context.WithCancel(ctx)

	hub := notify.NewHub()
	eng := engine.New(store, dir, hub, cfg.ScanCooldown)
	if q != nil {
		eng.SetPublisher(q)
	}
	proj := roster.New(cfg.DisplayReset)
	eng.OnTransition(proj.Apply)

	unsub, err := store.SubscribeLatest(sctx, cfg.LatestLimit, proj.SetTable)
	if err != nil {
		proj.Close()
		eng.Close()
		cancel()
		return nil, err
	}

	s := &Session{
		TerminalID:  terminalID,
		Engine:      eng,
		Projector:   proj,
		Notifs:      hub,
		ctx:         sctx,
		cancel:      cancel,
		unsubscribe: unsub,
	}
	s.Decoder = scanner.New(cfg.ScanTimeout, s.handleTag)
	return s, nil
}

// HandleKeys feeds raw key events from the terminal into the decoder.
func (s *Session) HandleKeys(events []scanner.KeyEvent) {
	for _, ev := range events {
		s.Decoder.HandleKey(ev)
	}
}

// handleTag runs a completed scan through the engine. Scans arriving while a
// previous one is still processing are refused at the guard without
// notification, matching the monitor's silent-drop behavior.
func (s *Session) handleTag(tag string) {
	if _, err := s.Engine.ProcessScan(s.ctx, tag); err != nil {
		if errors.Is(err, engine.ErrBusy) {
			log.Printf("terminal %s: scan dropped, engine busy", s.TerminalID)
			return
		}
		log.Printf("terminal %s: scan failed: %v", s.TerminalID, err)
	}
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.Decoder.Close()
		s.Engine.Close()
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.Projector.Close()
	})
}

// Registry creates and tracks sessions keyed by terminal id.
type Registry struct {
	ctx   context.Context
	store attendance.Store
	dir   *directory.Directory
	queue queue.Queue
	cfg   Config

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry; sessions are created on first use.
func NewRegistry(ctx context.Context, store attendance.Store, dir *directory.Directory, q queue.Queue, cfg Config) *Registry {
	return &Registry{
		ctx:      ctx,
		store:    store,
		dir:      dir,
		queue:    q,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Get returns the terminal's session, creating it when absent.
func (r *Registry) Get(terminalID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[terminalID]; ok {
		return s, nil
	}
	s, err := NewSession(r.ctx, terminalID, r.store, r.dir, r.queue, r.cfg)
	if err != nil {
		return nil, err
	}
	r.sessions[terminalID] = s
	return s, nil
}

// Remove closes and forgets the terminal's session.
func (r *Registry) Remove(terminalID string) {
	r.mu.Lock()
	s, ok := r.sessions[terminalID]
	delete(r.sessions, terminalID)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Close tears down every session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
