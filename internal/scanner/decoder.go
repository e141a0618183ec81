// Package scanner turns the keystroke stream of a keyboard-emulating RFID
// reader into complete tag strings.
package scanner

import (
	"sync"
	"time"
	"unicode/utf8"
)

// Terminator is the key most readers send after the tag characters.
const Terminator = "Enter"

// KeyEvent is one raw key press from the hosting page. Events that originate
// from text-input elements carry FromTextInput and are ignored, so typing in a
// form never leaks into a tag.
type KeyEvent struct {
	Key           string `json:"key"`
	FromTextInput bool   `json:"fromTextInput,omitempty"`
}

// Decoder accumulates printable characters into a tag buffer. The first
// character after an idle buffer arms an inter-character timeout; the
// terminator key emits immediately, the timeout emits whatever accumulated.
type Decoder struct {
	timeout time.Duration
	emit    func(tag string)

	mu    sync.Mutex
	buf   []byte
	timer *time.Timer
	done  bool
}

// New creates a decoder that calls emit once per completed scan. A
// non-positive timeout falls back to 500ms.
func New(timeout time.Duration, emit func(tag string)) *Decoder {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Decoder{timeout: timeout, emit: emit}
}

// HandleKey consumes one key event. Emission happens synchronously on the
// terminator key and from the timer goroutine on timeout.
func (d *Decoder) HandleKey(ev KeyEvent) {
	if ev.FromTextInput {
		return
	}

	if ev.Key == Terminator {
		d.mu.Lock()
		tag := d.takeLocked()
		d.mu.Unlock()
		if tag != "" {
			d.emit(tag)
		}
		return
	}

	// Readers send the tag as single printable characters.
	if utf8.RuneCountInString(ev.Key) != 1 {
		return
	}

	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return
	}
	if len(d.buf) == 0 {
		d.armLocked()
	}
	d.buf = append(d.buf, ev.Key...)
	d.mu.Unlock()
}

// Close cancels any pending timeout and drops the buffer.
func (d *Decoder) Close() {
	d.mu.Lock()
	d.done = true
	d.stopLocked()
	d.buf = nil
	d.mu.Unlock()
}

func (d *Decoder) armLocked() {
	d.stopLocked()
	d.timer = time.AfterFunc(d.timeout, d.flush)
}

func (d *Decoder) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// flush fires when the inter-character timeout elapses without a terminator.
func (d *Decoder) flush() {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return
	}
	tag := d.takeLocked()
	d.mu.Unlock()
	if tag != "" {
		d.emit(tag)
	}
}

// takeLocked returns and clears the buffer, cancelling the pending timeout.
func (d *Decoder) takeLocked() string {
	d.stopLocked()
	tag := string(d.buf)
	d.buf = d.buf[:0]
	return tag
}
