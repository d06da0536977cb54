// Package keylogger delivers global key-down events from the operating system.
package keylogger

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// NoChar is the code delivered for key presses that produce no character.
const NoChar uint16 = 0xFFFF

// EventBuffer is the capacity of the event channel. Events beyond it are dropped.
const EventBuffer = 1000

var (
	ErrUnsupported    = errors.New("keylogger: global key capture is not supported on this platform")
	ErrNoPermission   = errors.New("keylogger: accessibility permissions not granted - please enable in System Settings > Privacy & Security > Accessibility")
	ErrAlreadyRunning = errors.New("keylogger: already running")
	ErrTapFailed      = errors.New("keylogger: failed to create event tap")
)

// Event is one key-down action. Code is the UTF-16 unit the key produced, or NoChar.
type Event struct {
	Code uint16
	Time time.Time
}

// Feed is a running capture session.
type Feed struct {
	events   chan Event
	disabled chan struct{}
	dropped  atomic.Uint64

	closeOnce sync.Once
}

func newFeed() *Feed {
	return &Feed{
		events:   make(chan Event, EventBuffer),
		disabled: make(chan struct{}, 1),
	}
}

// Events returns the key-down stream. It is closed by Stop.
func (f *Feed) Events() <-chan Event { return f.events }

// Disabled fires when the OS disabled the tap. The tap has already been re-enabled;
// events typed in between are lost.
func (f *Feed) Disabled() <-chan struct{} { return f.disabled }

// Dropped returns how many events were discarded because the consumer fell behind.
func (f *Feed) Dropped() uint64 { return f.dropped.Load() }

// deliver never blocks: it runs on the OS callback thread.
func (f *Feed) deliver(code uint16, t time.Time) {
	select {
	case f.events <- Event{Code: code, Time: t}:
	default:
		f.dropped.Add(1)
	}
}

func (f *Feed) signalDisabled() {
	select {
	case f.disabled <- struct{}{}:
	default:
	}
}

func (f *Feed) close() {
	f.closeOnce.Do(func() { close(f.events) })
}

// startLoop runs setup and then run on one locked OS thread. It returns once setup
// has finished, with setup's error; run is skipped when setup fails. done closes when
// the thread is finished either way.
func startLoop(setup func() error, run func()) (done <-chan struct{}, err error) {
	ready := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := setup(); err != nil {
			ready <- err
			return
		}
		ready <- nil
		run()
	}()
	if err := <-ready; err != nil {
		<-finished
		return finished, err
	}
	return finished, nil
}
