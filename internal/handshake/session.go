package handshake

import (
	"sync"
	"sync/atomic"
	"time"
)

// State of a handshake session. Every state but Pending is terminal.
type State int32

const (
	Pending State = iota
	Succeeded
	Failed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed-out"
	}
	return "unknown"
}

// Outcome is the terminal result of a session. Message is the text shown to
// the user; Error is the error text carried by a failure result, if any.
type Outcome struct {
	State   State
	Message string
	Error   string
}

// Options configure a session. Zero values take the defaults below.
type Options struct {
	Timeout   time.Duration // 5s
	Countdown int           // 5 ticks
	Tick      time.Duration // 1s
	// OnTick is called with the remaining ticks while the success countdown runs.
	OnTick func(remaining int)
	// OnClose is called once when the countdown reaches zero.
	OnClose func()
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.Countdown < 0 {
		o.Countdown = 0
	} else if o.Countdown == 0 {
		o.Countdown = 5
	}
	if o.Tick <= 0 {
		o.Tick = time.Second
	}
	return o
}

// Session is one run of the handshake. The deadline timer and the bus
// listener are the only event sources; the first one to move the session out
// of Pending wins and the other becomes a no-op.
type Session struct {
	code     string
	opts     Options
	deadline time.Time

	outcome atomic.Pointer[Outcome]

	mu          sync.Mutex
	timer       *time.Timer
	unsubscribe func()

	terminal  chan struct{}
	done      chan struct{}
	stop      chan struct{}
	doneOnce  sync.Once
	stopOnce  sync.Once
	dismissed atomic.Bool
}

// Start runs the handshake for code on bus. An empty code fails immediately
// and nothing is published.
func Start(bus Bus, code string, opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		code:     code,
		opts:     opts,
		terminal: make(chan struct{}),
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}

	if code == "" {
		s.finish(Outcome{State: Failed, Message: MissingCodeText, Error: "missing code"})
		return s
	}

	s.mu.Lock()
	s.deadline = time.Now().Add(opts.Timeout)
	s.unsubscribe = bus.Subscribe(s.onMessage)
	s.timer = time.AfterFunc(opts.Timeout, func() {
		s.finish(Outcome{State: TimedOut, Message: TimeoutText})
	})
	s.mu.Unlock()

	bus.Publish(Request(code))
	return s
}

func (s *Session) onMessage(m Message) {
	if m.Type != ResultType {
		return
	}
	// the timer goroutine may not have run yet
	if !time.Now().Before(s.Deadline()) {
		s.finish(Outcome{State: TimedOut, Message: TimeoutText})
		return
	}
	switch {
	case m.Success == nil:
		s.finish(Outcome{State: Failed, Message: FailureMessage(m.Error), Error: "malformed result"})
	case *m.Success:
		s.finish(Outcome{State: Succeeded, Message: CountdownMessage(s.opts.Countdown)})
	default:
		s.finish(Outcome{State: Failed, Message: FailureMessage(m.Error), Error: m.Error})
	}
}

func (s *Session) finish(o Outcome) bool {
	if s.dismissed.Load() {
		return false
	}
	if !s.outcome.CompareAndSwap(nil, &o) {
		return false
	}
	s.release()
	close(s.terminal)

	if o.State == Succeeded {
		go s.countdown()
	} else {
		s.closeDone()
	}
	return true
}

// release disarms the timer and removes the listener. Safe to call repeatedly.
func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

func (s *Session) countdown() {
	defer s.closeDone()

	remaining := s.opts.Countdown
	if remaining > 0 && s.opts.OnTick != nil {
		s.opts.OnTick(remaining)
	}

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()
	for remaining > 0 {
		select {
		case <-ticker.C:
			remaining--
			if remaining > 0 && s.opts.OnTick != nil {
				s.opts.OnTick(remaining)
			}
		case <-s.stop:
			return
		}
	}
	if s.opts.OnClose != nil {
		s.opts.OnClose()
	}
}

func (s *Session) closeDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Dismiss tears the session down from the outside: the listener and timer are
// released and a running countdown stops without calling OnClose. A pending
// session stays pending and never transitions afterwards.
func (s *Session) Dismiss() {
	s.dismissed.Store(true)
	s.release()
	s.stopOnce.Do(func() { close(s.stop) })
	if o := s.outcome.Load(); o == nil || o.State != Succeeded {
		s.closeDone()
	}
}

// Code returns the one-time code the session was started with.
func (s *Session) Code() string { return s.code }

// Deadline is fixed at start; zero when the session failed before arming.
func (s *Session) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// State returns the current state.
func (s *Session) State() State {
	if o := s.outcome.Load(); o != nil {
		return o.State
	}
	return Pending
}

// Outcome returns the terminal outcome, or a Pending outcome.
func (s *Session) Outcome() Outcome {
	if o := s.outcome.Load(); o != nil {
		return *o
	}
	return Outcome{State: Pending, Message: PendingText}
}

// Terminal is closed when the session leaves Pending.
func (s *Session) Terminal() <-chan struct{} { return s.terminal }

// Done is closed once the session holds no more resources: after a failure or
// timeout, after the success countdown, or after Dismiss.
func (s *Session) Done() <-chan struct{} { return s.done }
