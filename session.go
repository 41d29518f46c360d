package pdi

import (
	"fmt"
	"sync"
)

// State is the lifecycle state of a Session.
type State uint8

const (
	StateUninitialized State = iota
	StateLinkUp
	StateInReset
	StateProgramming
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLinkUp:
		return "link up"
	case StateInReset:
		return "in reset"
	case StateProgramming:
		return "programming"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Session is a PDI programming session with a single target. It owns the
// link, holds the target in reset while active, and serializes all NVM
// operations. It is safe for concurrent use.
type Session struct {
	mu     sync.Mutex
	link   *Link
	enc    *Encoder
	nvm    *controller
	target Target
	log    Logger
	state  State
	active bool
}

// NewSession creates a session on p and tri-states the PDI lines. The target
// is not touched until Begin.
func NewSession(p Platform, c SessionConfig) (*Session, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: platform not configured", ErrPkg)
	}
	c.Target.applyDefaults()
	if err := c.Target.validate(); err != nil {
		return nil, err
	}

	link := NewLink(p, c.Timing)
	if err := link.Init(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPkg, err)
	}

	s := &Session{
		link:   link,
		enc:    NewEncoder(link),
		target: c.Target,
		log:    c.Logger,
	}
	s.nvm = &controller{enc: s.enc, target: &s.target}
	return s, nil
}

func (s *Session) logger() Logger {
	if s.log != nil {
		return s.log
	}
	return globalLogger
}

func (s *Session) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return fmt.Sprintf("PDI(Target=%s, State=%s, GuardTime=%d)", s.target.Name, s.state, s.target.GuardTime)
}

// Target returns the memory layout the session was configured with.
func (s *Session) Target() Target {
	return s.target
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Active reports whether Begin completed and End has not been called since.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Begin wakes the PDI interface, puts the target into reset, sets the guard
// time and unlocks the NVM controller. Calling Begin on an active session
// does nothing.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begin()
}

// Call with lock held.
func (s *Session) begin() error {
	if s.active {
		return nil
	}
	s.logger().Info("Starting PDI session...")

	// 1. Wake-up sequence
	if err := s.link.Begin(); err != nil {
		if endErr := s.link.End(); endErr != nil {
			s.logger().Warn("Failed to release link: " + endErr.Error())
		}
		return fmt.Errorf("failed to bring up link: %w", err)
	}
	s.state = StateLinkUp

	// 2. Hold the target in reset so the CPU stays off the NVM
	if err := s.enterReset(); err != nil {
		return fmt.Errorf("failed to reset target: %w", err)
	}
	s.state = StateInReset

	// 3. Guard time before the target answers
	if err := s.setGuardTime(s.target.GuardTime); err != nil {
		return fmt.Errorf("failed to set guard time: %w", err)
	}

	// 4. Unlock the NVM controller
	if err := s.enc.SendKey(); err != nil {
		return fmt.Errorf("failed to send NVM key: %w", err)
	}
	s.state = StateProgramming
	s.active = true

	s.logger().Info("PDI session active.")
	return nil
}

// End releases the target and tri-states the PDI lines. Failures while
// waiting for the NVM controller or for the reset release are logged and
// otherwise ignored; only link teardown errors are returned. End on a session
// that never started or already ended does nothing.
func (s *Session) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.end()
}

// Call with lock held.
func (s *Session) end() error {
	if s.state == StateUninitialized || s.state == StateEnded {
		return nil
	}
	s.logger().Info("Ending PDI session...")
	s.active = false

	// The NVM bus only comes up after the key.
	if s.state == StateProgramming {
		if err := s.nvm.waitWhileBusy(); err != nil {
			s.logger().Warn("NVM controller still busy at session end: " + err.Error())
		}
	}
	if s.state != StateLinkUp {
		if err := s.exitResetAndWait(); err != nil {
			s.logger().Warn("Target did not leave reset: " + err.Error())
		}
	}

	err := s.link.End()
	s.state = StateEnded
	if err != nil {
		return fmt.Errorf("failed to shut down link: %w", err)
	}
	s.logger().Info("PDI session ended.")
	return nil
}

// Close ends the session. It lets a Session be used where an io.Closer is
// expected.
// This method is concurrent safe.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.end()
}

// Call with lock held.
func (s *Session) enterReset() error {
	return s.enc.StoreCS(CSReset, resetSignature)
}

// Call with lock held.
func (s *Session) exitReset() error {
	return s.enc.StoreCS(CSReset, 0)
}

// Call with lock held.
func (s *Session) inReset() (bool, error) {
	v, err := s.enc.LoadCS(CSReset)
	if err != nil {
		return false, err
	}
	return CSResetFlags(v).InReset(), nil
}

// exitResetAndWait keeps releasing the reset until the target reports it has
// left reset.
// Call with lock held.
func (s *Session) exitResetAndWait() error {
	for n := 0; s.target.ResetPollLimit < 0 || n < s.target.ResetPollLimit; n++ {
		if err := s.exitReset(); err != nil {
			return err
		}
		held, err := s.inReset()
		if err != nil {
			return err
		}
		if !held {
			return nil
		}
	}
	return fmt.Errorf("%w: %w", ErrPkg, ErrResetTimeout)
}

// Call with lock held.
func (s *Session) setGuardTime(g GuardTime) error {
	code, ok := g.Code()
	if !ok {
		return fmt.Errorf("%w: invalid guard time %d", ErrPkg, g)
	}
	return s.enc.StoreCS(CSControl, code)
}

// Call with lock held.
func (s *Session) checkActive() error {
	if !s.active {
		return fmt.Errorf("%w: %w", ErrPkg, ErrSessionInactive)
	}
	return nil
}
