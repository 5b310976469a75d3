package listener

import (
	"errors"
	"fmt"
	"syscall"
)

// State is the lifecycle state of the listener.
type State int

const (
	Stopped State = iota
	Starting
	Listening
	Draining
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Listening:
		return "listening"
	case Draining:
		return "draining"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// BindError reports a failed socket bind.
type BindError struct {
	Host string
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("listener: bind %s:%d: %v", e.Host, e.Port, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// AddrInUse reports whether the address was already taken.
func (e *BindError) AddrInUse() bool {
	return errors.Is(e.Err, syscall.EADDRINUSE)
}

// Policy decides what happens after a bind failure other than
// address-in-use.
type Policy int

const (
	// PolicyContinue reports the error and keeps the process running with
	// the listener stopped.
	PolicyContinue Policy = iota
	// PolicyExit reports the error and exits the process with status 1.
	PolicyExit
)

// ParsePolicy maps "continue" and "exit" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "continue", "":
		return PolicyContinue, nil
	case "exit":
		return PolicyExit, nil
	}
	return PolicyContinue, fmt.Errorf("listener: unknown bind failure policy %q", s)
}
