package clipnotify

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyInitialized is returned when the listener window is
	// constructed a second time for the same Service.
	ErrAlreadyInitialized = errors.New("clipnotify: listener already initialized")

	// ErrNativeRegistration matches every *RegistrationError.
	ErrNativeRegistration = errors.New("clipnotify: native registration failed")

	// ErrShutdownUnsupported is returned by Close. The listener lives until
	// the process exits.
	ErrShutdownUnsupported = errors.New("clipnotify: shutdown is not supported")
)

// RegistrationError reports a failed platform call during listener setup.
type RegistrationError struct {
	Op  string
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("clipnotify: %s: %v", e.Op, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrNativeRegistration) hold for any
// RegistrationError.
func (e *RegistrationError) Is(target error) bool { return target == ErrNativeRegistration }

// CallbackFault describes a subscriber callback that panicked during
// dispatch. The fault is contained: remaining callbacks still run.
type CallbackFault struct {
	Token Token
	Event Event
	Value any
	Stack []byte
}

func (f *CallbackFault) Error() string {
	return fmt.Sprintf("clipnotify: subscriber %d panicked on notification %d: %v", f.Token, f.Event.Seq, f.Value)
}

// Unwrap returns the panic value when it was an error.
func (f *CallbackFault) Unwrap() error {
	err, _ := f.Value.(error)
	return err
}
