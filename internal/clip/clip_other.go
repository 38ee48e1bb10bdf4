//go:build !windows && !darwin && !linux

package clip

// New always fails on this platform.
func New() (Backend, error) { return nil, ErrUnavailable }
