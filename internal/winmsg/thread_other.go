//go:build !windows && !linux

package winmsg

// ThreadID returns 0: this platform has no portable thread identifier, so
// callers cannot tell whether they run on the pump thread.
func ThreadID() uint64 { return 0 }
