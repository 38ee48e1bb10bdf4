//go:build linux

package winmsg

import "golang.org/x/sys/unix"

// ThreadID returns the OS identifier of the calling thread.
func ThreadID() uint64 { return uint64(unix.Gettid()) }
