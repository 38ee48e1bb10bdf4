//go:build windows

package winmsg

import "golang.org/x/sys/windows"

// ThreadID returns the OS identifier of the calling thread.
func ThreadID() uint64 { return uint64(windows.GetCurrentThreadId()) }
