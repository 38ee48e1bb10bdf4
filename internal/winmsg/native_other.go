//go:build !windows

package winmsg

type unsupported struct{}

// New returns a Native whose every call fails with ErrUnsupported.
func New() Native { return unsupported{} }

func (unsupported) InitThread() error                           { return ErrUnsupported }
func (unsupported) CreateWindow(string, WndProc) (Handle, error) { return 0, ErrUnsupported }
func (unsupported) SetMessageOnlyParent(Handle) error            { return ErrUnsupported }
func (unsupported) AddClipboardFormatListener(Handle) error      { return ErrUnsupported }
func (unsupported) DefWindowProc(Handle, uint32, uintptr, uintptr) uintptr {
	return 0
}
func (unsupported) RunMessageLoop() error { return ErrUnsupported }
