//go:build windows

package winmsg

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")

	procRegisterClassExW           = user32.NewProc("RegisterClassExW")
	procCreateWindowExW            = user32.NewProc("CreateWindowExW")
	procSetParent                  = user32.NewProc("SetParent")
	procAddClipboardFormatListener = user32.NewProc("AddClipboardFormatListener")
	procDefWindowProcW             = user32.NewProc("DefWindowProcW")
	procGetMessageW                = user32.NewProc("GetMessageW")
	procTranslateMessage           = user32.NewProc("TranslateMessage")
	procDispatchMessageW           = user32.NewProc("DispatchMessageW")
)

// hwndMessage is HWND_MESSAGE, ((HWND)-3).
const hwndMessage = ^uintptr(2)

// sFalse is returned by CoInitializeEx when the thread already belongs to
// the requested apartment.
const sFalse = windows.Errno(1)

type wndClassEx struct {
	Size       uint32
	Style      uint32
	WndProc    uintptr
	ClsExtra   int32
	WndExtra   int32
	Instance   windows.Handle
	Icon       windows.Handle
	Cursor     windows.Handle
	Background windows.Handle
	MenuName   *uint16
	ClassName  *uint16
	IconSm     windows.Handle
}

type point struct {
	X, Y int32
}

type msg struct {
	Hwnd    uintptr
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      point
	Private uint32
}

// classSeq keeps class names unique when several natives live in one process.
var classSeq atomic.Uint32

type native struct {
	proc     WndProc
	callback uintptr
}

// New returns the user32-backed Native.
func New() Native { return &native{} }

func (n *native) InitThread() error {
	err := windows.CoInitializeEx(0, windows.COINIT_APARTMENTTHREADED)
	if err != nil && !errors.Is(err, sFalse) {
		return fmt.Errorf("CoInitializeEx: %w", err)
	}
	return nil
}

func (n *native) CreateWindow(class string, proc WndProc) (Handle, error) {
	var inst windows.Handle
	if err := windows.GetModuleHandleEx(0, nil, &inst); err != nil {
		return 0, fmt.Errorf("GetModuleHandleEx: %w", err)
	}

	name, err := windows.UTF16PtrFromString(fmt.Sprintf("%s.%d", class, classSeq.Add(1)))
	if err != nil {
		return 0, err
	}

	n.proc = proc
	n.callback = windows.NewCallback(n.wndProc)

	wc := wndClassEx{
		WndProc:   n.callback,
		Instance:  inst,
		ClassName: name,
	}
	wc.Size = uint32(unsafe.Sizeof(wc))
	if r, _, err := procRegisterClassExW.Call(uintptr(unsafe.Pointer(&wc))); r == 0 {
		return 0, fmt.Errorf("RegisterClassExW: %w", lastError(err))
	}

	hwnd, _, err := procCreateWindowExW.Call(
		0,
		uintptr(unsafe.Pointer(name)),
		0, // no title
		0, // no style: never visible
		0, 0, 0, 0,
		0, // parent set afterwards by SetMessageOnlyParent
		0,
		uintptr(inst),
		0,
	)
	if hwnd == 0 {
		return 0, fmt.Errorf("CreateWindowExW: %w", lastError(err))
	}
	return Handle(hwnd), nil
}

func (n *native) SetMessageOnlyParent(h Handle) error {
	// SetParent returns the previous parent, which is NULL for an unowned
	// window, so failure is only signalled through the last error.
	r, _, err := procSetParent.Call(uintptr(h), hwndMessage)
	if r == 0 && !isSuccess(err) {
		return fmt.Errorf("SetParent(HWND_MESSAGE): %w", err)
	}
	return nil
}

func (n *native) AddClipboardFormatListener(h Handle) error {
	if r, _, err := procAddClipboardFormatListener.Call(uintptr(h)); r == 0 {
		return fmt.Errorf("AddClipboardFormatListener: %w", lastError(err))
	}
	return nil
}

func (n *native) DefWindowProc(h Handle, m uint32, wParam, lParam uintptr) uintptr {
	r, _, _ := procDefWindowProcW.Call(uintptr(h), uintptr(m), wParam, lParam)
	return r
}

func (n *native) RunMessageLoop() error {
	var m msg
	for {
		r, _, err := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		switch int32(r) {
		case -1:
			return fmt.Errorf("GetMessageW: %w", lastError(err))
		case 0:
			return nil // WM_QUIT
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&m)))
		procDispatchMessageW.Call(uintptr(unsafe.Pointer(&m)))
	}
}

func (n *native) wndProc(hwnd, m, wParam, lParam uintptr) uintptr {
	if n.proc == nil {
		return n.DefWindowProc(Handle(hwnd), uint32(m), wParam, lParam)
	}
	return n.proc(Handle(hwnd), uint32(m), wParam, lParam)
}

func isSuccess(err error) bool {
	var errno windows.Errno
	return err == nil || (errors.As(err, &errno) && errno == 0)
}

var errNoLastError = errors.New("call failed without setting a last error")

// lastError replaces the "operation completed successfully" errno that
// LazyProc.Call reports when the API did not set one.
func lastError(err error) error {
	if isSuccess(err) {
		return errNoLastError
	}
	return err
}
