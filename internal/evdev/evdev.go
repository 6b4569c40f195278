//go:build linux

// Package evdev holds the Linux input subsystem constants, the wire layout of
// struct input_event and the ioctl helpers shared by the evdev capture source
// and the uinput injector.
package evdev

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Event types.
const (
	EvSyn uint16 = 0x00
	EvKey uint16 = 0x01
	EvRel uint16 = 0x02
	EvAbs uint16 = 0x03
)

// Event codes.
const (
	SynReport uint16 = 0x00

	RelX      uint16 = 0x00
	RelY      uint16 = 0x01
	RelHWheel uint16 = 0x06
	RelWheel  uint16 = 0x08

	AbsX uint16 = 0x00
	AbsY uint16 = 0x01

	BtnMisc   uint16 = 0x100
	BtnLeft   uint16 = 0x110
	BtnRight  uint16 = 0x111
	BtnMiddle uint16 = 0x112
	BtnSide   uint16 = 0x113
	BtnExtra  uint16 = 0x114
	BtnLast   uint16 = 0x15f

	KeyMax uint16 = 0x2ff
)

// Key values carried by EV_KEY.
const (
	ValueRelease int32 = 0
	ValuePress   int32 = 1
	ValueRepeat  int32 = 2
)

// RawEvent mirrors struct input_event.
type RawEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// EventSize is the size of one struct input_event on this architecture.
var EventSize = binary.Size(RawEvent{})

// Decode splits buf into whole input_event records. Trailing partial records are ignored.
func Decode(buf []byte) ([]RawEvent, error) {
	count := len(buf) / EventSize
	out := make([]RawEvent, count)
	if count == 0 {
		return out, nil
	}
	if err := binary.Read(bytes.NewReader(buf[:count*EventSize]), binary.NativeEndian, out); err != nil {
		return nil, fmt.Errorf("decode input events: %w", err)
	}
	return out, nil
}

// Encode serialises events in kernel layout.
func Encode(events ...RawEvent) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, len(events)*EventSize))
	if err := binary.Write(buf, binary.NativeEndian, events); err != nil {
		return nil, fmt.Errorf("encode input events: %w", err)
	}
	return buf.Bytes(), nil
}

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

// EVIOCGNAME returns the request number for reading a device name into a buffer of size n.
func EVIOCGNAME(n int) uintptr {
	return ioc(iocRead, 'E', 0x06, uintptr(n))
}

// Ioctl issues a raw ioctl against an open device node.
func Ioctl(f *os.File, req, arg uintptr) error {
	conn, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var errno unix.Errno
	ctlErr := conn.Control(func(fd uintptr) {
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, req, arg)
	})
	if ctlErr != nil {
		return ctlErr
	}
	if errno != 0 {
		return errno
	}
	return nil
}

// DeviceName reads the human readable name of an open evdev node.
func DeviceName(f *os.File) (string, error) {
	buf := make([]byte, 256)
	if err := Ioctl(f, EVIOCGNAME(len(buf)), uintptr(unsafe.Pointer(&buf[0]))); err != nil {
		return "", err
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), nil
}
