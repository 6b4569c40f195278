//go:build linux

package evdev

import "unsafe"

// MaxNameSize is UINPUT_MAX_NAME_SIZE.
const MaxNameSize = 80

// InputID mirrors struct input_id.
type InputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// UinputSetup mirrors struct uinput_setup.
type UinputSetup struct {
	ID           InputID
	Name         [MaxNameSize]byte
	FFEffectsMax uint32
}

// BusVirtual is BUS_VIRTUAL.
const BusVirtual uint16 = 0x06

var (
	UIDevCreate  = ioc(iocNone, 'U', 1, 0)
	UIDevDestroy = ioc(iocNone, 'U', 2, 0)
	UIDevSetup   = ioc(iocWrite, 'U', 3, unsafe.Sizeof(UinputSetup{}))
	UISetEvBit   = ioc(iocWrite, 'U', 100, unsafe.Sizeof(int32(0)))
	UISetKeyBit  = ioc(iocWrite, 'U', 101, unsafe.Sizeof(int32(0)))
	UISetRelBit  = ioc(iocWrite, 'U', 102, unsafe.Sizeof(int32(0)))
)
