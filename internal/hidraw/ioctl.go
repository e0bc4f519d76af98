// Package hidraw implements the raw-HID I/O channel: a DeviceIo that
// opens the kernel's /dev/hidrawN character device, issues
// feature-report ioctls, and provides the request/response correlation
// primitive every DeviceDriver dialect is built on.
//
// The same ioctl(fd, nr, arg) syscall-level helper and IOR/IOW/IOWR
// numbering idiom used by the usbfs package is reused here, retargeted
// from USBDEVFS_* control-transfer ioctls to the kernel's hidraw
// ioctls, using github.com/daedaluz/goioctl for the macro builders
// exactly as usbfs/ioctl.go does.
package hidraw

import (
	"syscall"
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"
)

var (
	ctlHidiocGrdescsize = ioctl.IOR('H', 0x01, unsafe.Sizeof(int32(0)))
	ctlHidiocGrdesc     = ioctl.IOR('H', 0x02, unsafe.Sizeof(hidrawReportDescriptor{}))
	ctlHidiocGrawinfo   = ioctl.IOR('H', 0x03, unsafe.Sizeof(hidrawDevinfo{}))
)

const (
	hidRawMaxDescriptorSize = 4096
	hidTypeMagic            = 'H'
	hidNrGetFeature         = 0x07
	hidNrSetFeature         = 0x06
)

type hidrawReportDescriptor struct {
	Size  uint32
	Value [hidRawMaxDescriptorSize]byte
}

type hidrawDevinfo struct {
	BusType uint32
	Vendor  int16
	Product int16
}

func doIoctl(fd int, nr uintptr, arg unsafe.Pointer) error {
	_, _, e := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), nr, uintptr(arg))
	if e != 0 {
		return e
	}
	return nil
}

// rawInfo reads the bus type / vendor / product tuple the kernel
// recorded for this hidraw node (HIDIOCGRAWINFO).
func rawInfo(fd int) (busType uint32, vendor, product uint16, err error) {
	info := hidrawDevinfo{}
	if e := doIoctl(fd, ctlHidiocGrawinfo, unsafe.Pointer(&info)); e != nil {
		return 0, 0, 0, e
	}
	return info.BusType, uint16(info.Vendor), uint16(info.Product), nil
}

// reportDescriptor reads the device's HID report descriptor
// (HIDIOCGRDESCSIZE followed by HIDIOCGRDESC), used by dialects whose
// probe wants to sanity-check usage pages before speaking the wire
// protocol.
func reportDescriptor(fd int) ([]byte, error) {
	var size int32
	if e := doIoctl(fd, ctlHidiocGrdescsize, unsafe.Pointer(&size)); e != nil {
		return nil, e
	}
	desc := hidrawReportDescriptor{Size: uint32(size)}
	if e := doIoctl(fd, ctlHidiocGrdesc, unsafe.Pointer(&desc)); e != nil {
		return nil, e
	}
	return append([]byte(nil), desc.Value[:size]...), nil
}

// featureIoctlNumber builds the HIDIOCGFEATURE/HIDIOCSFEATURE ioctl
// number for a buffer of length n. Unlike HIDIOCGRDESC, the size of this
// ioctl's data varies per call (the report length is device-specific),
// so it cannot be a package-level var like the others above.
func featureIoctlNumber(nr uintptr, n int) uintptr {
	return ioctl.IOWR(hidTypeMagic, nr, uintptr(n))
}

// getFeatureReport issues HIDIOCGFEATURE: buf[0] must hold the report
// ID on entry; the full report (including the ID byte) is returned.
func getFeatureReport(fd int, reportID byte, length int) ([]byte, error) {
	buf := make([]byte, length)
	buf[0] = reportID
	nr := featureIoctlNumber(hidNrGetFeature, length)
	if e := doIoctl(fd, nr, unsafe.Pointer(&buf[0])); e != nil {
		return nil, e
	}
	return buf, nil
}

// setFeatureReport issues HIDIOCSFEATURE: data[0] must already hold the
// report ID.
func setFeatureReport(fd int, data []byte) error {
	if len(data) == 0 {
		return syscall.EINVAL
	}
	nr := featureIoctlNumber(hidNrSetFeature, len(data))
	return doIoctl(fd, nr, unsafe.Pointer(&data[0]))
}
