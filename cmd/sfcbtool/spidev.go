package main

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux spidev ioctl plumbing. golang.org/x/sys/unix does not carry
// these constants (they are defined by spidev.h, not by the kernel's
// generic ioctl headers), so they are reproduced here the same way the
// teacher's scsi package reproduces SG_IO's layout by hand.
const (
	spiIOCMagic     = 'k'
	spiIOCMessageNr = 0
)

type spiIOCTransfer struct {
	TxBuf uint64
	RxBuf uint64

	Len         uint32
	SpeedHz     uint32
	DelayUsecs  uint16
	BitsPerWord uint8
	CSChange    uint8
	TxNBits     uint8
	RxNBits     uint8
	WordDelay   uint8
	Pad         uint8
}

func spiIOCMessage(n int) uintptr {
	size := uintptr(n) * unsafe.Sizeof(spiIOCTransfer{})
	return iowr(spiIOCMagic, spiIOCMessageNr, size)
}

func iowr(magic byte, nr byte, size uintptr) uintptr {
	const (
		iocWrite    = 1
		iocRead     = 2
		iocNRBits   = 8
		iocTypeBits = 8
		iocSizeBits = 14
	)
	dir := uintptr(iocRead | iocWrite)
	return dir<<(iocNRBits+iocTypeBits+iocSizeBits) |
		uintptr(magic)<<iocNRBits |
		uintptr(nr) |
		size<<(iocNRBits+iocTypeBits)
}

// SPIDev drives one half-duplex SPI exchange per call against a Linux
// /dev/spidevX.Y character device, exactly the shape sfcb.Driver needs
// between Worker calls.
type SPIDev struct {
	fd      int
	SpeedHz uint32
}

// OpenSPIDev opens path (e.g. "/dev/spidev0.0") for reading and writing.
func OpenSPIDev(path string) (*SPIDev, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("sfcbtool: open %s: %w", path, err)
	}
	return &SPIDev{fd: fd, SpeedHz: 1_000_000}, nil
}

// Close releases the device file descriptor.
func (s *SPIDev) Close() error {
	return unix.Close(s.fd)
}

// Exchange sends buf and overwrites it in place with the device's
// response, the contract sfcb.Driver.Buffer/SPILen expects from a
// transport between Worker calls.
func (s *SPIDev) Exchange(buf []byte) error {
	xfer := spiIOCTransfer{
		TxBuf:   uint64(uintptr(unsafe.Pointer(&buf[0]))),
		RxBuf:   uint64(uintptr(unsafe.Pointer(&buf[0]))),
		Len:     uint32(len(buf)),
		SpeedHz: s.SpeedHz,
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(s.fd), spiIOCMessage(1), uintptr(unsafe.Pointer(&xfer)))
	if errno != 0 {
		return fmt.Errorf("sfcbtool: SPI_IOC_MESSAGE: %w", errno)
	}
	return nil
}
