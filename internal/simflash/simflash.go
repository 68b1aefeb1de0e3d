// Package simflash simulates a NOR SPI flash device in memory so the
// sfcb package's tests can drive a real Driver/Worker loop end to end
// without touching hardware. It is test-only tooling, not a transport
// a caller would use in production.
package simflash

import (
	"github.com/kaeberlein/sfcb/sfcb"
)

// Flash models the byte array and write-enable/busy bookkeeping of one
// flash chip, and answers the opcodes in a sfcb.DeviceParams the way
// the real part would.
type Flash struct {
	params sfcb.DeviceParams
	mem    []byte

	writeEnabled bool
	busyCycles   int

	// BusyForWrites/BusyForErases set how many status polls report WIP
	// before a program/erase completes, so tests can exercise the
	// worker's poll loop instead of always finishing in one exchange.
	BusyForWrites int
	BusyForErases int

	// WriteEnableForgotten, when true, makes every write-enable be
	// ignored, so programs and erases leave the memory unchanged as if
	// write-enable had never been latched.
	WriteEnableForgotten bool
}

// New creates a simulated flash of params's declared total size, erased
// (all 0xFF) throughout.
func New(params sfcb.DeviceParams) *Flash {
	f := &Flash{
		params: params,
		mem:    make([]byte, params.TotalSize),
	}
	for i := range f.mem {
		f.mem[i] = 0xFF
	}
	return f
}

// Contents exposes the raw backing array for assertions in tests.
func (f *Flash) Contents() []byte {
	return f.mem
}

// Exchange mutates buf in place the way a real SPI half-duplex exchange
// would: it consumes the opcode and address/payload bytes at the front
// of buf and overwrites any response bytes that follow. n is the
// number of valid bytes, as reported by sfcb.Driver.SPILen.
func (f *Flash) Exchange(buf []byte, n int) {
	if n == 0 {
		return
	}
	op := buf[0]

	switch op {
	case f.params.OpReadStatus:
		status := byte(0)
		if f.busyCycles > 0 {
			f.busyCycles--
			status = f.params.WIPMask
		}
		if f.writeEnabled {
			status |= f.params.WriteEnableMask
		}
		buf[1] = status

	case f.params.OpWriteEnable:
		f.writeEnabled = !f.WriteEnableForgotten

	case f.params.OpWriteDisable:
		f.writeEnabled = false

	case f.params.OpReadData:
		addr := f.readAddress(buf)
		off := 1 + int(f.params.AddressBytes)
		copy(buf[off:n], f.mem[addr:])

	case f.params.OpWritePage:
		addr := f.readAddress(buf)
		off := 1 + int(f.params.AddressBytes)
		if f.writeEnabled {
			// Real NOR flash can only clear bits on a program, never
			// set them; AND-in the payload to model that honestly.
			for i, b := range buf[off:n] {
				f.mem[int(addr)+i] &= b
			}
		}
		f.writeEnabled = false
		f.busyCycles = f.BusyForWrites

	case f.params.OpEraseSector:
		addr := f.readAddress(buf)
		if f.writeEnabled {
			end := addr + f.params.SectorSize
			for i := addr; i < end; i++ {
				f.mem[i] = 0xFF
			}
		}
		f.writeEnabled = false
		f.busyCycles = f.BusyForErases

	case f.params.OpEraseBulk:
		if f.writeEnabled {
			for i := range f.mem {
				f.mem[i] = 0xFF
			}
		}
		f.writeEnabled = false
		f.busyCycles = f.BusyForErases
	}
}

func (f *Flash) readAddress(buf []byte) uint32 {
	var addr uint32
	for i := 0; i < int(f.params.AddressBytes); i++ {
		addr = addr<<8 | uint32(buf[1+i])
	}
	return addr
}

// Run drives d.Worker() to completion, exchanging every packet it
// emits against f, the way a real interrupt-driven or polled transport
// loop would between a driver and its hardware.
func Run(d *sfcb.Driver, f *Flash) {
	for d.Busy() {
		d.Worker()
		if n := d.SPILen(); n > 0 {
			f.Exchange(d.Buffer(), n)
		}
	}
}
