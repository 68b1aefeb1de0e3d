package sfcb

// command identifies which high-level operation the worker is driving.
type command uint8

const (
	cmdIdle command = iota
	cmdMkCB
	cmdAdd
	cmdGet
	cmdRaw
)

// stage is the step counter within the current command's state
// machine. Meaning is local to each command; see worker.go.
type stage uint8

const (
	stg00 stage = iota
	stg01
	stg02
	stg03
	stg04
)

// Driver is the cooperative, re-entrant SPI flash circular buffer
// handle. All state for every configured queue and the in-flight
// command lives here; nothing is allocated once New has returned.
//
// A Driver is not safe for concurrent use: exactly one command may be
// outstanding, and the shared SPI buffer it exposes through Buffer is
// owned by that command until it returns to idle.
type Driver struct {
	params DeviceParams
	queues []queueState

	buf    []byte
	spiLen int
	busy   bool
	cmd    command
	stage  stage

	iterCb     uint8
	iterRecord uint32
	iterAdr    uint32

	pendingHeader RecordHeader
	lastElemAdr   uint32
	lastElemID    uint32

	plPtr  []byte
	plWant uint16
	plIter uint16

	err error

	// LogFunc, if set, receives trace messages from the worker. The
	// driver never imports a logging package itself, mirroring how the
	// teacher's hardware-abstraction layer plumbs a caller-supplied
	// formatter instead (jmshal.JMSHal.LogFunc).
	LogFunc func(format string, args ...any)
}

// New allocates a driver handle for the given device and wires it to
// spiBuf, the shared byte buffer every SPI exchange is assembled into
// and read back from. spiBuf must be able to hold one full page program
// packet (opcode + address + page payload); queueSlots bounds how many
// logical circular buffers NewCB may create.
func New(params DeviceParams, queueSlots int, spiBuf []byte) (*Driver, error) {
	d := &Driver{
		params: params,
		queues: make([]queueState, queueSlots),
		buf:    spiBuf,
	}
	if err := d.Reset(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reset clears every queue slot and returns the handle to idle without
// touching flash. It is the caller's recovery path after abandoning a
// command mid-flight: partial
// writes left on flash are simply not credited by the next MkCB, since
// their footer will not match their header.
func (d *Driver) Reset() error {
	if d.params.PageSize == 0 {
		return ErrNoFlash
	}
	if len(d.buf) < int(d.params.PageSize)+int(d.params.AddressBytes)+1 {
		return ErrMemory
	}
	for i := range d.queues {
		d.queues[i] = queueState{}
	}
	d.spiLen = 0
	d.busy = false
	d.cmd = cmdIdle
	d.stage = stg00
	d.err = nil
	return nil
}

func (d *Driver) logf(format string, args ...any) {
	if d.LogFunc != nil {
		d.LogFunc(format, args...)
	}
}

func (d *Driver) dataOffset() int {
	return 1 + int(d.params.AddressBytes)
}

// Busy reports whether a command is currently in flight.
func (d *Driver) Busy() bool {
	return d.busy
}

// SPILen returns the number of valid bytes in Buffer that the transport
// must exchange before the next Worker call. Zero means the worker has
// more synchronous work to do and should simply be called again.
func (d *Driver) SPILen() int {
	return d.spiLen
}

// Buffer exposes the shared SPI packet. The transport must read the
// first SPILen bytes, exchange them with the flash device, and write
// the response back in place before the next Worker call.
func (d *Driver) Buffer() []byte {
	return d.buf[:d.spiLen]
}

// SPIBufSize returns the capacity of the shared SPI buffer, the upper
// bound on how many payload bytes a single FlashRead can request.
func (d *Driver) SPIBufSize() int {
	return len(d.buf)
}

// FlashSize returns the total device size in bytes.
func (d *Driver) FlashSize() uint32 {
	return d.params.TotalSize
}

// IDMax returns the highest record id of cbID, as observed by the last
// scan or raised by a record completed since, or 0 if the slot is
// unused.
func (d *Driver) IDMax(cbID uint8) uint32 {
	if int(cbID) >= len(d.queues) || !d.queues[cbID].used {
		return 0
	}
	return d.queues[cbID].idMax
}

// PlWrCnt returns the number of payload bytes written so far by an
// in-progress Add/AddAppend sequence on cbID, or 0 if none is pending.
func (d *Driver) PlWrCnt(cbID uint8) uint16 {
	if int(cbID) >= len(d.queues) || !d.queues[cbID].used {
		return 0
	}
	q := &d.queues[cbID]
	if q.plFlashOfs <= headerSize || q.plFlashOfs > q.plSize+headerSize {
		return 0
	}
	return q.plFlashOfs - headerSize
}

// IsError reports whether the error latch is set.
func (d *Driver) IsError() bool {
	return d.err != nil
}

// Err returns the latched worker error, or nil.
func (d *Driver) Err() error {
	return d.err
}

func (d *Driver) finishIdle() {
	d.spiLen = 0
	d.cmd = cmdIdle
	d.stage = stg00
	d.busy = false
}
