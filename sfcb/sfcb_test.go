package sfcb_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaeberlein/sfcb/sfcb"
	"github.com/kaeberlein/sfcb/internal/simflash"
)

func newTestDriver(t *testing.T, queueSlots int) (*sfcb.Driver, *simflash.Flash) {
	t.Helper()
	params := sfcb.Presets["W25Q16JV"]
	fl := simflash.New(params)
	buf := make([]byte, params.PageSize+uint32(params.AddressBytes)+1)
	d, err := sfcb.New(params, queueSlots, buf)
	require.NoError(t, err)
	return d, fl
}

func runToIdle(t *testing.T, d *sfcb.Driver, fl *simflash.Flash) {
	t.Helper()
	simflash.Run(d, fl)
	require.False(t, d.IsError(), "worker error: %v", d.Err())
}

func mustMkCB(t *testing.T, d *sfcb.Driver, fl *simflash.Flash) {
	t.Helper()
	require.NoError(t, d.MkCB())
	runToIdle(t, d, fl)
}

// addRecord writes a full-length payload, which makes Add itself write
// the footer; callers finishing a short payload must call AddDone
// themselves.
func addRecord(t *testing.T, d *sfcb.Driver, fl *simflash.Flash, cbID uint8, payload []byte) {
	t.Helper()
	require.NoError(t, d.Add(cbID, payload))
	runToIdle(t, d, fl)
}

func TestNewCBAllocatesSequentialSlots(t *testing.T) {
	d, _ := newTestDriver(t, 2)

	id, err := d.NewCB(0xC0FFEE, 64, 4)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), id)

	id2, err := d.NewCB(0xFEEDED, 32, 8)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), id2)
}

func TestNewCBFlashFull(t *testing.T) {
	d, _ := newTestDriver(t, 1)

	_, err := d.NewCB(0xAAAA, 65000, 65000)
	assert.ErrorIs(t, err, sfcb.ErrFlashFull)
}

func TestNewCBOutOfSlots(t *testing.T) {
	d, _ := newTestDriver(t, 1)

	_, err := d.NewCB(0xAAAA, 16, 4)
	require.NoError(t, err)

	_, err = d.NewCB(0xBBBB, 16, 4)
	assert.ErrorIs(t, err, sfcb.ErrMemory)
}

func TestAddAndGetLastRoundTrip(t *testing.T) {
	d, fl := newTestDriver(t, 1)
	cbID, err := d.NewCB(0x51F0, 16, 4)
	require.NoError(t, err)

	mustMkCB(t, d, fl)

	addRecord(t, d, fl, cbID, []byte("hello world!!!!!"))

	mustMkCB(t, d, fl)

	out := make([]byte, 16)
	id, err := d.GetLast(cbID, out)
	require.NoError(t, err)
	runToIdle(t, d, fl)

	assert.Equal(t, uint32(1), id)
	assert.Equal(t, "hello world!!!!!", string(out))
}

func TestAddAppendEquivalence(t *testing.T) {
	d, fl := newTestDriver(t, 1)
	cbID, err := d.NewCB(0x51F0, 16, 4)
	require.NoError(t, err)
	mustMkCB(t, d, fl)

	require.NoError(t, d.Add(cbID, []byte("hello ")))
	runToIdle(t, d, fl)
	require.NoError(t, d.AddAppend(cbID, []byte("world!!!!!")))
	runToIdle(t, d, fl)

	mustMkCB(t, d, fl)

	out := make([]byte, 16)
	id, err := d.GetLast(cbID, out)
	require.NoError(t, err)
	runToIdle(t, d, fl)

	assert.Equal(t, uint32(1), id)
	assert.Equal(t, "hello world!!!!!", string(out))
}

func TestAddDoneFinishesShortRecord(t *testing.T) {
	d, fl := newTestDriver(t, 1)
	cbID, err := d.NewCB(0x51F0, 16, 4)
	require.NoError(t, err)
	mustMkCB(t, d, fl)

	require.NoError(t, d.Add(cbID, []byte("short")))
	runToIdle(t, d, fl)
	require.NoError(t, d.AddDone(cbID))
	runToIdle(t, d, fl)

	mustMkCB(t, d, fl)

	out := make([]byte, 16)
	id, err := d.GetLast(cbID, out)
	require.NoError(t, err)
	runToIdle(t, d, fl)

	assert.Equal(t, uint32(1), id)
	assert.Equal(t, "short", string(out[:5]))
	for _, b := range out[5:] {
		assert.Equal(t, byte(0xFF), b)
	}
}

func TestAddDoneRejectsAlreadyWrittenFooter(t *testing.T) {
	d, fl := newTestDriver(t, 1)
	cbID, err := d.NewCB(0x51F0, 16, 4)
	require.NoError(t, err)
	mustMkCB(t, d, fl)

	addRecord(t, d, fl, cbID, []byte("hello world!!!!!"))

	assert.ErrorIs(t, d.AddDone(cbID), sfcb.ErrWorkerRequest)
}

func TestGetLastBeforeMkCB(t *testing.T) {
	d, fl := newTestDriver(t, 1)
	cbID, err := d.NewCB(0x51F0, 16, 4)
	require.NoError(t, err)
	mustMkCB(t, d, fl)
	addRecord(t, d, fl, cbID, []byte("first record!!!!"))

	// Add dirtied mgmtValid; GetLast must refuse until MkCB runs again.
	out := make([]byte, 16)
	_, err = d.GetLast(cbID, out)
	assert.ErrorIs(t, err, sfcb.ErrWorkerRequest)
}

func TestQueueEmptyBeforeAnyRecord(t *testing.T) {
	d, fl := newTestDriver(t, 1)
	cbID, err := d.NewCB(0x51F0, 16, 4)
	require.NoError(t, err)
	mustMkCB(t, d, fl)

	out := make([]byte, 16)
	_, err = d.GetLast(cbID, out)
	assert.ErrorIs(t, err, sfcb.ErrQueueEmpty)
}

func TestMultipleRecordsKeepLatest(t *testing.T) {
	d, fl := newTestDriver(t, 1)
	cbID, err := d.NewCB(0x51F0, 16, 4)
	require.NoError(t, err)
	mustMkCB(t, d, fl)

	for i := 0; i < 3; i++ {
		addRecord(t, d, fl, cbID, []byte("record number 01"))
		mustMkCB(t, d, fl)
	}

	assert.Equal(t, uint32(3), d.IDMax(cbID))

	out := make([]byte, 16)
	id, err := d.GetLast(cbID, out)
	require.NoError(t, err)
	runToIdle(t, d, fl)
	assert.Equal(t, uint32(3), id)
}

func TestReclaimOldestSectorWhenFull(t *testing.T) {
	d, fl := newTestDriver(t, 1)
	cbID, err := d.NewCB(0x51F0, 16, 4)
	require.NoError(t, err)
	mustMkCB(t, d, fl)

	for i := 0; i < 40; i++ {
		addRecord(t, d, fl, cbID, []byte("record number 01"))
		mustMkCB(t, d, fl)
	}

	assert.Equal(t, uint32(40), d.IDMax(cbID))

	out := make([]byte, 16)
	id, err := d.GetLast(cbID, out)
	require.NoError(t, err)
	runToIdle(t, d, fl)
	assert.Equal(t, uint32(40), id)
}

func TestFlashReadBufferTooSmall(t *testing.T) {
	d, _ := newTestDriver(t, 1)

	big := make([]byte, 100000)
	err := d.FlashRead(0, big)
	assert.ErrorIs(t, err, sfcb.ErrBufSize)
	assert.True(t, d.IsError())
	assert.False(t, d.Busy())
}

func TestFlashReadRaw(t *testing.T) {
	d, fl := newTestDriver(t, 1)
	cbID, err := d.NewCB(0x51F0, 16, 4)
	require.NoError(t, err)
	mustMkCB(t, d, fl)
	addRecord(t, d, fl, cbID, []byte("raw readback!!!!"))

	out := make([]byte, 8)
	require.NoError(t, d.FlashRead(0, out))
	runToIdle(t, d, fl)

	var want [8]byte
	binary.LittleEndian.PutUint32(want[0:4], 0x51F0)
	binary.LittleEndian.PutUint32(want[4:8], 1)
	assert.Equal(t, want[:], out)
}

func TestWorkerBusyRejectsConcurrentSubmission(t *testing.T) {
	d, fl := newTestDriver(t, 1)
	cbID, err := d.NewCB(0x51F0, 16, 4)
	require.NoError(t, err)

	require.NoError(t, d.MkCB())
	_, err = d.GetLast(cbID, make([]byte, 16))
	assert.ErrorIs(t, err, sfcb.ErrWorkerBusy)

	runToIdle(t, d, fl)
}

func TestNoQueueErrors(t *testing.T) {
	d, _ := newTestDriver(t, 1)

	assert.ErrorIs(t, d.MkCB(), sfcb.ErrNoQueue)
	_, err := d.GetLast(5, make([]byte, 1))
	assert.ErrorIs(t, err, sfcb.ErrNoQueue)
	assert.ErrorIs(t, d.AddDone(5), sfcb.ErrNoQueue)
}
