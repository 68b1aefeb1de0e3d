package profile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaeberlein/sfcb/sfcb/profile"
)

func TestLoadParsesDeviceAndQueues(t *testing.T) {
	p, err := profile.Load("testdata/w25q16jv.yaml")
	require.NoError(t, err)

	assert.Equal(t, "W25Q16JV", p.Device.Name)
	assert.Equal(t, uint32(4096), p.Device.SectorSize)
	assert.Equal(t, uint32(256), p.Device.PageSize)
	assert.Len(t, p.Queues, 2)
	assert.Equal(t, uint32(0x51f00001), p.Queues[0].Magic)
}

func TestDeviceParamsDecodesHexOpcodes(t *testing.T) {
	p, err := profile.Load("testdata/w25q16jv.yaml")
	require.NoError(t, err)

	params, err := p.Device.DeviceParams()
	require.NoError(t, err)

	assert.Equal(t, byte(0x03), params.OpReadData)
	assert.Equal(t, byte(0x02), params.OpWritePage)
	assert.Equal(t, byte(0x01), params.WIPMask)
}

func TestBuildCreatesEveryQueue(t *testing.T) {
	p, err := profile.Load("testdata/w25q16jv.yaml")
	require.NoError(t, err)

	buf := make([]byte, p.Device.PageSize+uint32(p.Device.AddressBytes)+1)
	d, ids, err := p.Build(buf)
	require.NoError(t, err)

	assert.Len(t, ids, 2)
	assert.Equal(t, uint8(0), ids[0])
	assert.Equal(t, uint8(1), ids[1])
	assert.False(t, d.Busy())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := profile.Load("testdata/does-not-exist.yaml")
	assert.Error(t, err)
}
