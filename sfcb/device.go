package sfcb

// headerSize is the byte size of a record header (and of its footer
// twin): a 32bit magic number followed by a 32bit id.
const headerSize = 8

// DeviceParams describes the instruction set and topology of a NOR SPI
// flash part. It is a plain value rather than a set of build-time
// constants, so one binary can drive several flash types and tests can
// exercise more than one profile side by side.
type DeviceParams struct {
	Name  string
	IDHex string

	OpRDID          byte
	OpWriteEnable   byte
	OpWriteDisable  byte
	OpEraseBulk     byte
	OpEraseSector   byte
	OpReadStatus    byte
	OpReadData      byte
	OpWritePage     byte

	AddressBytes   uint8
	SectorSize     uint32
	PageSize       uint32
	TotalSize      uint32
	RDIDDummyBytes uint8

	WIPMask         byte
	WriteEnableMask byte
}

// pagesPerSector returns the number of pages contained in one erase
// sector of this device.
func (p DeviceParams) pagesPerSector() uint32 {
	return p.SectorSize / p.PageSize
}

// Presets lists the flash parts this module ships ready-made profiles
// for, keyed by part name. W25Q16JV is the device used throughout the
// driver's test scenarios.
var Presets = map[string]DeviceParams{
	"W25Q16JV": {
		Name:            "W25Q16JV",
		IDHex:           "ef14",
		OpRDID:          0x90,
		OpWriteEnable:   0x06,
		OpWriteDisable:  0x04,
		OpEraseBulk:     0xc7,
		OpEraseSector:   0x20,
		OpReadStatus:    0x05,
		OpReadData:      0x03,
		OpWritePage:     0x02,
		AddressBytes:    3,
		SectorSize:      4096,
		PageSize:        256,
		TotalSize:       2097152,
		RDIDDummyBytes:  3,
		WIPMask:         0x01,
		WriteEnableMask: 0x02,
	},
}
