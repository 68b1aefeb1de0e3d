// Package profile loads flash device parameters and queue tables from
// YAML, so a deployment can describe which part it runs against and
// which queues it needs as data rather than as compiled-in constants.
package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kaeberlein/sfcb/sfcb"
)

// Device describes one flash part's instruction set and topology in
// the same shape as sfcb.DeviceParams, but with yaml tags so it can be
// read straight out of a profile file.
type Device struct {
	Name  string `yaml:"name"`
	IDHex string `yaml:"id_hex"`

	OpRDID         string `yaml:"op_rdid"`
	OpWriteEnable  string `yaml:"op_write_enable"`
	OpWriteDisable string `yaml:"op_write_disable"`
	OpEraseBulk    string `yaml:"op_erase_bulk"`
	OpEraseSector  string `yaml:"op_erase_sector"`
	OpReadStatus   string `yaml:"op_read_status"`
	OpReadData     string `yaml:"op_read_data"`
	OpWritePage    string `yaml:"op_write_page"`

	AddressBytes   uint8  `yaml:"address_bytes"`
	SectorSize     uint32 `yaml:"sector_size"`
	PageSize       uint32 `yaml:"page_size"`
	TotalSize      uint32 `yaml:"total_size"`
	RDIDDummyBytes uint8  `yaml:"rdid_dummy_bytes"`

	WIPMask         string `yaml:"wip_mask"`
	WriteEnableMask string `yaml:"write_enable_mask"`
}

// Queue describes one circular buffer to create with NewCB once the
// driver has been initialized against the profile's device.
type Queue struct {
	Magic    uint32 `yaml:"magic"`
	PlSize   uint16 `yaml:"payload_size"`
	NumElems uint16 `yaml:"num_elements"`
}

// Profile is the top-level document: one flash device plus the queues
// to lay out on it, in allocation order.
type Profile struct {
	Device Device  `yaml:"device"`
	Queues []Queue `yaml:"queues"`
}

// Load reads and parses a profile file from path.
func Load(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("profile: %w", err)
	}
	return p, nil
}

// DeviceParams converts the YAML device description into the value
// sfcb.New expects. Opcodes and masks are given in the profile as hex
// strings ("0x06") so the file reads the way a datasheet does.
func (d Device) DeviceParams() (sfcb.DeviceParams, error) {
	var params sfcb.DeviceParams
	var err error

	params.Name = d.Name
	params.IDHex = d.IDHex
	params.AddressBytes = d.AddressBytes
	params.SectorSize = d.SectorSize
	params.PageSize = d.PageSize
	params.TotalSize = d.TotalSize
	params.RDIDDummyBytes = d.RDIDDummyBytes

	fields := []struct {
		src string
		dst *byte
	}{
		{d.OpRDID, &params.OpRDID},
		{d.OpWriteEnable, &params.OpWriteEnable},
		{d.OpWriteDisable, &params.OpWriteDisable},
		{d.OpEraseBulk, &params.OpEraseBulk},
		{d.OpEraseSector, &params.OpEraseSector},
		{d.OpReadStatus, &params.OpReadStatus},
		{d.OpReadData, &params.OpReadData},
		{d.OpWritePage, &params.OpWritePage},
		{d.WIPMask, &params.WIPMask},
		{d.WriteEnableMask, &params.WriteEnableMask},
	}
	for _, f := range fields {
		*f.dst, err = parseHexByte(f.src)
		if err != nil {
			return sfcb.DeviceParams{}, fmt.Errorf("profile: device %q: %w", d.Name, err)
		}
	}
	return params, nil
}

func parseHexByte(s string) (byte, error) {
	if s == "" {
		return 0, nil
	}
	var v uint64
	_, err := fmt.Sscanf(s, "0x%x", &v)
	if err != nil {
		return 0, fmt.Errorf("invalid hex byte %q", s)
	}
	return byte(v), nil
}

// Build constructs a driver from the profile and creates every queue
// it lists, in order, returning their allocated ids.
func (p Profile) Build(spiBuf []byte) (*sfcb.Driver, []uint8, error) {
	params, err := p.Device.DeviceParams()
	if err != nil {
		return nil, nil, err
	}

	d, err := sfcb.New(params, len(p.Queues), spiBuf)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]uint8, 0, len(p.Queues))
	for _, q := range p.Queues {
		id, err := d.NewCB(q.Magic, q.PlSize, q.NumElems)
		if err != nil {
			return nil, nil, fmt.Errorf("profile: queue magic %#x: %w", q.Magic, err)
		}
		ids = append(ids, id)
	}
	return d, ids, nil
}
