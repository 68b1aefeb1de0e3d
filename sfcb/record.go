package sfcb

import "encoding/binary"

// RecordHeader is the 8 byte marker written at the start and end of
// every on-flash record. A record is complete iff its footer equals its
// header and the magic matches the owning queue's.
type RecordHeader struct {
	Magic uint32
	ID    uint32
}

// encodeHeader writes h into buf in the on-flash byte layout (chosen
// little-endian, see DESIGN.md).
func encodeHeader(buf []byte, h RecordHeader) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.ID)
}

func decodeHeader(buf []byte) RecordHeader {
	return RecordHeader{
		Magic: binary.LittleEndian.Uint32(buf[0:4]),
		ID:    binary.LittleEndian.Uint32(buf[4:8]),
	}
}

// headerAddr returns the flash address of the header of record n in q.
func (d *Driver) headerAddr(q *queueState, n uint32) uint32 {
	return q.startSector*d.params.SectorSize + uint32(q.pagesPerElem)*d.params.PageSize*n
}

// footerAddr returns the flash address of the footer of record n in q.
func (d *Driver) footerAddr(q *queueState, n uint32) uint32 {
	return d.headerAddr(q, n+1) - headerSize
}
