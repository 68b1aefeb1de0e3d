// Package dump provides checksum export and verification for raw flash
// regions, the same CRC-32 family the driver's teacher uses to validate
// firmware images end to end.
package dump

import (
	"fmt"

	"github.com/snksoft/crc"

	"github.com/kaeberlein/sfcb/sfcb"
)

var table *crc.Table

func init() {
	params := crc.CRC32
	params.FinalXor = 0
	params.ReflectOut = false
	table = crc.NewTable(params)
}

// Checksum computes the CRC-32 of data, using the same table and byte
// ordering as the firmware-image checksum the driver's ambient tooling
// is grounded on.
func Checksum(data []byte) uint32 {
	h := crc.NewHashWithTable(table)

	var buf [4]byte
	n := len(data) - len(data)%4
	for i := 0; i < n; i += 4 {
		buf[0] = data[i+3]
		buf[1] = data[i+2]
		buf[2] = data[i+1]
		buf[3] = data[i+0]
		h.Update(buf[:])
	}
	if rem := data[n:]; len(rem) > 0 {
		var tail [4]byte
		copy(tail[4-len(rem):], rem)
		h.Update(tail[:])
	}
	return h.CRC32()
}

// Exchange is the SPI transport callback this package drives the
// worker with: it must send buf and fill it with the device's
// response, the same contract sfcb.Driver.Buffer/SPILen impose on any
// transport loop.
type Exchange func(buf []byte) error

func runToCompletion(d *sfcb.Driver, exchange Exchange) error {
	for d.Busy() {
		d.Worker()
		if n := d.SPILen(); n > 0 {
			if err := exchange(d.Buffer()); err != nil {
				return err
			}
		}
	}
	if d.IsError() {
		return d.Err()
	}
	return nil
}

// RawDump reads n bytes starting at addr straight off the flash behind
// d, bypassing queue geometry, chunking into FlashRead calls of
// SPIBufSize()-5 bytes as needed. It is meant for diagnostics: pulling a region out
// for offline inspection or for VerifyRawDump below.
func RawDump(d *sfcb.Driver, exchange Exchange, addr uint32, n int) ([]byte, error) {
	out := make([]byte, n)
	// Leave room for the opcode byte and up to a 4-byte address; a
	// driver's buffer is always sized for at least one full page plus
	// that overhead (sfcb.Driver.Reset enforces it), so this is a safe
	// conservative chunk size regardless of the device's address width.
	chunk := d.SPIBufSize() - 5
	if chunk <= 0 {
		return nil, fmt.Errorf("dump: spi buffer too small for any read")
	}

	for off := 0; off < n; off += chunk {
		end := off + chunk
		if end > n {
			end = n
		}
		if err := d.FlashRead(addr+uint32(off), out[off:end]); err != nil {
			return nil, err
		}
		if err := runToCompletion(d, exchange); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// VerifyRawDump reads n bytes at addr and reports whether their CRC-32
// matches want, the way a field technician would confirm a dumped
// region against a checksum captured at provisioning time.
func VerifyRawDump(d *sfcb.Driver, exchange Exchange, addr uint32, n int, want uint32) (bool, error) {
	buf, err := RawDump(d, exchange, addr, n)
	if err != nil {
		return false, fmt.Errorf("dump: %w", err)
	}
	return Checksum(buf) == want, nil
}

// LastRecordChecksum reads the last complete record on cbID and
// returns its payload's CRC-32 alongside its id, combining GetLast
// with Checksum for callers that only need the digest, not the bytes.
func LastRecordChecksum(d *sfcb.Driver, exchange Exchange, cbID uint8, maxPayload int) (id uint32, sum uint32, err error) {
	buf := make([]byte, maxPayload)
	id, err = d.GetLast(cbID, buf)
	if err != nil {
		return 0, 0, err
	}
	if err := runToCompletion(d, exchange); err != nil {
		return 0, 0, err
	}
	return id, Checksum(buf), nil
}
