package sfcb

import "math"

// Worker advances the in-flight command by at most one SPI exchange.
// The caller is expected to call it repeatedly: whenever SPILen is
// non-zero after a call, the transport must shift that many bytes out
// and back into Buffer before calling Worker again. A command that
// needs no further I/O to make progress returns with SPILen still 0,
// and the caller should simply call Worker again immediately.
func (d *Driver) Worker() {
	for {
		var stop bool
		switch d.cmd {
		case cmdIdle:
			return
		case cmdMkCB:
			stop = d.stepMkCB()
		case cmdAdd:
			stop = d.stepAdd()
		case cmdGet:
			stop = d.stepGet()
		case cmdRaw:
			stop = d.stepRaw()
		default:
			d.err = ErrUnexpectedState
			d.finishIdle()
			return
		}
		if stop {
			return
		}
	}
}

// wipPoll emits a read-status packet if the device was last seen busy
// (or no exchange has happened yet), reusing the one packet shape for
// every poll iteration. It returns false once the device has reported
// itself ready, letting the caller's stage advance.
func (d *Driver) wipPoll() bool {
	if d.spiLen == 0 || d.buf[1]&d.params.WIPMask != 0 {
		d.buf[0] = d.params.OpReadStatus
		d.buf[1] = 0
		d.spiLen = 2
		return true
	}
	d.spiLen = 0
	return false
}

func (d *Driver) emitReadData(addr uint32, n int) {
	d.buf[0] = d.params.OpReadData
	putAddress(d.buf[1:], d.params.AddressBytes, addr)
	d.spiLen = d.dataOffset() + n
}

func (d *Driver) emitWriteEnable() {
	d.buf[0] = d.params.OpWriteEnable
	d.spiLen = 1
}

func (d *Driver) emitWritePage(addr uint32, payload []byte) {
	d.buf[0] = d.params.OpWritePage
	putAddress(d.buf[1:], d.params.AddressBytes, addr)
	off := d.dataOffset()
	copy(d.buf[off:], payload)
	d.spiLen = off + len(payload)
}

func (d *Driver) emitEraseSector(addr uint32) {
	d.buf[0] = d.params.OpEraseSector
	putAddress(d.buf[1:], d.params.AddressBytes, addr)
	d.spiLen = d.dataOffset()
}

// stepMkCB drives the rebuild-management-cache command. It walks every
// record of the current queue in order, reading its header and footer
// to decide whether the record is complete, then moves on to the next
// queue that still needs rebuilding. If a queue turns out to be full of
// complete records it reclaims the oldest sector and restarts the scan.
func (d *Driver) stepMkCB() bool {
	q := &d.queues[d.iterCb]

	switch d.stage {
	case stg00:
		if d.wipPoll() {
			return true
		}
		d.emitReadData(d.headerAddr(q, d.iterRecord), headerSize)
		d.stage = stg01
		return true

	case stg01:
		d.mkcbParseHeader(q)
		d.emitReadData(d.footerAddr(q, d.iterRecord), headerSize)
		d.stage = stg02
		return true

	case stg02:
		return d.mkcbAfterFooter(q)

	case stg03:
		d.emitWriteEnable()
		d.stage = stg04
		return true

	case stg04:
		addr := q.startPageIDMin &^ (d.params.SectorSize - 1)
		d.emitEraseSector(addr)
		d.stage = stg00
		// The sector just erased held the queue's oldest records, so
		// anything the scan learned so far about it is stale.
		q.entries = 0
		q.idMin = math.MaxUint32
		q.idMax = 0
		d.iterRecord = 0
		return true
	}

	d.err = ErrUnexpectedState
	d.finishIdle()
	return true
}

func (d *Driver) mkcbParseHeader(q *queueState) {
	off := d.dataOffset()
	d.pendingHeader = decodeHeader(d.buf[off : off+headerSize])

	if d.pendingHeader.Magic == q.magic {
		addr := d.headerAddr(q, d.iterRecord)
		// lastElem* tracks the highest-id candidate seen so far, not the
		// last one in address order: after a reclamation wraps the newest
		// records to low addresses, the highest address is not the
		// highest id, and GetLast needs the latter.
		if d.pendingHeader.ID > q.idMax {
			q.idMax = d.pendingHeader.ID
			d.lastElemAdr = addr
			d.lastElemID = d.pendingHeader.ID
		}
		if d.pendingHeader.ID < q.idMin {
			q.idMin = d.pendingHeader.ID
			q.startPageIDMin = addr
		}
	} else if !q.mgmtValid && isErased(d.buf[off:off+headerSize]) {
		q.nextWriteAddr = d.headerAddr(q, d.iterRecord)
		q.mgmtValid = true
	}
}

func isErased(buf []byte) bool {
	for _, b := range buf {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// mkcbAfterFooter closes out one record comparison and decides what the
// worker does next: move to the following record, move to the next
// dirty queue, reclaim a full queue's oldest sector, or finish.
func (d *Driver) mkcbAfterFooter(q *queueState) bool {
	off := d.dataOffset()
	footer := decodeHeader(d.buf[off : off+headerSize])

	// A record counts toward entries only once header and footer agree
	// and both carry this queue's magic: that is the only state in
	// which the payload between them is guaranteed fully written.
	if footer == d.pendingHeader && footer.Magic == q.magic {
		q.startPageIDMaxComplete = d.lastElemAdr
		q.idLastComplete = d.lastElemID
		q.entries++
	}

	if d.iterRecord < uint32(q.maxEntries)-1 {
		d.iterRecord++
		d.emitReadData(d.headerAddr(q, d.iterRecord), headerSize)
		d.stage = stg01
		return true
	}

	if q.mgmtValid {
		for i := int(d.iterCb) + 1; i < len(d.queues); i++ {
			if d.queues[i].used && !d.queues[i].mgmtValid {
				d.iterCb = uint8(i)
				d.iterRecord = 0
				d.stage = stg00
				return false
			}
		}
		d.finishIdle()
		return true
	}

	// The queue is full of complete records and never found a free slot
	// to continue writing into: reclaim the sector holding the oldest one.
	d.stage = stg03
	return false
}

// stepAdd drives both Add/AddAppend (writing payload bytes, possibly
// across several calls) and AddDone (writing only the footer).
func (d *Driver) stepAdd() bool {
	q := &d.queues[d.iterCb]

	switch d.stage {
	case stg00:
		if d.wipPoll() {
			return true
		}
		d.stage = stg01
		return false

	case stg01:
		return d.addDecideNext(q)

	case stg02:
		d.addWriteHeaderOrFooter(q)
		return true

	case stg03:
		d.addWritePayload(q)
		return true

	case stg04:
		d.spiLen = 0
		d.stage = stg00
		return false
	}

	d.err = ErrUnexpectedState
	d.finishIdle()
	return true
}

func (d *Driver) addDecideNext(q *queueState) bool {
	if d.iterAdr == q.nextWriteAddr || q.plFlashOfs == q.plSize+headerSize {
		d.emitWriteEnable()
		d.stage = stg02
		return true
	}
	if d.plIter < d.plWant {
		d.emitWriteEnable()
		d.stage = stg03
		return true
	}
	d.finishIdle()
	return true
}

func (d *Driver) addWriteHeaderOrFooter(q *queueState) {
	isFooter := q.plFlashOfs == q.plSize+headerSize

	var hdr [headerSize]byte
	encodeHeader(hdr[:], RecordHeader{Magic: q.magic, ID: q.idMax + 1})

	var addr uint32
	if isFooter {
		addr = q.nextWriteAddr + uint32(q.pagesPerElem)*d.params.PageSize - headerSize
		q.plFlashOfs++
		q.idMax++
		q.entries++
		q.startPageIDMaxComplete = q.nextWriteAddr
		q.idLastComplete = q.idMax
	} else {
		addr = d.iterAdr
		q.plFlashOfs += headerSize
	}
	d.emitWritePage(addr, hdr[:])
	d.iterAdr += headerSize
	d.stage = stg04
}

func (d *Driver) addWritePayload(q *queueState) {
	avail := d.params.PageSize - d.iterAdr%d.params.PageSize
	remaining := uint32(d.plWant - d.plIter)
	cpy := remaining
	if avail < cpy {
		cpy = avail
	}
	d.emitWritePage(d.iterAdr, d.plPtr[d.plIter:d.plIter+uint16(cpy)])
	d.plIter += uint16(cpy)
	q.plFlashOfs += uint16(cpy)
	d.iterAdr += cpy
	d.stage = stg04
}

// stepGet drives GetLast's payload copy, one page-sized read at a time.
func (d *Driver) stepGet() bool {
	switch d.stage {
	case stg00:
		if d.wipPoll() {
			return true
		}
		d.stage = stg01
		return false

	case stg01:
		if d.spiLen != 0 {
			off := d.dataOffset()
			cpyLen := d.spiLen - off
			copy(d.plPtr[d.plIter:], d.buf[off:off+cpyLen])
			d.plIter += uint16(cpyLen)
			d.iterAdr += uint32(cpyLen)
		}
		d.stage = stg02
		return false

	case stg02:
		if d.plIter < d.plWant {
			chunk := d.params.PageSize
			if remaining := uint32(d.plWant - d.plIter); remaining < chunk {
				chunk = remaining
			}
			d.emitReadData(d.iterAdr, int(chunk))
			d.stage = stg01
			return true
		}
		d.finishIdle()
		return true
	}

	d.err = ErrUnexpectedState
	d.finishIdle()
	return true
}

// stepRaw drives FlashRead: a single read of arbitrary length, issued
// and copied out in one shot since it is not bounded by page geometry.
func (d *Driver) stepRaw() bool {
	switch d.stage {
	case stg00:
		if d.wipPoll() {
			return true
		}
		d.stage = stg01
		return false

	case stg01:
		d.emitReadData(d.iterAdr, int(d.plWant))
		d.stage = stg02
		return true

	case stg02:
		off := d.dataOffset()
		copy(d.plPtr, d.buf[off:off+int(d.plWant)])
		d.finishIdle()
		return true
	}

	d.err = ErrUnexpectedState
	d.finishIdle()
	return true
}
