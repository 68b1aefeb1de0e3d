package sfcb

import "math"

// checkQueue validates cbID before any submission mutates driver state.
func (d *Driver) checkQueue(cbID uint8) (*queueState, error) {
	if int(cbID) >= len(d.queues) {
		return nil, ErrNoQueue
	}
	q := &d.queues[cbID]
	if !q.used {
		return nil, ErrNoQueue
	}
	return q, nil
}

// MkCB (re)builds the management cache of every queue whose mgmtValid
// is false, by scanning their headers and footers from flash. It is
// the only way to make a queue acceptable to Add/GetLast again after
// init or after a prior Add/AddAppend marked it dirty; a dirty queue
// accepts only AddAppend/AddDone calls that continue the record already
// in progress. If no queue is dirty, MkCB returns nil without arming
// the worker.
func (d *Driver) MkCB() error {
	if d.busy {
		return ErrWorkerBusy
	}

	anyUsed := false
	for i := range d.queues {
		if d.queues[i].used {
			anyUsed = true
			break
		}
	}
	if !anyUsed {
		return ErrNoQueue
	}

	dirty := -1
	for i := range d.queues {
		if d.queues[i].used && !d.queues[i].mgmtValid {
			dirty = i
			break
		}
	}
	if dirty < 0 {
		return nil
	}
	d.iterCb = uint8(dirty)

	for i := range d.queues {
		if !d.queues[i].used {
			break
		}
		if !d.queues[i].mgmtValid {
			d.queues[i].idMax = 0
			d.queues[i].idMin = math.MaxUint32
			d.queues[i].plFlashOfs = 0
			d.queues[i].entries = 0
		}
	}

	d.cmd = cmdMkCB
	d.iterRecord = 0
	d.stage = stg00
	d.err = nil
	d.busy = true
	return nil
}

// submitAppend is shared by Add and AddAppend: both contribute len(data)
// bytes to the record starting at the queue's current write offset.
// With resume set (AddAppend), a record already in progress may be
// continued even though the previous call marked the queue dirty.
func (d *Driver) submitAppend(cbID uint8, data []byte, resume bool) error {
	if d.busy {
		return ErrWorkerBusy
	}
	q, err := d.checkQueue(cbID)
	if err != nil {
		return err
	}
	inProgress := resume && q.plFlashOfs > 0
	if (!q.mgmtValid && !inProgress) || q.plFlashOfs >= q.plSize+headerSize {
		return ErrWorkerRequest
	}
	if uint32(len(data))+uint32(q.plFlashOfs) > uint32(q.pagesPerElem)*d.params.PageSize {
		return ErrMemory
	}

	d.iterCb = cbID
	q.markDirty()
	d.iterAdr = q.nextWriteAddr + uint32(q.plFlashOfs)
	d.plPtr = data
	d.plWant = uint16(len(data))
	d.plIter = 0
	d.cmd = cmdAdd
	d.stage = stg00
	d.err = nil
	d.busy = true
	return nil
}

// Add writes a complete record (header, payload, footer) in one
// submission. data must be at most the queue's configured payload size;
// if it is less, finish the record with AddDone.
func (d *Driver) Add(cbID uint8, data []byte) error {
	return d.submitAppend(cbID, data, false)
}

// AddAppend contributes data to the record in progress on cbID,
// resuming from the offset left by the previous Add/AddAppend call.
func (d *Driver) AddAppend(cbID uint8, data []byte) error {
	return d.submitAppend(cbID, data, true)
}

// AddDone forces the footer to be written for a record that was
// started with Add/AddAppend but not filled to its full payload size.
// Preconditions are checked before any state is touched, so a busy or
// unknown queue leaves the record exactly as it was.
func (d *Driver) AddDone(cbID uint8) error {
	if d.busy {
		return ErrWorkerBusy
	}
	q, err := d.checkQueue(cbID)
	if err != nil {
		return err
	}
	if q.plFlashOfs > q.plSize+headerSize {
		return ErrWorkerRequest
	}

	d.iterCb = cbID
	q.plFlashOfs = q.plSize + headerSize
	d.iterAdr = q.nextWriteAddr + uint32(q.plFlashOfs)
	d.plPtr = nil
	d.plWant = 0
	d.plIter = 0
	d.cmd = cmdAdd
	d.stage = stg00
	d.err = nil
	d.busy = true
	return nil
}

// GetLast copies up to len(data) bytes of the last complete record's
// payload on cbID into data and returns its id. The copy itself
// happens asynchronously through Worker; the id is already known from
// the last scan and is returned immediately.
func (d *Driver) GetLast(cbID uint8, data []byte) (uint32, error) {
	if d.busy {
		return 0, ErrWorkerBusy
	}
	q, err := d.checkQueue(cbID)
	if err != nil {
		return 0, err
	}
	if !q.mgmtValid {
		return 0, ErrWorkerRequest
	}
	if q.entries == 0 {
		return 0, ErrQueueEmpty
	}

	recordSize := uint32(q.pagesPerElem) * d.params.PageSize
	maxLen := recordSize - 2*headerSize
	want := uint32(len(data))
	if want > maxLen {
		want = maxLen
	}

	d.iterCb = cbID
	d.iterAdr = q.startPageIDMaxComplete + headerSize
	d.plPtr = data
	d.plWant = uint16(want)
	d.plIter = 0
	d.cmd = cmdGet
	d.stage = stg00
	d.err = nil
	d.busy = true
	return q.idLastComplete, nil
}

// FlashRead issues a single raw read of len(data) bytes starting at
// addr, bypassing all queue logic. If the shared SPI buffer cannot hold
// the request, the error is latched and returned synchronously without
// arming the worker.
func (d *Driver) FlashRead(addr uint32, data []byte) error {
	if d.busy {
		return ErrWorkerBusy
	}
	if len(data)+int(d.params.AddressBytes)+1 > len(d.buf) {
		d.err = ErrBufSize
		return ErrBufSize
	}

	d.iterAdr = addr
	d.plPtr = data
	d.plWant = uint16(len(data))
	d.plIter = 0
	d.cmd = cmdRaw
	d.stage = stg00
	d.err = nil
	d.busy = true
	return nil
}
