package sdr

import (
	"encoding/binary"
	"sync"
	"time"

	"ipmc-core/errcode"
)

// Reservation is the repository's 16-bit reservation token, minted by
// Reserve and required by every mutating call, mirroring
// SensorDataRepository::reservation_t.
type Reservation uint16

// Repository is a reservation-protected, versioned store of SDR
// records, grounded on sensor_data_repository.h. Every operation that
// takes a reservation accepts either the live reservation or 0; 0
// skips the check for that single call and mints no new reservation,
// so reservations already handed out stay valid. Any other value fails
// with errcode.ReservationCancelled.
type Repository struct {
	mu          sync.Mutex
	reservation Reservation
	records     []Record
	lastUpdate  time.Time
}

// NewRepository returns an empty repository with an initial
// reservation already minted.
func NewRepository() *Repository {
	r := &Repository{reservation: 1}
	return r
}

// nextReservation skips zero so that zero is never a live reservation
// and can always mean "no reservation check".
func (r *Repository) nextReservation() Reservation {
	r.reservation++
	if r.reservation == 0 {
		r.reservation = 1
	}
	return r.reservation
}

// assertReservation validates a reservation; 0 always passes and
// leaves the live reservation unchanged. Caller holds r.mu.
func (r *Repository) assertReservation(reservation Reservation) error {
	if reservation == 0 {
		return nil
	}
	if reservation != r.reservation {
		return errcode.New(errcode.ReservationCancelled, "sdr.reservation", "supplied reservation no longer matches current repository reservation")
	}
	return nil
}

// Reserve mints and returns a new reservation, invalidating any
// previously issued one.
func (r *Repository) Reserve() Reservation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextReservation()
}

// CurrentReservation returns the live reservation without minting a
// new one.
func (r *Repository) CurrentReservation() Reservation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reservation
}

// Size returns the number of records currently stored.
func (r *Repository) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// LastUpdateTimestamp returns the time of the most recent mutation.
func (r *Repository) LastUpdateTimestamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastUpdate
}

// Add inserts record, replacing any existing record with the same
// RecordType+RecordKey, and returns the assigned RecordID.
func (r *Repository) Add(record Record, reservation Reservation) (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.assertReservation(reservation); err != nil {
		return 0, err
	}
	if err := record.Validate(); err != nil {
		return 0, err
	}
	for i, existing := range r.records {
		if sameRecord(existing, record) {
			r.records[i] = record
			r.renumberLocked()
			r.touchLocked()
			return record.RecordID(), nil
		}
	}
	r.records = append(r.records, record)
	r.renumberLocked()
	r.touchLocked()
	return record.RecordID(), nil
}

// AddAll merges every interpretable record from other into r,
// discarding any that fail Interpret/Validate, mirroring
// SensorDataRepository::add(const SensorDataRepository&, reservation_t).
func (r *Repository) AddAll(other *Repository, reservation Reservation) error {
	other.mu.Lock()
	toAdd := make([]Record, len(other.records))
	copy(toAdd, other.records)
	other.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.assertReservation(reservation); err != nil {
		return err
	}
	for _, rec := range toAdd {
		if rec.Validate() != nil {
			continue
		}
		replaced := false
		for i, existing := range r.records {
			if sameRecord(existing, rec) {
				r.records[i] = rec
				replaced = true
				break
			}
		}
		if !replaced {
			r.records = append(r.records, rec)
		}
	}
	r.renumberLocked()
	r.touchLocked()
	return nil
}

// Remove deletes the record with the given RecordID, reporting whether
// one was found.
func (r *Repository) Remove(id uint16, reservation Reservation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.assertReservation(reservation); err != nil {
		return false, err
	}
	for i, rec := range r.records {
		if rec.RecordID() == id {
			r.records = append(r.records[:i], r.records[i+1:]...)
			r.renumberLocked()
			r.touchLocked()
			return true, nil
		}
	}
	return false, nil
}

// RemoveMatching deletes every record sharing record's Type+Key,
// reporting whether at least one was removed.
func (r *Repository) RemoveMatching(record Record, reservation Reservation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.assertReservation(reservation); err != nil {
		return false, err
	}
	removed := false
	kept := r.records[:0:0]
	for _, rec := range r.records {
		if sameRecord(rec, record) {
			removed = true
			continue
		}
		kept = append(kept, rec)
	}
	if removed {
		r.records = kept
		r.renumberLocked()
		r.touchLocked()
	}
	return removed, nil
}

// Clear empties the repository.
func (r *Repository) Clear(reservation Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.assertReservation(reservation); err != nil {
		return err
	}
	r.records = nil
	r.touchLocked()
	return nil
}

// Get returns the record with the given RecordID.
func (r *Repository) Get(id uint16, reservation Reservation) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.assertReservation(reservation); err != nil {
		return nil, err
	}
	for _, rec := range r.records {
		if rec.RecordID() == id {
			return rec, nil
		}
	}
	return nil, errcode.New(errcode.InvalidSDR, "sdr.get", "no record with that id")
}

// Find returns the record whose RecordKey matches key exactly.
func (r *Repository) Find(key []byte, reservation Reservation) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.assertReservation(reservation); err != nil {
		return nil, err
	}
	for _, rec := range r.records {
		rk := rec.RecordKey()
		if len(rk) != len(key) {
			continue
		}
		match := true
		for i := range rk {
			if rk[i] != key[i] {
				match = false
				break
			}
		}
		if match {
			return rec, nil
		}
	}
	return nil, errcode.New(errcode.InvalidSDR, "sdr.find", "no record with that key")
}

// All returns a snapshot slice of every record, for external iteration.
func (r *Repository) All() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// renumberLocked reassigns sequential RecordIDs starting at zero after
// any mutation, matching SensorDataRepository::renumber. Caller holds
// r.mu.
func (r *Repository) renumberLocked() {
	for i, rec := range r.records {
		rec.SetRecordID(uint16(i))
	}
}

func (r *Repository) touchLocked() {
	r.lastUpdate = time.Now()
}

// u8checksum is the two's-complement-sum checksum framing u8export/
// u8import prefix every blob with: the byte such that summing it with
// every following byte totals zero mod 256.
func u8checksum(buf []byte) byte {
	var sum byte
	for _, b := range buf {
		sum += b
	}
	return byte(-int8(sum))
}

// u8TimestampLocked returns the repository's last-update time as Unix
// seconds, or zero if it has never been mutated. Caller holds r.mu.
func (r *Repository) u8TimestampLocked() uint64 {
	if r.lastUpdate.IsZero() {
		return 0
	}
	return uint64(r.lastUpdate.Unix())
}

// U8Export serializes the whole repository to the checksummed binary
// form [checksum_byte][last_update_ts (8 bytes, LE)][{u8 length, length
// bytes of raw SDR}...], matching SensorDataRepository::u8export. An
// empty, never-mutated repository exports as 9 zero bytes.
func (r *Repository) U8Export() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	body := make([]byte, 8)
	binary.LittleEndian.PutUint64(body, r.u8TimestampLocked())
	for _, rec := range r.records {
		b := rec.Bytes()
		body = append(body, byte(len(b)))
		body = append(body, b...)
	}

	out := make([]byte, 1+len(body))
	copy(out[1:], body)
	out[0] = u8checksum(body)
	return out
}

// U8Import parses data as produced by U8Export — a checksum byte, an
// 8-byte little-endian last-update timestamp, then a sequence of
// {u8 length, length bytes} framed SDR records — and merges the
// records into the repository, silently discarding any that fail
// Interpret, matching SensorDataRepository::u8import. If the checksum
// fails to validate or the record framing is structurally
// inconsistent (truncated length-prefixed record), no changes are
// made and an error is returned; intermediate records are parsed into
// a scratch slice and merged only on success.
func (r *Repository) U8Import(data []byte, reservation Reservation) error {
	const headerBytes = 1 + 8
	if len(data) < headerBytes {
		return errcode.New(errcode.InvalidSDR, "sdr.import", "truncated u8export header")
	}
	if u8checksum(data[1:]) != data[0] {
		return errcode.New(errcode.InvalidSDR, "sdr.import", "checksum invalid")
	}
	ts := binary.LittleEndian.Uint64(data[1:headerBytes])

	var parsed []Record
	offset := headerBytes
	for offset < len(data) {
		length := int(data[offset])
		offset++
		if offset+length > len(data) {
			return errcode.New(errcode.InvalidSDR, "sdr.import", "truncated record body")
		}
		rec, err := Interpret(data[offset : offset+length])
		if err == nil {
			parsed = append(parsed, rec)
		}
		offset += length
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.assertReservation(reservation); err != nil {
		return err
	}
	for _, rec := range parsed {
		replaced := false
		for i, existing := range r.records {
			if sameRecord(existing, rec) {
				r.records[i] = rec
				replaced = true
				break
			}
		}
		if !replaced {
			r.records = append(r.records, rec)
		}
	}
	r.renumberLocked()
	if ts == 0 {
		r.lastUpdate = time.Time{}
	} else {
		r.lastUpdate = time.Unix(int64(ts), 0)
	}
	return nil
}

// recordIDBytes encodes a record id little-endian, as IPMI puts record
// ids on the wire. It has no caller in this module; the IPMI Get SDR
// handlers encode the next-record-id pointer themselves.
func recordIDBytes(id uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, id)
	return b
}
