package model

import (
	"fmt"
	"sort"
	"time"
)

// DateLayout is the wire and storage format of a journey date.
const DateLayout = "2006-01-02"

// SeatStatus is the state tag of a seat within a seat map.  Seats that
// are absent from SeatMap.Seats are FREE.
type SeatStatus string

const (
	SeatFree   SeatStatus = "FREE"
	SeatHeld   SeatStatus = "HELD"
	SeatBooked SeatStatus = "BOOKED"
)

// SeatState describes one seat.  Which fields are meaningful depends on
// Status:
//
//	HELD   – HolderToken and ExpiresAt.
//	BOOKED – BookingID, plus the HolderToken that confirmed it and the
//	         map version at which it was booked (BookedVersion).  The
//	         latter two let a repeated confirm return its original result.
type SeatState struct {
	Status        SeatStatus `json:"status"`
	HolderToken   string     `json:"holder_token,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at,omitempty"`
	BookingID     string     `json:"booking_id,omitempty"`
	BookedVersion uint64     `json:"booked_version,omitempty"`
}

// Held builds a HELD state.
func Held(holderToken string, expiresAt time.Time) SeatState {
	return SeatState{Status: SeatHeld, HolderToken: holderToken, ExpiresAt: expiresAt.UTC()}
}

// Booked builds a BOOKED state.
func Booked(bookingID, holderToken string, version uint64) SeatState {
	return SeatState{Status: SeatBooked, BookingID: bookingID, HolderToken: holderToken, BookedVersion: version}
}

// Expired reports whether s is a hold whose expiry has been reached.  A
// hold expiring exactly at now is expired.
func (s SeatState) Expired(now time.Time) bool {
	return s.Status == SeatHeld && !now.Before(s.ExpiresAt)
}

// Unavailable reports whether the seat should be shown as taken at now:
// an unexpired hold or a booking.
func (s SeatState) Unavailable(now time.Time) bool {
	switch s.Status {
	case SeatBooked:
		return true
	case SeatHeld:
		return now.Before(s.ExpiresAt)
	}
	return false
}

// SeatMapKey identifies a seat map: one bus on one journey date.
type SeatMapKey struct {
	BusID       string
	JourneyDate time.Time
}

// NewSeatMapKey normalises the journey date to midnight UTC.
func NewSeatMapKey(busID string, journeyDate time.Time) SeatMapKey {
	return SeatMapKey{BusID: busID, JourneyDate: TruncateDate(journeyDate)}
}

// Date returns the journey date as YYYY-MM-DD.
func (k SeatMapKey) Date() string { return k.JourneyDate.Format(DateLayout) }

func (k SeatMapKey) String() string { return k.BusID + "_" + k.Date() }

// SeatMap is the seat state record of one bus on one journey date.
// Version increases by exactly one with every accepted mutation and is
// the compare-and-set token used by the stores.
type SeatMap struct {
	BusID       string               `json:"bus_id"`
	JourneyDate time.Time            `json:"journey_date"`
	Seats       map[string]SeatState `json:"seats"`
	Version     uint64               `json:"version"`
}

// NewSeatMap returns an empty map at version 0.
func NewSeatMap(key SeatMapKey) *SeatMap {
	return &SeatMap{
		BusID:       key.BusID,
		JourneyDate: key.JourneyDate,
		Seats:       make(map[string]SeatState),
	}
}

// Key returns the map's key.
func (m *SeatMap) Key() SeatMapKey { return NewSeatMapKey(m.BusID, m.JourneyDate) }

// State returns the state of seatID; missing seats are FREE.
func (m *SeatMap) State(seatID string) SeatState {
	if st, ok := m.Seats[seatID]; ok {
		return st
	}
	return SeatState{Status: SeatFree}
}

// Clone returns a deep copy.
func (m *SeatMap) Clone() *SeatMap {
	out := &SeatMap{
		BusID:       m.BusID,
		JourneyDate: m.JourneyDate,
		Seats:       make(map[string]SeatState, len(m.Seats)),
		Version:     m.Version,
	}
	for id, st := range m.Seats {
		out.Seats[id] = st
	}
	return out
}

// Unavailable returns the sorted ids of all seats that are held
// (unexpired) or booked at now.
func (m *SeatMap) Unavailable(now time.Time) []string {
	ids := make([]string, 0, len(m.Seats))
	for id, st := range m.Seats {
		if st.Unavailable(now) {
			ids = append(ids, id)
		}
	}
	SortSeatIDs(ids)
	return ids
}

// ParseDate parses a YYYY-MM-DD journey date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid journey date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

// TruncateDate drops the time of day, keeping the calendar date in UTC.
func TruncateDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SortSeatIDs orders seat ids by row then number (A2 before A10).
func SortSeatIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		ri, ni, oki := SplitSeatID(ids[i])
		rj, nj, okj := SplitSeatID(ids[j])
		if !oki || !okj {
			return ids[i] < ids[j]
		}
		if ri != rj {
			return ri < rj
		}
		return ni < nj
	})
}
