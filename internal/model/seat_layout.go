package model

import (
	"strconv"
	"strings"
)

// SeatLayout describes the seating grid of a bus.  Seat identifiers are
// built from a row label (A, B, ... Z, AA, AB, ...) followed by the
// 1-based seat number within the row, e.g. "A1" or "C4".
//
// Fields:
//  Rows        – number of seat rows.
//  SeatsPerRow – number of seats in every row.
//  AisleAfter  – seat number after which the aisle runs (display only).
type SeatLayout struct {
	Rows        int `json:"rows" gorm:"column:layout_rows"`
	SeatsPerRow int `json:"seats_per_row" gorm:"column:layout_seats_per_row"`
	AisleAfter  int `json:"aisle_after" gorm:"column:layout_aisle_after"`
}

// Capacity is the number of seats in the layout.
func (l SeatLayout) Capacity() int { return l.Rows * l.SeatsPerRow }

// Contains reports whether seatID addresses a seat inside the layout.
func (l SeatLayout) Contains(seatID string) bool {
	row, num, ok := SplitSeatID(seatID)
	if !ok {
		return false
	}
	return row < l.Rows && num >= 1 && num <= l.SeatsPerRow
}

// SeatIDs lists every seat of the layout in row-major order.
func (l SeatLayout) SeatIDs() []string {
	out := make([]string, 0, l.Capacity())
	for r := 0; r < l.Rows; r++ {
		label := RowLabel(r)
		for n := 1; n <= l.SeatsPerRow; n++ {
			out = append(out, label+strconv.Itoa(n))
		}
	}
	return out
}

// NormalizeSeatID trims and upper-cases a seat id.
func NormalizeSeatID(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// SplitSeatID splits "AB12" into the zero-based row index of "AB" and 12.
func SplitSeatID(seatID string) (row int, num int, ok bool) {
	i := 0
	for i < len(seatID) && seatID[i] >= 'A' && seatID[i] <= 'Z' {
		i++
	}
	if i == 0 || i == len(seatID) {
		return 0, 0, false
	}
	row, ok = RowIndex(seatID[:i])
	if !ok {
		return 0, 0, false
	}
	digits := seatID[i:]
	// One spelling per seat: "A1" only, never "A01" or "A+1".
	if digits[0] < '1' || digits[0] > '9' || strings.Trim(digits, "0123456789") != "" {
		return 0, 0, false
	}
	num, err := strconv.Atoi(digits)
	if err != nil {
		return 0, 0, false
	}
	return row, num, true
}

// RowLabel converts a zero-based index to an alphabetical row label like A, B, AA
func RowLabel(i int) string {
	if i < 0 {
		return ""
	}
	res := []rune{}
	for {
		rem := i % 26
		res = append(res, rune('A'+rem))
		i = i/26 - 1
		if i < 0 {
			break
		}
	}
	for j, k := 0, len(res)-1; j < k; j, k = j+1, k-1 {
		res[j], res[k] = res[k], res[j]
	}
	return string(res)
}

// RowIndex converts a row label like A or AA into its zero-based index
func RowIndex(label string) (int, bool) {
	s := strings.ToUpper(strings.TrimSpace(label))
	if s == "" {
		return -1, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch < 'A' || ch > 'Z' {
			return -1, false
		}
		n = n*26 + int(ch-'A'+1)
	}
	return n - 1, true
}
