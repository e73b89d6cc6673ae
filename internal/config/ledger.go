package config

import (
	"fmt"
	"time"
)

// LedgerConfig tunes the seat inventory ledger.
//
//	HoldDuration  – hold length used when a reserve asks for none (10m).
//	HoldMax       – upper bound on any requested hold (30m).
//	MaxSeats      – most seats one reserve may take (6).
//	CASAttempts   – store compare-and-set attempts before giving up (3).
//	SweepInterval – how often expired holds are swept; 0 disables (30s).
//	ArchiveAfter  – seat maps whose journey date is older than this are
//	                no longer swept (48h).
type LedgerConfig struct {
	HoldDuration  time.Duration
	HoldMax       time.Duration
	MaxSeats      int
	CASAttempts   int
	SweepInterval time.Duration
	ArchiveAfter  time.Duration
}

// DefaultLedgerConfig returns the built-in defaults.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		HoldDuration:  10 * time.Minute,
		HoldMax:       30 * time.Minute,
		MaxSeats:      6,
		CASAttempts:   3,
		SweepInterval: 30 * time.Second,
		ArchiveAfter:  48 * time.Hour,
	}
}

// LoadLedgerConfig reads LEDGER_* variables over the defaults.
func LoadLedgerConfig() LedgerConfig {
	d := DefaultLedgerConfig()
	return LedgerConfig{
		HoldDuration:  envDur("LEDGER_HOLD_DURATION", d.HoldDuration),
		HoldMax:       envDur("LEDGER_HOLD_MAX", d.HoldMax),
		MaxSeats:      envInt("LEDGER_MAX_SEATS", d.MaxSeats),
		CASAttempts:   envInt("LEDGER_CAS_ATTEMPTS", d.CASAttempts),
		SweepInterval: envDur("LEDGER_SWEEP_INTERVAL", d.SweepInterval),
		ArchiveAfter:  envDur("LEDGER_ARCHIVE_AFTER", d.ArchiveAfter),
	}
}

func (c LedgerConfig) validate() error {
	if c.HoldDuration <= 0 {
		return fmt.Errorf("LEDGER_HOLD_DURATION must be positive, got %s", c.HoldDuration)
	}
	if c.HoldMax < c.HoldDuration {
		return fmt.Errorf("LEDGER_HOLD_MAX (%s) is shorter than LEDGER_HOLD_DURATION (%s)", c.HoldMax, c.HoldDuration)
	}
	if c.MaxSeats < 1 {
		return fmt.Errorf("LEDGER_MAX_SEATS must be at least 1, got %d", c.MaxSeats)
	}
	if c.CASAttempts < 1 {
		return fmt.Errorf("LEDGER_CAS_ATTEMPTS must be at least 1, got %d", c.CASAttempts)
	}
	return nil
}
