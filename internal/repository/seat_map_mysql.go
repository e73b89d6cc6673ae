package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// seatMapSchema creates the two tables backing the MySQL seat map store.
// Free seats have no row in seat_states.
var seatMapSchema = []string{
	`CREATE TABLE IF NOT EXISTS seat_maps (
		bus_id       VARCHAR(64)     NOT NULL,
		journey_date DATE            NOT NULL,
		version      BIGINT UNSIGNED NOT NULL,
		created_at   TIMESTAMP       NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at   TIMESTAMP       NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (bus_id, journey_date),
		KEY idx_seat_maps_date (journey_date)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS seat_states (
		bus_id         VARCHAR(64)            NOT NULL,
		journey_date   DATE                   NOT NULL,
		seat_id        VARCHAR(16)            NOT NULL,
		status         ENUM('HELD','BOOKED')  NOT NULL,
		holder_token   VARCHAR(128)           NOT NULL,
		expires_at     DATETIME(3)            NULL,
		booking_id     VARCHAR(64)            NULL,
		booked_version BIGINT UNSIGNED        NULL,
		PRIMARY KEY (bus_id, journey_date, seat_id),
		CONSTRAINT fk_seat_states_map FOREIGN KEY (bus_id, journey_date)
			REFERENCES seat_maps (bus_id, journey_date)
	) ENGINE=InnoDB`,
}

const mysqlDateTime = "2006-01-02 15:04:05.000"

// SeatMapRepo stores seat maps in MySQL.  A map is the seat_maps row
// holding its version plus one seat_states row per held or booked seat.
// Save is a compare-and-set on seat_maps.version: the conditional UPDATE
// takes the row lock, so two writers racing from the same version
// cannot both succeed.
type SeatMapRepo struct {
	db *sql.DB
}

// NewSeatMapRepo returns a SeatMapRepo bound to the provided database.
func NewSeatMapRepo(db *sql.DB) *SeatMapRepo { return &SeatMapRepo{db: db} }

// EnsureSchema creates the seat map tables when they do not exist.
func (r *SeatMapRepo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range seatMapSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Load reads a seat map inside a read-only transaction so the version
// and the seat rows come from the same snapshot.  A missing map is
// returned as an empty map at version 0.
func (r *SeatMapRepo) Load(ctx context.Context, key model.SeatMapKey) (*model.SeatMap, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	m := model.NewSeatMap(key)
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM seat_maps WHERE bus_id = ? AND journey_date = ?`,
		key.BusID, key.Date(),
	).Scan(&m.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT seat_id, status, holder_token, expires_at, booking_id, booked_version
		 FROM seat_states WHERE bus_id = ? AND journey_date = ?`,
		key.BusID, key.Date(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			seatID, status, token string
			expiresAt             sql.NullTime
			bookingID             sql.NullString
			bookedVersion         sql.NullInt64
		)
		if err := rows.Scan(&seatID, &status, &token, &expiresAt, &bookingID, &bookedVersion); err != nil {
			return nil, err
		}
		st := model.SeatState{Status: model.SeatStatus(status), HolderToken: token}
		if expiresAt.Valid {
			st.ExpiresAt = expiresAt.Time.UTC()
		}
		if bookingID.Valid {
			st.BookingID = bookingID.String
		}
		if bookedVersion.Valid {
			st.BookedVersion = uint64(bookedVersion.Int64)
		}
		m.Seats[seatID] = st
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// Save writes m when the stored version still equals expected.  Version
// 0 means the map has never been saved and is inserted; a concurrent
// insert surfaces as a duplicate key and is reported as
// ErrVersionConflict like any other lost race.
func (r *SeatMapRepo) Save(ctx context.Context, m *model.SeatMap, expected uint64) error {
	key := m.Key()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if expected == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO seat_maps (bus_id, journey_date, version) VALUES (?, ?, ?)`,
			key.BusID, key.Date(), m.Version,
		)
		if isDuplicateKey(err) {
			return ErrVersionConflict
		}
		if err != nil {
			return err
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`UPDATE seat_maps SET version = ?, updated_at = UTC_TIMESTAMP()
			 WHERE bus_id = ? AND journey_date = ? AND version = ?`,
			m.Version, key.BusID, key.Date(), expected,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrVersionConflict
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM seat_states WHERE bus_id = ? AND journey_date = ?`,
		key.BusID, key.Date(),
	); err != nil {
		return err
	}
	if err := insertSeatStatesTx(ctx, tx, key, m.Seats); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Keys lists seat maps whose journey date is on or after since.
func (r *SeatMapRepo) Keys(ctx context.Context, since time.Time) ([]model.SeatMapKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT bus_id, journey_date FROM seat_maps WHERE journey_date >= ?`,
		model.TruncateDate(since).Format(model.DateLayout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []model.SeatMapKey
	for rows.Next() {
		var busID string
		var date time.Time
		if err := rows.Scan(&busID, &date); err != nil {
			return nil, err
		}
		keys = append(keys, model.NewSeatMapKey(busID, date))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// insertSeatStatesTx inserts every non-free seat in a single statement.
// Passing an empty map has no effect.
func insertSeatStatesTx(ctx context.Context, tx *sql.Tx, key model.SeatMapKey, seats map[string]model.SeatState) error {
	if len(seats) == 0 {
		return nil
	}
	ids := make([]string, 0, len(seats))
	for id := range seats {
		ids = append(ids, id)
	}
	model.SortSeatIDs(ids)

	query := `INSERT INTO seat_states (bus_id, journey_date, seat_id, status, holder_token, expires_at, booking_id, booked_version) VALUES `
	args := make([]interface{}, 0, len(seats)*8)
	for i, id := range ids {
		st := seats[id]
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?, ?)"
		var expiresAt, bookingID, bookedVersion interface{}
		if st.Status == model.SeatHeld {
			expiresAt = st.ExpiresAt.UTC().Format(mysqlDateTime)
		}
		if st.Status == model.SeatBooked {
			bookingID = st.BookingID
			bookedVersion = st.BookedVersion
		}
		args = append(args, key.BusID, key.Date(), id, string(st.Status), st.HolderToken, expiresAt, bookingID, bookedVersion)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
