package trip

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql" // registers the "mysql" driver
	_ "github.com/lib/pq"              // registers the "postgres" driver
)

// Supported database drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// dialect holds the driver specific membership queries. Both read the
// ride-share schema: trip(id, driverId) and trip_passengers(tripId, userId,
// status).
type dialect struct {
	trip       string
	passengers string
}

var dialects = map[string]dialect{
	DriverMySQL: {
		trip: "SELECT CAST(driverId AS CHAR) FROM trip WHERE id = ?",
		passengers: `SELECT CAST(userId AS CHAR) FROM trip_passengers
			WHERE tripId = ? AND status = 'active'
			ORDER BY userId`,
	},
	DriverPostgres: {
		trip: `SELECT "driverId"::text FROM trip WHERE id::text = $1`,
		passengers: `SELECT "userId"::text FROM trip_passengers
			WHERE "tripId"::text = $1 AND status = 'active'
			ORDER BY "userId"`,
	},
}

// SQLLookup reads membership from the ride-share database.
type SQLLookup struct {
	db      *sql.DB
	queries dialect
}

// NewSQLLookup creates a lookup backed by db using the queries of driver.
func NewSQLLookup(db *sql.DB, driver string) (*SQLLookup, error) {
	q, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("trip: unsupported database driver %q", driver)
	}
	return &SQLLookup{db: db, queries: q}, nil
}

// OpenDB opens and pings a connection pool for driver.
func OpenDB(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if _, ok := dialects[driver]; !ok {
		return nil, fmt.Errorf("trip: unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("trip: open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("trip: ping %s: %w", driver, err)
	}
	return db, nil
}

// Membership implements Lookup.
func (l *SQLLookup) Membership(ctx context.Context, tripID string) (*Membership, error) {
	var driverID sql.NullString
	err := l.db.QueryRowContext(ctx, l.queries.trip, tripID).Scan(&driverID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trip: query trip %s: %w", tripID, err)
	}

	rows, err := l.db.QueryContext(ctx, l.queries.passengers, tripID)
	if err != nil {
		return nil, fmt.Errorf("trip: query passengers %s: %w", tripID, err)
	}
	defer rows.Close()

	m := &Membership{DriverID: driverID.String}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("trip: scan passenger: %w", err)
		}
		m.PassengerIDs = append(m.PassengerIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trip: iterate passengers: %w", err)
	}
	return m, nil
}
