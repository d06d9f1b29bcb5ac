package trip

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDB connects to the database named by envVar and skips the test when
// it is unset or unreachable. The fixture tables are temporary and live on
// the single pooled connection.
func testDB(t *testing.T, driver, envVar string, schema []string) *sql.DB {
	t.Helper()

	dsn := os.Getenv(envVar)
	if dsn == "" {
		t.Skipf("%s not set, skipping %s test", envVar, driver)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	db, err := OpenDB(ctx, driver, dsn)
	if err != nil {
		t.Skipf("%s not available: %v", driver, err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		_, err := db.ExecContext(context.Background(), stmt)
		require.NoError(t, err)
	}
	return db
}

func assertFixtureMembership(t *testing.T, l *SQLLookup) {
	t.Helper()
	ctx := context.Background()

	m, err := l.Membership(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "7", m.DriverID)
	assert.Equal(t, []string{"9", "11"}, m.PassengerIDs)

	m, err = l.Membership(ctx, "43")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Empty(t, m.DriverID)

	m, err = l.Membership(ctx, "999")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestSQLLookup_MySQL(t *testing.T) {
	db := testDB(t, DriverMySQL, "TEST_MYSQL_DSN", []string{
		`CREATE TEMPORARY TABLE trip (id INT PRIMARY KEY, driverId INT NULL)`,
		`CREATE TEMPORARY TABLE trip_passengers (tripId INT, userId INT, status VARCHAR(16))`,
		`INSERT INTO trip (id, driverId) VALUES (42, 7), (43, NULL)`,
		`INSERT INTO trip_passengers (tripId, userId, status) VALUES
			(42, 9, 'active'), (42, 10, 'cancelled'), (42, 11, 'active')`,
	})
	l, err := NewSQLLookup(db, DriverMySQL)
	require.NoError(t, err)
	assertFixtureMembership(t, l)
}

func TestSQLLookup_Postgres(t *testing.T) {
	db := testDB(t, DriverPostgres, "TEST_DATABASE_URL", []string{
		`CREATE TEMP TABLE trip (id bigint PRIMARY KEY, "driverId" bigint)`,
		`CREATE TEMP TABLE trip_passengers ("tripId" bigint, "userId" bigint, status text)`,
		`INSERT INTO trip (id, "driverId") VALUES (42, 7), (43, NULL)`,
		`INSERT INTO trip_passengers ("tripId", "userId", status) VALUES
			(42, 9, 'active'), (42, 10, 'cancelled'), (42, 11, 'active')`,
	})
	l, err := NewSQLLookup(db, DriverPostgres)
	require.NoError(t, err)
	assertFixtureMembership(t, l)
}

func TestSQLLookup_UnsupportedDriver(t *testing.T) {
	_, err := NewSQLLookup(nil, "sqlite")
	assert.Error(t, err)

	_, err = OpenDB(context.Background(), "sqlite", "file::memory:")
	assert.Error(t, err)
}
