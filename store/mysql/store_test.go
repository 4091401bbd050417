//go:build unit

package mysql_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hugolhafner/extoffset/offset"
	"github.com/hugolhafner/extoffset/store/mysql"
	"github.com/stretchr/testify/require"
)

var id = offset.Identity{Cluster: "c1", Topic: "orders", Partition: 2, Group: "g1"}

func newStore(t *testing.T) (*mysql.Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	s, err := mysql.New(db)
	require.NoError(t, err)

	t.Cleanup(func() {
		mock.ExpectClose()
		require.NoError(t, s.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	return s, mock
}

func TestStore_ReadFound(t *testing.T) {
	s, mock := newStore(t)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("FROM kafka_consumer_offset WHERE kafka_cluster_name = ?")).
		WithArgs("c1", "orders", int64(2), "g1").
		WillReturnRows(
			sqlmock.NewRows([]string{"offset", "last_flush_offset", "owner", "count", "create_time", "update_time"}).
				AddRow(int64(42), int64(42), "owner-a", int64(3), created, updated),
		)

	rec, found, err := s.Read(context.Background(), id)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(42), rec.Offset)
	require.Equal(t, "owner-a", rec.Owner)
	require.Equal(t, id, rec.Identity())
	require.Equal(t, created, rec.CreateTime)
}

func TestStore_ReadMissing(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `offset`")).
		WillReturnRows(
			sqlmock.NewRows([]string{"offset", "last_flush_offset", "owner", "count", "create_time", "update_time"}),
		)

	_, found, err := s.Read(context.Background(), id)
	require.NoError(t, err)
	require.False(t, found)
}

func TestStore_ReadDuplicateRows(t *testing.T) {
	s, mock := newStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `offset`")).
		WillReturnRows(
			sqlmock.NewRows([]string{"offset", "last_flush_offset", "owner", "count", "create_time", "update_time"}).
				AddRow(int64(1), int64(1), "", int64(0), now, now).
				AddRow(int64(2), int64(2), "", int64(0), now, now),
		)

	_, _, err := s.Read(context.Background(), id)
	require.ErrorIs(t, err, mysql.ErrDuplicateRows)
}

func TestStore_Upsert(t *testing.T) {
	s, mock := newStore(t)
	now := time.Now()
	rec := offset.Record{
		Cluster: "c1", Topic: "orders", Partition: 2, Group: "g1",
		Offset: 13, LastFlushOffset: 13, Owner: "me", Count: 3, CreateTime: now, UpdateTime: now,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO kafka_consumer_offset")).
		WithArgs("c1", "orders", int64(2), "g1", int64(13), int64(13), "me", int64(3), now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Upsert(context.Background(), rec))
}

func TestStore_UpsertError(t *testing.T) {
	s, mock := newStore(t)
	boom := errors.New("connection refused")

	mock.ExpectExec(regexp.QuoteMeta("ON DUPLICATE KEY UPDATE")).WillReturnError(boom)

	err := s.Upsert(context.Background(), offset.Record{Topic: "orders"})
	require.ErrorIs(t, err, boom)
}

func TestStore_PingAndMigrate(t *testing.T) {
	s, mock := newStore(t)

	mock.ExpectPing()
	require.NoError(t, s.Ping(context.Background()))

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS kafka_consumer_offset")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.Migrate(context.Background()))
}

func TestNew_RejectsBadTable(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = mysql.New(db, mysql.WithTable("offsets; DROP TABLE x"))
	require.Error(t, err)
}
