//go:build unit

package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hugolhafner/extoffset/offset"
	"github.com/hugolhafner/extoffset/store/memory"
	"github.com/stretchr/testify/require"
)

var id = offset.Identity{Cluster: "c", Topic: "orders", Partition: 1, Group: "g"}

func TestStore_ReadMissing(t *testing.T) {
	s := memory.New()

	_, found, err := s.Read(context.Background(), id)
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, 1, s.Reads(id))
}

func TestStore_UpsertKeepsCreateTime(t *testing.T) {
	s := memory.New()
	created := time.Unix(100, 0)

	require.NoError(t, s.Upsert(context.Background(), offset.Record{
		Cluster: "c", Topic: "orders", Partition: 1, Group: "g", Offset: 5, CreateTime: created,
	}))
	require.NoError(t, s.Upsert(context.Background(), offset.Record{
		Cluster: "c", Topic: "orders", Partition: 1, Group: "g", Offset: 9, CreateTime: time.Unix(200, 0),
	}))

	rec, found, err := s.Read(context.Background(), id)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(9), rec.Offset)
	require.Equal(t, created, rec.CreateTime)
	require.Len(t, s.History(id), 2)
	require.Equal(t, 2, s.Upserts(id))
}

func TestStore_InjectedErrors(t *testing.T) {
	s := memory.New()
	boom := errors.New("down")
	s.SetUnavailable(boom)

	_, _, err := s.Read(context.Background(), id)
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, s.Upsert(context.Background(), offset.Record{}), boom)
	require.ErrorIs(t, s.Ping(context.Background()), boom)

	s.SetUnavailable(nil)
	require.NoError(t, s.Ping(context.Background()))
	require.Equal(t, 2, s.Pings())
}

func TestStore_Closed(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.Close())

	require.ErrorIs(t, s.Ping(context.Background()), memory.ErrClosed)
	require.True(t, s.IsClosed())
}
