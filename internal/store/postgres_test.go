package store_test

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streetlight-api/internal/errkind"
	"streetlight-api/internal/lights"
	"streetlight-api/internal/migrate"
	"streetlight-api/internal/store"
)

// 未设置 STREETLIGHT_TEST_PG_DSN 时跳过；每个测试使用独立 schema，结束后删除
const dsnEnv = "STREETLIGHT_TEST_PG_DSN"

func withSearchPath(dsn, schema string) string {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err == nil {
			q := u.Query()
			q.Set("search_path", schema)
			u.RawQuery = q.Encode()
			return u.String()
		}
	}
	return dsn + " search_path=" + schema
}

func newPostgres(t *testing.T) *store.Postgres {
	t.Helper()
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}
	ctx := context.Background()
	admin, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })

	schema := "streetlight_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	_, err = admin.ExecContext(ctx, `CREATE SCHEMA `+schema)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = admin.ExecContext(context.Background(), `DROP SCHEMA `+schema+` CASCADE`) })

	pg, err := store.Open(withSearchPath(dsn, schema))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })
	require.NoError(t, migrate.EnsureSchema(ctx, pg.DB()))
	// 重复执行不报错
	require.NoError(t, migrate.EnsureSchema(ctx, pg.DB()))
	return pg
}

func inTx(t *testing.T, pg *store.Postgres, fn func(tx store.Tx)) {
	t.Helper()
	tx, err := pg.Begin(context.Background())
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()
	fn(tx)
	require.NoError(t, tx.Commit())
}

func TestPostgres_LightsRoundTrip(t *testing.T) {
	pg := newPostgres(t)
	ctx := context.Background()

	inTx(t, pg, func(tx store.Tx) {
		require.NoError(t, tx.InsertLight(ctx, lights.LightRecord{ID: "01002", Lat: 24.42, Lng: 120.69}))
		require.NoError(t, tx.InsertLight(ctx, lights.LightRecord{ID: "01001", Lat: 24.41, Lng: 120.68}))
		require.NoError(t, tx.InsertLight(ctx, lights.LightRecord{ID: "02001", Lat: 24.5, Lng: 120.7}))
	})

	// 主键冲突归类为 Conflict；出错后的事务只能回滚
	tx, err := pg.Begin(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, tx.InsertLight(ctx, lights.LightRecord{ID: "01001", Lat: 1, Lng: 1}), errkind.Conflict)
	require.NoError(t, tx.Rollback())

	n, err := pg.CountLights(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows, err := pg.ListLights(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "01001", rows[0].ID)
	assert.Equal(t, "02001", rows[2].ID)

	inTx(t, pg, func(tx store.Tx) {
		ids, err := tx.ListLightIDs(ctx, "01")
		require.NoError(t, err)
		assert.Equal(t, []string{"01001", "01002"}, ids)
		require.NoError(t, tx.UpdateLight(ctx, lights.LightRecord{ID: "01001", Lat: 24.45, Lng: 120.65}))
		require.NoError(t, tx.DeleteLight(ctx, "02001"))
		assert.ErrorIs(t, tx.DeleteLight(ctx, "02001"), errkind.NotFound)
		assert.ErrorIs(t, tx.UpdateLight(ctx, lights.LightRecord{ID: "03001"}), errkind.NotFound)
	})

	got, ok, err := pg.GetLight(ctx, "01001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 24.45, got.Lat)
	_, ok, err = pg.GetLight(ctx, "02001")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgres_RollbackDiscards(t *testing.T) {
	pg := newPostgres(t)
	ctx := context.Background()
	tx, err := pg.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertLight(ctx, lights.LightRecord{ID: "01001", Lat: 24, Lng: 120}))
	require.NoError(t, tx.AppendHistory(ctx, lights.HistoryEntry{Time: "115/10/19 9:00:00.000", LightID: "01001", Action: lights.ActionNew}))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback())

	n, err := pg.CountLights(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	hist, err := pg.RecentHistory(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestPostgres_TxGetLightLocksRow(t *testing.T) {
	pg := newPostgres(t)
	ctx := context.Background()
	inTx(t, pg, func(tx store.Tx) {
		require.NoError(t, tx.InsertLight(ctx, lights.LightRecord{ID: "01001", Lat: 24, Lng: 120}))
	})

	first, err := pg.Begin(ctx)
	require.NoError(t, err)
	_, ok, err := first.GetLight(ctx, "01001")
	require.NoError(t, err)
	require.True(t, ok)

	var wg sync.WaitGroup
	got := make(chan lights.LightRecord, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		second, err := pg.Begin(ctx)
		if !assert.NoError(t, err) {
			return
		}
		defer func() { _ = second.Rollback() }()
		rec, _, err := second.GetLight(ctx, "01001")
		if assert.NoError(t, err) {
			got <- rec
		}
	}()

	select {
	case <-got:
		t.Fatal("second transaction read a row locked by the first")
	case <-time.After(200 * time.Millisecond):
	}
	require.NoError(t, first.UpdateLight(ctx, lights.LightRecord{ID: "01001", Lat: 24.5, Lng: 120.5}))
	require.NoError(t, first.Commit())
	wg.Wait()
	rec := <-got
	assert.Equal(t, 24.5, rec.Lat)
}

func TestPostgres_DeleteHistory(t *testing.T) {
	pg := newPostgres(t)
	ctx := context.Background()
	entry := func(label, id, note string) lights.HistoryEntry {
		return lights.HistoryEntry{Time: label, LightID: id, AfterLat: "24", AfterLng: "120", Action: lights.ActionNew, Note: note}
	}
	inTx(t, pg, func(tx store.Tx) {
		require.NoError(t, tx.AppendHistory(ctx, entry("115/10/19 9:00:00.000", "01001", "first")))
		require.NoError(t, tx.AppendHistory(ctx, entry("115/10/19 9:00:00.000", "01001", "second")))
		require.NoError(t, tx.AppendHistory(ctx, entry("115/10/19 9:00:00.001", "01002", "")))
		require.NoError(t, tx.AppendHistory(ctx, entry("115/10/19 9:00:00.002", "01003", "")))
	})

	inTx(t, pg, func(tx store.Tx) {
		ok, err := tx.DeleteHistory(ctx, lights.HistoryKey{LightID: "'01001", Time: "115/10/19 9:00:00.000"})
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = tx.DeleteHistory(ctx, lights.HistoryKey{LightID: "01009", Time: "115/10/19 9:00:00.000"})
		require.NoError(t, err)
		assert.False(t, ok)
	})
	hist, err := pg.RecentHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	// 多条匹配时删除最后追加的一条
	assert.Equal(t, "first", hist[2].Note)

	inTx(t, pg, func(tx store.Tx) {
		n, err := tx.DeleteHistoryBatch(ctx, []lights.HistoryKey{
			{LightID: "01002", Time: "115/10/19 9:00:00.001"},
			{LightID: "01003", Time: "115/10/19 9:00:00.002"},
			{LightID: "01003", Time: "115/10/19 9:00:09.000"},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		n, err = tx.DeleteHistoryBatch(ctx, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
	hist, err = pg.RecentHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "01001", hist[0].LightID)
	assert.Equal(t, lights.ActionNew, hist[0].Action)
}

func TestPostgres_Repairs(t *testing.T) {
	pg := newPostgres(t)
	ctx := context.Background()
	var first, second int64
	inTx(t, pg, func(tx store.Tx) {
		var err error
		first, err = tx.InsertRepair(ctx, lights.RepairReport{LightID: "01001", ReportedAt: "115/10/19 9:00:00.000", Status: lights.RepairPending, Fault: "燈不亮"})
		require.NoError(t, err)
		second, err = tx.InsertRepair(ctx, lights.RepairReport{LightID: "01002", ReportedAt: "115/10/19 9:00:00.001", Status: lights.RepairPending, Fault: "閃爍"})
		require.NoError(t, err)
	})
	assert.Greater(t, second, first)

	inTx(t, pg, func(tx store.Tx) {
		rep, ok, err := tx.GetRepair(ctx, first)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Empty(t, rep.Photos)
		rep.Status = lights.RepairDone
		rep.RepairedOn = "2026/10/19"
		rep.RepairNote = "更換燈泡"
		rep.Photos = []lights.RepairPhoto{{Before: "https://files/a.jpg", After: "https://files/b.jpg"}}
		require.NoError(t, tx.UpdateRepair(ctx, rep))
		assert.ErrorIs(t, tx.UpdateRepair(ctx, lights.RepairReport{ReportID: second + 100, Status: lights.RepairDone}), errkind.NotFound)
	})
	// NotFound 不会中止事务，上面的 Commit 成功

	pending, err := pg.ListRepairs(ctx, lights.RepairPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second, pending[0].ReportID)

	all, err := pg.ListRepairs(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	done := all[0]
	assert.Equal(t, lights.RepairDone, done.Status)
	assert.Equal(t, "2026/10/19", done.RepairedOn)
	assert.Equal(t, []lights.RepairPhoto{{Before: "https://files/a.jpg", After: "https://files/b.jpg"}}, done.Photos)

	inTx(t, pg, func(tx store.Tx) {
		_, ok, err := tx.GetRepair(ctx, second+100)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPostgres_ClosedPoolIsUnavailable(t *testing.T) {
	pg := newPostgres(t)
	require.NoError(t, pg.Close())
	_, err := pg.ListLights(context.Background())
	assert.ErrorIs(t, err, errkind.StorageUnavailable)
	_, err = pg.Begin(context.Background())
	assert.ErrorIs(t, err, errkind.StorageUnavailable)
}
