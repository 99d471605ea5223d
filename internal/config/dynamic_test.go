package config

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*SettingsStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewSettingsStore(context.Background(), rdb), mr
}

func TestSettingsDefaults(t *testing.T) {
	st, _ := newStore(t)
	s := st.Current()
	assert.Equal(t, 2000, s.MergeWindowMS)
	assert.Equal(t, 5, s.MaxMergedMessages)
	assert.Equal(t, 5, s.WorkerConcurrency)
	assert.Equal(t, 2*time.Second, s.MergeWindow())
}

func TestSettingsLoadPersisted(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("wecom:config:settings", `{"merge_window_ms":3000,"worker_concurrency":8}`))
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st := NewSettingsStore(context.Background(), rdb)
	s := st.Current()
	assert.Equal(t, 3000, s.MergeWindowMS)
	assert.Equal(t, 8, s.WorkerConcurrency)
	// Fields absent from the stored JSON keep their defaults.
	assert.Equal(t, 5, s.MaxMergedMessages)
}

func TestSettingsUpdateSwapsAndNotifies(t *testing.T) {
	st, mr := newStore(t)

	var seen []int
	st.OnChange(func(s Settings) { seen = append(seen, s.WorkerConcurrency) })

	next := DefaultSettings()
	next.WorkerConcurrency = 12
	require.NoError(t, st.Update(context.Background(), next))

	assert.Equal(t, 12, st.Current().WorkerConcurrency)
	assert.Equal(t, []int{12}, seen)

	// The update is persisted for other processes to load.
	raw, err := mr.Get("wecom:config:settings")
	require.NoError(t, err)
	assert.Contains(t, raw, `"worker_concurrency":12`)
}

func TestSettingsReloadIgnoresCorruptJSON(t *testing.T) {
	st, mr := newStore(t)
	require.NoError(t, mr.Set("wecom:config:settings", `{broken`))
	assert.Error(t, st.reload(context.Background()))
	// The last good snapshot stays active.
	assert.Equal(t, 2000, st.Current().MergeWindowMS)
}
