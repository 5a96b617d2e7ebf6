package status

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_LoadMissing(t *testing.T) {
	store := NewFileStore(t.TempDir())

	rec, err := store.Load("nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFileStore_SaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "status")
	store := NewFileStore(dir)
	start := time.Date(2025, 7, 30, 0, 35, 23, 0, time.Local)

	rec := &Record{
		ConfigName:    "prod",
		RunID:         "abc",
		Success:       true,
		Message:       "[prod] backup partially successful",
		BackupFile:    "/b/backup_prod_app_2025-07-30_00-35-23.sql.gz",
		SkippedTables: []string{"app.ghost"},
		StartTime:     At(start),
		EndTime:       At(start.Add(time.Minute)),
	}
	require.NoError(t, store.Save(rec))

	raw, err := os.ReadFile(filepath.Join(dir, "backup_status_prod.json"))
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "2025-07-30 00:35:23", doc["start_time"])
	assert.Nil(t, doc["mail_sent_time"])
	assert.Equal(t, []interface{}{}, doc["retry_errors"])

	loaded, err := store.Load("prod")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.True(t, loaded.Partial())
	assert.True(t, start.Equal(loaded.StartTime.Time))
	assert.True(t, loaded.MailSentTime.IsZero())
	assert.False(t, loaded.LastRun.IsZero())
}

func TestFileStore_Overwrite(t *testing.T) {
	store := NewFileStore(t.TempDir())
	require.NoError(t, store.Save(&Record{ConfigName: "a", Running: true}))
	require.NoError(t, store.Save(&Record{ConfigName: "a", Success: false, Message: "boom"}))

	rec, err := store.Load("a")
	require.NoError(t, err)
	assert.False(t, rec.Running)
	assert.Equal(t, "boom", rec.Message)
}

func TestFileStore_MarkMailSent(t *testing.T) {
	store := NewFileStore(t.TempDir())
	assert.Error(t, store.MarkMailSent("ghost", time.Now()))

	require.NoError(t, store.Save(&Record{ConfigName: "a", Success: true, Message: "ok"}))
	sent := time.Date(2025, 1, 2, 8, 30, 0, 0, time.Local)
	require.NoError(t, store.MarkMailSent("a", sent))

	rec, err := store.Load("a")
	require.NoError(t, err)
	assert.True(t, sent.Equal(rec.MailSentTime.Time))
	assert.Equal(t, "ok", rec.Message)
}

func TestFileStore_ConcurrentSaves(t *testing.T) {
	store := NewFileStore(t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Save(&Record{ConfigName: "shared", Message: time.Duration(i).String()}))
		}(i)
	}
	wg.Wait()

	rec, err := store.Load("shared")
	require.NoError(t, err)
	require.NotNil(t, rec)

	leftovers, err := filepath.Glob(filepath.Join(store.Dir, ".backup_status_*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFileStore_List(t *testing.T) {
	store := NewFileStore(t.TempDir())
	require.NoError(t, store.Save(&Record{ConfigName: "b"}))
	require.NoError(t, store.Save(&Record{ConfigName: "a"}))

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ConfigName)
	assert.Equal(t, "b", records[1].ConfigName)
}

func TestTime_UnmarshalRFC3339(t *testing.T) {
	var tm Time
	require.NoError(t, json.Unmarshal([]byte(`"2025-07-30T00:35:23Z"`), &tm))
	assert.Equal(t, 2025, tm.Year())
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &tm))
}

func TestSaveRequiresName(t *testing.T) {
	assert.Error(t, NewFileStore(t.TempDir()).Save(&Record{}))
}
