package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftwallet/internal/models"
)

func testRecord(id, status string) *models.TransactionRecord {
	return &models.TransactionRecord{
		TransactionID: id,
		AccountID:     "acct-1",
		Amount:        25.5,
		Kind:          models.KindDeposit,
		Status:        status,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestLedger_AppendReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")

	l, err := OpenLedger(path)
	require.NoError(t, err)

	require.NoError(t, l.Append(testRecord("t1", models.StatusPending)))
	require.NoError(t, l.Append(testRecord("t1", models.StatusCommitted)))
	require.NoError(t, l.Append(testRecord("t2", models.StatusPending)))
	require.NoError(t, l.Close())

	var got []*models.TransactionRecord
	err = Replay(path, func(rec *models.TransactionRecord) error {
		got = append(got, rec)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "t1", got[0].TransactionID)
	assert.Equal(t, models.StatusPending, got[0].Status)
	assert.Equal(t, models.StatusCommitted, got[1].Status)
	assert.Equal(t, "t2", got[2].TransactionID)
	assert.Equal(t, 25.5, got[0].Amount)
}

func TestLedger_ReplayMissingFile(t *testing.T) {
	err := Replay(filepath.Join(t.TempDir(), "nope.log"), func(*models.TransactionRecord) error {
		t.Fatal("callback on missing file")
		return nil
	})
	require.NoError(t, err)
}

// A crash during Append leaves a short final frame; replay keeps everything
// before it and ignores the tail.
func TestLedger_TornTailIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")

	l, err := OpenLedger(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(testRecord("t1", models.StatusCommitted)))
	require.NoError(t, l.Append(testRecord("t2", models.StatusPending)))
	require.NoError(t, l.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-5))

	var ids []string
	err = Replay(path, func(rec *models.TransactionRecord) error {
		ids = append(ids, rec.TransactionID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, ids)
}

// Corruption before the final frame must refuse, not skip.
func TestLedger_ChecksumMismatchIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")

	l, err := OpenLedger(path)
	require.NoError(t, err)
	require.NoError(t, l.Append(testRecord("t1", models.StatusCommitted)))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	err = Replay(path, func(*models.TransactionRecord) error { return nil })
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestSnapshot_WriteLoad(t *testing.T) {
	s := NewSnapshot(filepath.Join(t.TempDir(), "balances.json"))

	// missing file is an empty table
	balances, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, balances)

	want := map[string]float64{"user123": 100, "user456": 3.5}
	require.NoError(t, s.Write(want))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// overwrite is atomic and complete
	want["user123"] = 0
	require.NoError(t, s.Write(want))
	got, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
