package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ftwallet/internal/engine"
	"ftwallet/internal/failover"
	"ftwallet/internal/models"
	"ftwallet/internal/replication"
)

// End-to-end: real engines on both sides, real TCP replication, real
// failover manager. Walks the service through a deposit, idempotent retry,
// an overdraw, a backup outage and the return to normal mode.
func TestEndToEnd_ReplicatedWallet(t *testing.T) {
	backupEng, err := engine.New(t.TempDir(), "backup", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, backupEng.Recover())
	defer backupEng.Close()

	srv := replication.NewServer(backupEng, zap.NewNop())
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	go srv.Serve()
	backupAddr := srv.Addr()

	client := replication.NewClient(backupAddr, 500*time.Millisecond, 200*time.Millisecond, zap.NewNop())

	fm := failover.NewManager(client, 20*time.Millisecond, zap.NewNop())
	fm.Start()
	defer fm.Stop()

	primary, err := engine.New(t.TempDir(), "primary", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, primary.Recover())
	defer primary.Close()

	o := New(primary, client, fm, zap.NewNop())
	ctx := context.Background()

	// happy path deposit
	rec, err := o.Deposit(ctx, models.TransactionRequest{AccountID: "user123", Amount: 100.0, TransactionID: "t1"})
	require.NoError(t, err)
	assert.True(t, rec.Success)
	assert.Equal(t, 100.0, rec.NewBalance)
	assert.Equal(t, 100.0, o.GetBalance("user123"))
	assert.Equal(t, 100.0, backupEng.GetBalance("user123"))

	// idempotent retry returns the identical record, no second credit
	retry, err := o.Deposit(ctx, models.TransactionRequest{AccountID: "user123", Amount: 100.0, TransactionID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, rec, retry)
	assert.Equal(t, 100.0, o.GetBalance("user123"))

	// insufficient funds commits the failure on both replicas
	rec, err = o.Withdraw(ctx, models.TransactionRequest{AccountID: "user123", Amount: 500.0, TransactionID: "t2"})
	require.NoError(t, err)
	assert.False(t, rec.Success)
	assert.Equal(t, "insufficient balance", rec.Message)
	assert.Equal(t, 100.0, o.GetBalance("user123"))
	assert.False(t, o.DivergenceAlarm())

	// backup outage: primary keeps serving, mode flips to failover
	require.NoError(t, srv.Close())
	rec, err = o.Deposit(ctx, models.TransactionRequest{AccountID: "u", Amount: 10.0, TransactionID: "t5"})
	require.NoError(t, err)
	assert.True(t, rec.Success)
	assert.Equal(t, 10.0, rec.NewBalance)
	assert.Equal(t, "failover", o.Mode())
	assert.Equal(t, 0.0, backupEng.GetBalance("u"), "backup ledger lacks t5")

	// backup comes back on the same address; the probe loop restores normal
	srv2 := replication.NewServer(backupEng, zap.NewNop())
	require.NoError(t, srv2.Listen(backupAddr))
	go srv2.Serve()
	defer srv2.Close()

	assert.Eventually(t, func() bool { return o.Mode() == "normal" }, 2*time.Second, 10*time.Millisecond)

	// t6 replicates normally; balances stay diverged by the missed t5 and
	// the result comparison surfaces that through the alarm
	rec, err = o.Deposit(ctx, models.TransactionRequest{AccountID: "u", Amount: 5.0, TransactionID: "t6"})
	require.NoError(t, err)
	assert.True(t, rec.Success)
	assert.Equal(t, 15.0, rec.NewBalance)
	assert.Equal(t, 15.0, o.GetBalance("u"))
	assert.Equal(t, 5.0, backupEng.GetBalance("u"))
	assert.True(t, o.DivergenceAlarm())
}
