package ledger

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitex/exchange-core/internal/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCreateUserAndDuplicate(t *testing.T) {
	l := New()
	require.NoError(t, l.CreateUser("alice"))
	assert.True(t, l.HasUser("alice"))

	err := l.CreateUser("alice")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestUnknownUserNeverAutoInserted(t *testing.T) {
	l := New()
	assert.ErrorIs(t, l.Deposit("ghost", model.AssetUSDC, dec("1")), ErrUserNotFound)
	assert.ErrorIs(t, l.Reserve("ghost", model.AssetUSDC, dec("1")), ErrUserNotFound)
	assert.ErrorIs(t, l.ReleaseToAvailable("ghost", model.AssetUSDC, dec("1")), ErrUserNotFound)
	_, err := l.Balance("ghost", model.AssetUSDC)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.False(t, l.HasUser("ghost"))
}

func TestDepositAndBalance(t *testing.T) {
	l := New()
	require.NoError(t, l.CreateUser("alice"))
	require.NoError(t, l.Deposit("alice", model.AssetUSDC, dec("100")))

	amt, err := l.Balance("alice", model.AssetUSDC)
	require.NoError(t, err)
	assert.True(t, amt.Available.Equal(dec("100")))
	assert.True(t, amt.Locked.IsZero())

	// Untouched assets read as zero.
	sol, err := l.Balance("alice", model.AssetSOL)
	require.NoError(t, err)
	assert.True(t, sol.Total().IsZero())
}

func TestReserveMovesAvailableToLocked(t *testing.T) {
	l := New()
	require.NoError(t, l.CreateUser("alice"))
	require.NoError(t, l.Deposit("alice", model.AssetUSDC, dec("100")))

	require.NoError(t, l.Reserve("alice", model.AssetUSDC, dec("60")))

	amt, _ := l.Balance("alice", model.AssetUSDC)
	assert.True(t, amt.Available.Equal(dec("40")))
	assert.True(t, amt.Locked.Equal(dec("60")))
}

func TestReserveInsufficientLeavesStateUntouched(t *testing.T) {
	l := New()
	require.NoError(t, l.CreateUser("alice"))
	require.NoError(t, l.Deposit("alice", model.AssetUSDC, dec("50")))

	err := l.Reserve("alice", model.AssetUSDC, dec("50.00000001"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	amt, _ := l.Balance("alice", model.AssetUSDC)
	assert.True(t, amt.Available.Equal(dec("50")))
	assert.True(t, amt.Locked.IsZero())
}

func TestReleaseToAvailable(t *testing.T) {
	l := New()
	require.NoError(t, l.CreateUser("alice"))
	require.NoError(t, l.Deposit("alice", model.AssetUSDC, dec("100")))
	require.NoError(t, l.Reserve("alice", model.AssetUSDC, dec("100")))

	require.NoError(t, l.ReleaseToAvailable("alice", model.AssetUSDC, dec("30")))

	amt, _ := l.Balance("alice", model.AssetUSDC)
	assert.True(t, amt.Available.Equal(dec("30")))
	assert.True(t, amt.Locked.Equal(dec("70")))

	err := l.ReleaseToAvailable("alice", model.AssetUSDC, dec("70.1"))
	assert.ErrorIs(t, err, ErrInsufficientLocked)
}

func TestSettleTransferConservesValue(t *testing.T) {
	l := New()
	require.NoError(t, l.CreateUser("alice"))
	require.NoError(t, l.CreateUser("bob"))
	require.NoError(t, l.Deposit("alice", model.AssetUSDC, dec("100")))
	require.NoError(t, l.Reserve("alice", model.AssetUSDC, dec("100")))

	require.NoError(t, l.SettleTransfer("alice", "bob", model.AssetUSDC, dec("40")))

	a, _ := l.Balance("alice", model.AssetUSDC)
	b, _ := l.Balance("bob", model.AssetUSDC)
	assert.True(t, a.Locked.Equal(dec("60")))
	assert.True(t, a.Available.IsZero())
	assert.True(t, b.Available.Equal(dec("40")))
	assert.True(t, b.Locked.IsZero())
	assert.True(t, a.Total().Add(b.Total()).Equal(dec("100")))
}

func TestSettleTransferChecksBothPartiesFirst(t *testing.T) {
	l := New()
	require.NoError(t, l.CreateUser("alice"))
	require.NoError(t, l.Deposit("alice", model.AssetUSDC, dec("100")))
	require.NoError(t, l.Reserve("alice", model.AssetUSDC, dec("100")))

	err := l.SettleTransfer("alice", "ghost", model.AssetUSDC, dec("40"))
	assert.ErrorIs(t, err, ErrUserNotFound)

	// The payer's locked funds are intact.
	a, _ := l.Balance("alice", model.AssetUSDC)
	assert.True(t, a.Locked.Equal(dec("100")))

	require.NoError(t, l.CreateUser("bob"))
	err = l.SettleTransfer("alice", "bob", model.AssetUSDC, dec("101"))
	assert.ErrorIs(t, err, ErrInsufficientLocked)
}

func TestNegativeAmountsRejected(t *testing.T) {
	l := New()
	require.NoError(t, l.CreateUser("alice"))
	neg := dec("-1")
	assert.ErrorIs(t, l.Deposit("alice", model.AssetUSDC, neg), ErrNegativeAmount)
	assert.ErrorIs(t, l.Reserve("alice", model.AssetUSDC, neg), ErrNegativeAmount)
	assert.ErrorIs(t, l.ReleaseToAvailable("alice", model.AssetUSDC, neg), ErrNegativeAmount)
	assert.ErrorIs(t, l.SettleTransfer("alice", "alice", model.AssetUSDC, neg), ErrNegativeAmount)
}

func TestBalancesSnapshotIsDetached(t *testing.T) {
	l := New()
	require.NoError(t, l.CreateUser("alice"))
	require.NoError(t, l.Deposit("alice", model.AssetUSDC, dec("10")))
	require.NoError(t, l.Deposit("alice", model.AssetSOL, dec("5")))

	snap, err := l.Balances("alice")
	require.NoError(t, err)
	require.Len(t, snap, 2)

	require.NoError(t, l.Deposit("alice", model.AssetUSDC, dec("90")))
	assert.True(t, snap[model.AssetUSDC].Available.Equal(dec("10")))
}

func TestConcurrentReservesNeverOverdraw(t *testing.T) {
	l := New()
	require.NoError(t, l.CreateUser("alice"))
	require.NoError(t, l.Deposit("alice", model.AssetUSDC, dec("100")))

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Only 100 of these can succeed.
			_ = l.Reserve("alice", model.AssetUSDC, dec("1"))
		}()
	}
	wg.Wait()

	amt, _ := l.Balance("alice", model.AssetUSDC)
	assert.True(t, amt.Available.IsZero())
	assert.True(t, amt.Locked.Equal(dec("100")))
	assert.True(t, amt.Total().Equal(dec("100")))
}
