package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greencredits/report-server/internal/models"
	"github.com/greencredits/report-server/internal/store"
)

func TestOpenAccountGrantsSignupBonus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	acct, err := h.ledger.OpenAccount(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, SignupBonus, acct.Available)
	assert.Equal(t, SignupBonus, acct.TotalEarned)

	_, err = h.ledger.OpenAccount(ctx, "c1")
	assert.ErrorIs(t, err, ErrAccountExists)

	_, err = h.ledger.OpenAccount(ctx, "  ")
	assert.ErrorIs(t, err, ErrValidation)

	txs, err := h.ledger.Transactions(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "earn", txs[0].Type)
	assert.Equal(t, SignupBonus, txs[0].Amount)
}

func TestLeaderboard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r := h.submit(t, basicSubmission("c1"))
	_, err := h.reports.Verify(ctx, r.Seq, "o1", "")
	require.NoError(t, err)
	h.citizen(t, "c2")

	board, err := h.ledger.Leaderboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.LeaderboardEntry{
		{Rank: 1, AccountID: "c1", TotalEarned: SignupBonus + VerificationBonus, ReportsVerified: 1, Badges: 1},
		{Rank: 2, AccountID: "c2", TotalEarned: SignupBonus},
	}, board)
}

func TestLeaderboardKeepsTopTen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < LeaderboardSize+2; i++ {
		id := fmt.Sprintf("c%02d", i)
		h.citizen(t, id)
		_, err := h.ledger.Award(ctx, id, int64(i+1), models.TxReportResolved, "bonus", "")
		require.NoError(t, err)
	}

	board, err := h.ledger.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, board, LeaderboardSize)
	assert.Equal(t, "c11", board[0].AccountID)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, LeaderboardSize, board[LeaderboardSize-1].Rank)
	for i := 1; i < len(board); i++ {
		assert.GreaterOrEqual(t, board[i-1].TotalEarned, board[i].TotalEarned)
	}
}

func TestAwardValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.citizen(t, "c1")

	_, err := h.ledger.Award(ctx, "c1", 0, models.TxReportVerified, "zero", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.ledger.Award(ctx, "c1", MaxAward+1, models.TxReportVerified, "too much", "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "amount", verr.Field)

	_, err = h.ledger.Award(ctx, "nobody", 10, models.TxReportVerified, "missing", "")
	assert.ErrorIs(t, err, ErrNotFound)

	acct, err := h.ledger.Award(ctx, "c1", MaxAward, models.TxReportVerified, "ceiling", "")
	require.NoError(t, err)
	assert.Equal(t, SignupBonus+MaxAward, acct.Available)
}

func TestRedeem(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.citizen(t, "c1")

	res, err := h.ledger.Redeem(ctx, "c1", "amazon50")
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Cost)
	assert.Equal(t, SignupBonus-10, res.NewBalance)

	acct, err := h.ledger.Balance(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, SignupBonus-10, acct.Available)
	assert.Equal(t, SignupBonus, acct.TotalEarned, "spending never reduces total earned")

	txs, err := h.ledger.Transactions(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "spend", txs[0].Type)
	assert.Equal(t, int64(10), txs[0].Amount)
}

func TestRedeemInsufficientCreditsWritesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.citizen(t, "c1")

	_, err := h.ledger.Redeem(ctx, "c1", "tshirt")
	var ierr *InsufficientCreditsError
	require.ErrorAs(t, err, &ierr)
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Equal(t, int64(1500), ierr.Cost)
	assert.Equal(t, SignupBonus, ierr.Available)
	assert.Equal(t, 1500-SignupBonus, ierr.Shortfall)

	txs, err := h.ledger.Transactions(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestRedeemUnknownRewardAndAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.citizen(t, "c1")

	_, err := h.ledger.Redeem(ctx, "c1", "yacht")
	assert.ErrorIs(t, err, ErrUnknownReward)

	_, err = h.ledger.Redeem(ctx, "ghost", "amazon50")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedeemZeroCostReward(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.citizen(t, "c1")

	res, err := h.ledger.Redeem(ctx, "c1", "cleaning")
	require.NoError(t, err)
	assert.Equal(t, SignupBonus, res.NewBalance)

	txs, err := h.ledger.Transactions(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "spend", txs[0].Type)
}

func TestConcurrentRedeemHasExactlyOneWinner(t *testing.T) {
	h := newHarness(t, models.Reward{ID: "all-in", Name: "All In", Cost: SignupBonus})
	ctx := context.Background()
	h.citizen(t, "c1")

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		refused   int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ledger.Redeem(ctx, "c1", "all-in")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInsufficientCredits):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, refused)

	acct, err := h.ledger.Balance(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acct.Available)

	_, mismatches, err := h.ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestConcurrentAwardsAndRedemptionsStayConsistent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.citizen(t, "c1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.ledger.Award(ctx, "c1", 5, models.TxReportVerified, "award", "")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := h.ledger.Redeem(ctx, "c1", "amazon50")
			if err != nil {
				assert.ErrorIs(t, err, ErrInsufficientCredits)
			}
		}()
	}
	wg.Wait()

	checked, mismatches, err := h.ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, checked)
	assert.Empty(t, mismatches)

	acct, err := h.ledger.Balance(ctx, "c1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, acct.Available, int64(0))
	assert.Equal(t, SignupBonus+50, acct.TotalEarned)
}

func TestSummaryBadgesAndWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.citizen(t, "c1")

	sum, err := h.ledger.Summary(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Empty(t, sum.Badges)
	require.Len(t, sum.NextBadges, len(badgeTable))
	assert.Equal(t, "first_report", sum.NextBadges[0].Key)
	assert.InDelta(t, 10.0, sum.NextBadges[4].Progress, 0.001, "50 of 500 credits")

	// Push total credits past the credit_collector threshold.
	_, err = h.ledger.Award(ctx, "c1", 460, models.TxReportResolved, "big cleanup", "")
	require.NoError(t, err)
	_, err = h.ledger.Redeem(ctx, "c1", "tree")
	require.NoError(t, err)

	sum, err = h.ledger.Summary(ctx, "c1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(510), sum.Total)
	assert.Equal(t, int64(10), sum.Available)
	require.Len(t, sum.Badges, 1)
	assert.Equal(t, "credit_collector", sum.Badges[0].Key)
	assert.Len(t, sum.Transactions, 2)
	assert.Equal(t, "spend", sum.Transactions[0].Type)

	for _, nb := range sum.NextBadges {
		assert.NotEqual(t, "credit_collector", nb.Key)
	}

	_, err = h.ledger.Summary(ctx, "ghost", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgesAreNeverRevoked(t *testing.T) {
	earned := qualifyingBadges(0, 600, testNow)
	require.Len(t, earned, 1)

	// Spending lowers available, never the badge set.
	next := nextBadges(earned, 0, 600)
	for _, b := range next {
		assert.NotEqual(t, "credit_collector", b.Key)
	}
}

func TestClampWindow(t *testing.T) {
	assert.Equal(t, DefaultTransactionWindow, clampWindow(0))
	assert.Equal(t, DefaultTransactionWindow, clampWindow(-3))
	assert.Equal(t, 7, clampWindow(7))
	assert.Equal(t, MaxTransactionWindow, clampWindow(500))
}

func TestReconcileDetectsTampering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.citizen(t, "c1")
	h.citizen(t, "c2")

	require.NoError(t, h.store.InTx(ctx, func(tx store.Tx) error {
		a, err := tx.LockAccount(ctx, "c2")
		if err != nil {
			return err
		}
		a.Available += 1000
		return tx.UpdateAccount(ctx, a)
	}))

	checked, mismatches, err := h.ledger.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, checked)
	require.Len(t, mismatches, 1)
	assert.Equal(t, "c2", mismatches[0].AccountID)
	assert.Equal(t, SignupBonus, mismatches[0].LedgerNet)
}
