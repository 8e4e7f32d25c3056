package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/greencredits/report-server/internal/models"
	"github.com/greencredits/report-server/internal/notify"
	"github.com/greencredits/report-server/internal/store"
)

const (
	SignupBonus       int64 = 50
	VerificationBonus int64 = 20

	// MaxAward bounds a single award. Larger amounts are rejected as input
	// errors rather than written to the ledger.
	MaxAward int64 = 10_000

	DefaultTransactionWindow = 10
	MaxTransactionWindow     = 50

	LeaderboardSize = 10
)

// CreditLedger is the only writer of credit balances. Every balance change
// appends a transaction in the same database transaction that updates the
// cached account row.
type CreditLedger struct {
	store   store.Store
	catalog Catalog
	events  emitter
	timeout time.Duration
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewCreditLedger creates a new credit ledger
func NewCreditLedger(st store.Store, catalog Catalog, sink notify.Sink, persistTimeout time.Duration, logger *zap.SugaredLogger) *CreditLedger {
	return &CreditLedger{
		store:   st,
		catalog: catalog,
		events:  newEmitter(sink, logger),
		timeout: persistTimeout,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Catalog returns the reward catalog the ledger redeems against.
func (l *CreditLedger) Catalog() Catalog { return l.catalog }

// OpenAccount creates a citizen's account with the signup bonus.
func (l *CreditLedger) OpenAccount(ctx context.Context, accountID string) (*models.CreditAccount, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, invalid("account_id", "is required")
	}

	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	now := l.now()
	acct := &models.CreditAccount{
		AccountID:   accountID,
		TotalEarned: SignupBonus,
		Available:   SignupBonus,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertAccount(ctx, acct); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, &models.Transaction{
			AccountID:   accountID,
			Amount:      SignupBonus,
			Kind:        models.TxSignupBonus,
			Description: "Welcome bonus",
			CreatedAt:   now,
		})
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrAccountExists)
	}
	if err != nil {
		return nil, persistErr("open account", err)
	}

	CreditsAwarded.WithLabelValues(string(models.TxSignupBonus)).Add(float64(SignupBonus))
	l.logger.Infow("Credit account opened", "account", accountID, "bonus", SignupBonus)
	l.events.emit(notify.Event{
		Type:      notify.CreditsAwarded,
		AccountID: accountID,
		Amount:    SignupBonus,
		Balance:   acct.Available,
		Message:   "Welcome! You earned a signup bonus",
		At:        now,
	})
	return acct, nil
}

// Award credits an account in its own transaction.
func (l *CreditLedger) Award(ctx context.Context, accountID string, amount int64, kind models.TxKind, description, reference string) (*models.CreditAccount, error) {
	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	var acct *models.CreditAccount
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		acct, err = l.award(ctx, tx, awardRequest{
			accountID:   accountID,
			amount:      amount,
			kind:        kind,
			description: description,
			reference:   reference,
		})
		return err
	})
	if err != nil {
		return nil, persistErr("award", err)
	}
	l.awarded(acct, amount, kind, description)
	return acct, nil
}

type awardRequest struct {
	accountID   string
	amount      int64
	kind        models.TxKind
	description string
	reference   string
	// countsReport marks the first payment for a report.
	countsReport bool
}

// award runs inside the caller's transaction so a report transition and
// its payment commit together.
func (l *CreditLedger) award(ctx context.Context, tx store.Tx, req awardRequest) (*models.CreditAccount, error) {
	if req.amount <= 0 {
		return nil, invalid("amount", "must be positive")
	}
	if req.amount > MaxAward {
		return nil, invalid("amount", fmt.Sprintf("exceeds the %d credit ceiling", MaxAward))
	}

	acct, err := tx.LockAccount(ctx, req.accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("credit account %s: %w", req.accountID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	now := l.now()
	if err := tx.InsertTransaction(ctx, &models.Transaction{
		AccountID:   req.accountID,
		Amount:      req.amount,
		Kind:        req.kind,
		Description: req.description,
		Reference:   req.reference,
		CreatedAt:   now,
	}); err != nil {
		return nil, err
	}

	acct.TotalEarned += req.amount
	acct.Available += req.amount
	if req.countsReport {
		acct.ReportsVerified++
	}
	acct.UpdatedAt = now
	if err := tx.UpdateAccount(ctx, acct); err != nil {
		return nil, err
	}

	for _, b := range qualifyingBadges(acct.ReportsVerified, acct.TotalEarned, now) {
		if err := tx.InsertBadge(ctx, acct.AccountID, b); err != nil {
			return nil, err
		}
	}
	return acct, nil
}

// awarded records metrics and events once an award has committed.
func (l *CreditLedger) awarded(acct *models.CreditAccount, amount int64, kind models.TxKind, description string) {
	CreditsAwarded.WithLabelValues(string(kind)).Add(float64(amount))
	l.logger.Infow("Credits awarded",
		"account", acct.AccountID,
		"amount", amount,
		"kind", kind,
		"available", acct.Available,
	)
	l.events.emit(notify.Event{
		Type:      notify.CreditsAwarded,
		AccountID: acct.AccountID,
		Amount:    amount,
		Balance:   acct.Available,
		Message:   description,
		At:        acct.UpdatedAt,
	})
}

// Redeem debits the reward's cost. The balance check and the debit happen
// under the account row lock; an insufficient balance writes nothing.
func (l *CreditLedger) Redeem(ctx context.Context, accountID, rewardID string) (*models.RedemptionResult, error) {
	reward, ok := l.catalog.Reward(rewardID)
	if !ok {
		return nil, fmt.Errorf("reward %q: %w", rewardID, ErrUnknownReward)
	}

	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	var acct *models.CreditAccount
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		acct, err = tx.LockAccount(ctx, accountID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("credit account %s: %w", accountID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		if acct.Available < reward.Cost {
			return &InsufficientCreditsError{
				Available: acct.Available,
				Cost:      reward.Cost,
				Shortfall: reward.Cost - acct.Available,
			}
		}

		now := l.now()
		if err := tx.InsertTransaction(ctx, &models.Transaction{
			AccountID:   accountID,
			Amount:      -reward.Cost,
			Kind:        models.TxRedemption,
			Description: "Redeemed: " + reward.Name,
			Reference:   "reward:" + reward.ID,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		acct.Available -= reward.Cost
		acct.UpdatedAt = now
		return tx.UpdateAccount(ctx, acct)
	})
	if errors.Is(err, ErrInsufficientCredits) {
		Redemptions.WithLabelValues("insufficient").Inc()
		return nil, err
	}
	if err != nil {
		return nil, persistErr("redeem", err)
	}

	Redemptions.WithLabelValues("ok").Inc()
	CreditsRedeemed.Add(float64(reward.Cost))
	l.logger.Infow("Reward redeemed",
		"account", accountID,
		"reward", reward.ID,
		"cost", reward.Cost,
		"available", acct.Available,
	)
	l.events.emit(notify.Event{
		Type:      notify.CreditsRedeemed,
		AccountID: accountID,
		Amount:    reward.Cost,
		Balance:   acct.Available,
		Message:   "Redeemed " + reward.Name,
		At:        acct.UpdatedAt,
	})

	return &models.RedemptionResult{
		RewardID:   reward.ID,
		Cost:       reward.Cost,
		NewBalance: acct.Available,
		Message:    fmt.Sprintf("Successfully redeemed %s", reward.Name),
	}, nil
}

// Balance returns a snapshot of the account.
func (l *CreditLedger) Balance(ctx context.Context, accountID string) (*models.CreditAccount, error) {
	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	var acct *models.CreditAccount
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		acct, err = tx.Account(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, persistErr("balance", err)
	}
	return acct, nil
}

// Summary returns the citizen-facing ledger view with badges and the most
// recent transactions.
func (l *CreditLedger) Summary(ctx context.Context, accountID string, window int) (*models.LedgerSummary, error) {
	window = clampWindow(window)

	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	var (
		acct   *models.CreditAccount
		badges []models.Badge
		txs    []models.Transaction
	)
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		if acct, err = tx.Account(ctx, accountID); err != nil {
			return err
		}
		if badges, err = tx.Badges(ctx, accountID); err != nil {
			return err
		}
		txs, err = tx.RecentTransactions(ctx, accountID, window)
		return err
	})
	if err != nil {
		return nil, persistErr("ledger summary", err)
	}

	return &models.LedgerSummary{
		Total:           acct.TotalEarned,
		Available:       acct.Available,
		ReportsVerified: acct.ReportsVerified,
		Badges:          badges,
		NextBadges:      nextBadges(badges, acct.ReportsVerified, acct.TotalEarned),
		Transactions:    transactionViews(txs),
	}, nil
}

// Leaderboard ranks the top accounts by total credits earned.
func (l *CreditLedger) Leaderboard(ctx context.Context) ([]models.LeaderboardEntry, error) {
	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	var entries []models.LeaderboardEntry
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		entries, err = tx.TopAccounts(ctx, LeaderboardSize)
		return err
	})
	if err != nil {
		return nil, persistErr("leaderboard", err)
	}
	return entries, nil
}

// Transactions returns up to window entries, newest first.
func (l *CreditLedger) Transactions(ctx context.Context, accountID string, window int) ([]models.TransactionView, error) {
	window = clampWindow(window)

	ctx, cancel := withTimeout(ctx, l.timeout)
	defer cancel()

	var txs []models.Transaction
	err := l.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.Account(ctx, accountID); err != nil {
			return err
		}
		var err error
		txs, err = tx.RecentTransactions(ctx, accountID, window)
		return err
	})
	if err != nil {
		return nil, persistErr("transactions", err)
	}
	return transactionViews(txs), nil
}

func transactionViews(txs []models.Transaction) []models.TransactionView {
	views := make([]models.TransactionView, 0, len(txs))
	for _, t := range txs {
		amount := t.Amount
		if amount < 0 {
			amount = -amount
		}
		views = append(views, models.TransactionView{
			Type:        t.Type(),
			Amount:      amount,
			Description: t.Description,
			Date:        t.CreatedAt,
		})
	}
	return views
}

func clampWindow(n int) int {
	if n <= 0 {
		return DefaultTransactionWindow
	}
	if n > MaxTransactionWindow {
		return MaxTransactionWindow
	}
	return n
}

// Mismatch is an account whose cached balance disagrees with its log.
type Mismatch struct {
	AccountID    string `json:"account_id"`
	Available    int64  `json:"available"`
	LedgerNet    int64  `json:"ledger_net"`
	TotalEarned  int64  `json:"total_earned"`
	LedgerEarned int64  `json:"ledger_earned"`
}

// Reconcile recomputes every account from its transactions.
func (l *CreditLedger) Reconcile(ctx context.Context) (checked int, mismatches []Mismatch, err error) {
	err = l.store.InTx(ctx, func(tx store.Tx) error {
		ids, err := tx.AccountIDs(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			acct, err := tx.Account(ctx, id)
			if err != nil {
				return err
			}
			sums, err := tx.LedgerSums(ctx, id)
			if err != nil {
				return err
			}
			checked++
			if acct.Available != sums.Net || acct.TotalEarned != sums.Earned {
				mismatches = append(mismatches, Mismatch{
					AccountID:    id,
					Available:    acct.Available,
					LedgerNet:    sums.Net,
					TotalEarned:  acct.TotalEarned,
					LedgerEarned: sums.Earned,
				})
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, persistErr("reconcile", err)
	}
	return checked, mismatches, nil
}
