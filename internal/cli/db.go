package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/greencredits/report-server/internal/middleware"
	"github.com/greencredits/report-server/internal/services"
	"github.com/greencredits/report-server/internal/zones"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringP("role", "r", middleware.RoleCitizen, "Role claim (citizen, worker, officer, admin)")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	tokenCmd.Flags().StringSlice("zone", nil, "Zones an officer is limited to (repeatable)")
}

// ─── migrate ────────────────────────────────────────────────────────────────

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()
		fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (%s)\n", cfg.DBDriver)
		return nil
	},
}

// ─── reconcile ──────────────────────────────────────────────────────────────

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Recompute every credit balance from the ledger",
	Long: `Rebuilds the ledger Merkle tree and checks that every account's
available and total balances equal the sums of its transactions.
Exits non-zero when a mismatch is found.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, st, closeStore, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStore()

	logger := newLogger()
	defer logger.Sync()

	catalog, err := services.NewStaticCatalog(services.DefaultRewards())
	if err != nil {
		return err
	}
	ledger := services.NewCreditLedger(st, catalog, nil, cfg.PersistTimeout, logger)
	worker := services.NewIntegrityWorker(services.NewMerkleService(logger), ledger, st, logger)

	report, err := worker.RunOnce(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Ledger root:  %s\n", report.Root)
	fmt.Fprintf(out, "Transactions: %d\n", report.Leaves)
	fmt.Fprintf(out, "Accounts:     %d\n", report.Accounts)
	for _, m := range report.Mismatches {
		fmt.Fprintf(out, "MISMATCH %s available=%d ledger=%d total=%d earned=%d\n",
			m.AccountID, m.Available, m.LedgerNet, m.TotalEarned, m.LedgerEarned)
	}
	if len(report.Mismatches) > 0 {
		return fmt.Errorf("%d account(s) disagree with the ledger", len(report.Mismatches))
	}
	fmt.Fprintln(out, "All balances match the ledger.")
	return nil
}

// ─── token ──────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token SUBJECT",
	Short: "Sign a bearer token for local testing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		switch role {
		case middleware.RoleCitizen, middleware.RoleWorker, middleware.RoleOfficer, middleware.RoleAdmin:
		default:
			return fmt.Errorf("unknown role %q", role)
		}

		zoneIDs, _ := cmd.Flags().GetStringSlice("zone")
		if len(zoneIDs) > 0 && role != middleware.RoleOfficer {
			return fmt.Errorf("--zone only applies to officers")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if len(zoneIDs) > 0 {
			router, err := zones.Open(cfg.ZonesFile)
			if err != nil {
				return err
			}
			for _, z := range zoneIDs {
				if !router.Known(z) {
					return fmt.Errorf("unknown zone %q", z)
				}
			}
		}
		tok, err := middleware.IssueToken(cfg.JWTSecret, args[0], role, ttl, zoneIDs...)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}
