package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alovak/bankcards/bank"
	"github.com/alovak/bankcards/internal/audit"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := bank.LoadConfig()
		if err != nil {
			return err
		}
		if cfg.RepoBackend != "pg" {
			return fmt.Errorf("migrate needs REPO_BACKEND=pg")
		}
		_, db, err := bank.OpenRepository(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := bank.Migrate(cmd.Context(), db); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
		return nil
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Mark cards past their expiry date as EXPIRED",
	Long:  `Run the expiry sweep once. Meant to be scheduled daily.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openServices(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		n, err := svc.Cards.ExpireDue(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d card(s)\n", n)
		return nil
	},
}

var revealCmd = &cobra.Command{
	Use:   "reveal <card id>",
	Short: "Decrypt and print a stored card number",
	Long:  `Decrypt a card number for back-office use. The access is audited.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := openServices(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		pan, err := svc.Cards.RevealNumber(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), pan)
		return nil
	},
}

// openServices wires the services for one-shot commands.
func openServices(cmd *cobra.Command) (*bank.Services, func(), error) {
	cfg, err := bank.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	repo, db, err := bank.OpenRepository(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	crypto, closeCrypto, err := bank.NewCardCrypto(cfg)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, nil, err
	}
	svc, err := bank.NewServices(repo, crypto, cfg, bank.Deps{
		Auditor: audit.NewLogAuditor(logger),
		Logger:  logger,
	})
	closeFn := func() {
		closeCrypto()
		if db != nil {
			db.Close()
		}
	}
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return svc, closeFn, nil
}

func init() {
	rootCmd.AddCommand(migrateCmd, expireCmd, revealCmd)
}
