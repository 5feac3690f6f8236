package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sells-group/hive-sim/internal/credits"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Manage requester credit balances",
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant <user> <amount>",
	Short: "Add credits to a user's balance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("amount must be an integer: %w", err)
		}

		ctx := cmd.Context()
		s, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Migrate(ctx); err != nil {
			return err
		}

		ledger := credits.NewLedger(s)
		if err := ledger.Grant(ctx, args[0], amount); err != nil {
			return err
		}

		balance, err := ledger.Balance(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d credits\n", args[0], balance)
		return nil
	},
}

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance <user>",
	Short: "Show a user's credit balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		balance, err := credits.NewLedger(s).Balance(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d credits\n", args[0], balance)
		return nil
	},
}

func init() {
	creditsCmd.AddCommand(creditsGrantCmd)
	creditsCmd.AddCommand(creditsBalanceCmd)
	rootCmd.AddCommand(creditsCmd)
}
