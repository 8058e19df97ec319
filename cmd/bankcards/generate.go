package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alovak/bankcards/internal/cardcrypto"
	"github.com/alovak/bankcards/internal/cardgen"
	"github.com/alovak/bankcards/internal/expiry"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Print Luhn-valid card numbers for a BIN",
	Long: `Generate card numbers the way the service issues them. Numbers are
masked unless --verbose is given. Nothing is stored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bin, _ := cmd.Flags().GetString("bin")
		count, _ := cmd.Flags().GetInt("count")
		years, _ := cmd.Flags().GetInt("years")
		verbose, _ := cmd.Flags().GetBool("verbose")

		if err := cardgen.ValidateBIN(bin); err != nil {
			return err
		}
		if count <= 0 {
			return fmt.Errorf("--count must be positive")
		}
		policy, err := expiry.NewPolicy(years, "")
		if err != nil {
			return err
		}
		face := expiry.CardFace(policy.Date(time.Now()))

		out := cmd.OutOrStdout()
		for i := 0; i < count; i++ {
			pan, err := cardgen.Generate(bin)
			if err != nil {
				return err
			}
			printed := cardcrypto.Mask(pan)
			if verbose {
				printed = pan + "   (WARNING: printing full PAN)"
			}
			fmt.Fprintf(out, "PAN: %s  EXP: %s\n", printed, face)
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().String("bin", "444455", "6-digit BIN prefix")
	generateCmd.Flags().Int("count", 1, "how many numbers to print")
	generateCmd.Flags().Int("years", expiry.DefaultYears, "validity years")
	generateCmd.Flags().Bool("verbose", false, "print full PAN (otherwise masked)")
	rootCmd.AddCommand(generateCmd)
}
