// Command walletgen creates and inspects the Stellar keys loaded into the
// keystore wallet through WALLET_SEEDS.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "walletgen",
		Short:        "Create and inspect marketplace wallet keys",
		SilenceUsage: true,
	}
	root.AddCommand(newCmd(), addressCmd(), decodeCmd())
	return root
}

func newCmd() *cobra.Command {
	var count int
	var envLine bool

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Generate random accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("count must be at least 1")
			}
			seeds := make([]string, 0, count)
			for i := 0; i < count; i++ {
				kp, err := keypair.Random()
				if err != nil {
					return fmt.Errorf("failed to generate keypair: %w", err)
				}
				seeds = append(seeds, kp.Seed())
				if !envLine {
					fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nseed:    %s\n", kp.Address(), kp.Seed())
				}
			}
			if envLine {
				fmt.Fprintf(cmd.OutOrStdout(), "WALLET_SEEDS=%s\n", strings.Join(seeds, ","))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of accounts")
	cmd.Flags().BoolVar(&envLine, "env", false, "print a WALLET_SEEDS line for .env")
	return cmd
}

func addressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address <seed>",
		Short: "Print the account address of a secret seed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := keypair.ParseFull(args[0])
			if err != nil {
				return fmt.Errorf("failed to parse seed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), kp.Address())
			return nil
		},
	}
}

// decodeCmd prints the raw bytes behind an account (G...) or contract (C...) strkey
func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <strkey>",
		Short: "Print an account or contract strkey as hex",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := args[0]

			versionByte := strkey.VersionByteAccountID
			if strings.HasPrefix(raw, "C") {
				versionByte = strkey.VersionByteContract
			}

			decoded, err := strkey.Decode(versionByte, raw)
			if err != nil {
				return fmt.Errorf("failed to decode strkey: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(decoded))
			return nil
		},
	}
}
