package main

import (
	"fmt"
	"time"

	"ticket-ledger/internal/auth"
	"ticket-ledger/internal/clock"
	"ticket-ledger/internal/models"

	"github.com/spf13/cobra"
)

var (
	tokenAddress string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage caller tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a bearer token that authenticates an address",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := models.ParseAddress(tokenAddress)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL, clock.NewSystem())
		if err != nil {
			return err
		}

		token, expiresAt, err := tokens.Issue(addr, tokenTTL)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, token)
		fmt.Fprintf(out, "# caller %s, expires %s\n", addr.Hex(), expiresAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	tokenIssueCmd.Flags().StringVar(&tokenAddress, "address", "", "hex address the token authenticates")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (defaults to JWT_TTL)")
	_ = tokenIssueCmd.MarkFlagRequired("address")

	tokenCmd.AddCommand(tokenIssueCmd)
	rootCmd.AddCommand(tokenCmd)
}
