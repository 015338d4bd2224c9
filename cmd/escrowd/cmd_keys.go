package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"escrow-backend/core/escrow"
	auth "escrow-backend/storage/auth"
)

var keysFlags struct {
	wallet string
	label  string
	key    string
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
}

var keysIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue an API key bound to a wallet identity",
	RunE:  runKeysIssue,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke an issued API key",
	RunE:  runKeysRevoke,
}

func init() {
	f := keysIssueCmd.Flags()
	f.StringVar(&keysFlags.wallet, "wallet", "", "Wallet identity the key acts for (required)")
	f.StringVar(&keysFlags.label, "label", "", "Free-form label")
	_ = keysIssueCmd.MarkFlagRequired("wallet")

	keysRevokeCmd.Flags().StringVar(&keysFlags.key, "key", "", "API key to revoke (required)")
	_ = keysRevokeCmd.MarkFlagRequired("key")

	keysCmd.AddCommand(keysIssueCmd, keysRevokeCmd)
}

func runKeysIssue(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.issuer == nil {
		return fmt.Errorf("keys issue requires store_driver=postgres; add memory keys under api_keys in the config")
	}
	key, err := a.issuer.Issue(ctx, escrow.Identity(keysFlags.wallet), keysFlags.label, "cli")
	if err != nil {
		return fmt.Errorf("issue key: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wallet: %s\n", key.Wallet)
	fmt.Fprintf(out, "Key:    %s\n", key.Key)
	return nil
}

func runKeysRevoke(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return revokeKey(cmd, a.revoker, keysFlags.key)
}

func revokeKey(cmd *cobra.Command, revoker auth.KeyRevoker, key string) error {
	if revoker == nil {
		return fmt.Errorf("keys revoke requires store_driver=postgres; remove memory keys from api_keys in the config")
	}
	if err := revoker.Revoke(cmd.Context(), key); err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			return fmt.Errorf("revoke key: no such key")
		}
		return fmt.Errorf("revoke key: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Key revoked")
	return nil
}
