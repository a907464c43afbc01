package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	vault "github.com/ruchit-p/DynastyMobile-sub004"
)

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Manage sharing of vault items",
}

var shareCreateCmd = &cobra.Command{
	Use:   "create <item-id>",
	Short: "Grant access to a vault item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := unlock(cmd); err != nil {
			return err
		}

		recipients, _ := cmd.Flags().GetStringSlice("recipient")
		permNames, _ := cmd.Flags().GetStringSlice("permission")
		linkPassword, _ := cmd.Flags().GetString("link-password")
		ttl, _ := cmd.Flags().GetDuration("expires-in")

		perms := make([]vault.Permission, len(permNames))
		for i, p := range permNames {
			perms[i] = vault.Permission(p)
		}

		var expiresAt time.Time
		if ttl > 0 {
			expiresAt = time.Now().UTC().Add(ttl)
		}

		grant, err := vaultSvc.ShareVaultItem(cmd.Context(), args[0], recipients, perms, linkPassword, expiresAt)
		if err != nil {
			return err
		}
		fmt.Printf("Created grant %s\n", grant.ID)
		if !grant.ExpiresAt.IsZero() {
			fmt.Printf("Expires %s\n", grant.ExpiresAt.Format(time.RFC3339))
		}
		return nil
	},
}

var shareRevokeCmd = &cobra.Command{
	Use:   "revoke <grant-id>",
	Short: "Revoke a share grant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := unlock(cmd); err != nil {
			return err
		}
		if err := vaultSvc.RevokeShare(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Revoked")
		return nil
	},
}

var shareRedeemCmd = &cobra.Command{
	Use:   "redeem <grant-id> <link-password>",
	Short: "Download a shared item through a password link",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, meta, err := vaultSvc.RedeemShare(cmd.Context(), args[0], args[1], nil)
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			out = meta.Name
		}
		if err := os.WriteFile(out, data, 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		fmt.Printf("Wrote %s (%d bytes)\n", out, meta.Size)
		return nil
	},
}

func init() {
	shareCreateCmd.Flags().StringSlice("recipient", nil, "recipient user ID (repeatable)")
	shareCreateCmd.Flags().StringSlice("permission", []string{"read"}, "granted permission: read, write, delete, reshare (repeatable)")
	shareCreateCmd.Flags().String("link-password", "", "create a password link carrying the wrapped file key")
	shareCreateCmd.Flags().Duration("expires-in", 0, "grant lifetime (0 = no expiry)")
	shareRedeemCmd.Flags().StringP("output", "o", "", "output path (defaults to the stored name)")

	shareCmd.AddCommand(shareCreateCmd, shareRevokeCmd, shareRedeemCmd)
	rootCmd.AddCommand(shareCmd)
}
