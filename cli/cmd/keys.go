package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the vault's key material",
}

var rotateSecretCmd = &cobra.Command{
	Use:   "rotate-secret <new-secret>",
	Short: "Change the vault secret without re-encrypting stored files",
	Long: `Re-wraps the master key under a key derived from the new secret.
Stored items are untouched; only the key envelope changes. Use rekey instead
if the master key itself may be compromised.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := unlock(cmd); err != nil {
			return err
		}
		if err := vaultSvc.RotateSecret(cmd.Context(), []byte(args[0])); err != nil {
			return err
		}
		fmt.Println("Secret rotated")
		return nil
	},
}

var rekeyCmd = &cobra.Command{
	Use:   "rekey",
	Short: "Generate a fresh master key and re-encrypt every stored item",
	Long: `Compromise response: generates a new master key and re-encrypts all
live items under it before the new key envelope is committed. This reads and
rewrites every stored object and can take a while for large vaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := requireSecret()
		if err != nil {
			return err
		}
		if err := vaultSvc.RekeyMasterKey(cmd.Context(), s); err != nil {
			return err
		}
		fmt.Println("Master key rotated; all items re-encrypted")
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Zeroize in-memory key material",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultSvc.Lock()
		fmt.Println("Vault locked")
		return nil
	},
}

func init() {
	keysCmd.AddCommand(rotateSecretCmd, rekeyCmd, lockCmd)
	rootCmd.AddCommand(keysCmd)
}
