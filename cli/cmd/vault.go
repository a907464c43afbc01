package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage encrypted vault items",
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create a new vault for the user",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := requireSecret()
		if err != nil {
			return err
		}
		if err := vaultSvc.Setup(cmd.Context(), s); err != nil {
			return err
		}
		fmt.Printf("Vault created for %s\n", userID)
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Encrypt and store a file in the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := unlock(cmd); err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		mimeType, _ := cmd.Flags().GetString("mime-type")
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = filepath.Base(args[0])
		}

		item, err := vaultSvc.UploadSecureFile(cmd.Context(), name, mimeType, data, progressBar(cmd))
		if err != nil {
			return err
		}
		fmt.Printf("\nStored %s (%d bytes) as item %s\n", item.Name, item.Size, item.ID)
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <item-id>",
	Short: "Fetch and decrypt a vault item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := unlock(cmd); err != nil {
			return err
		}

		data, meta, err := vaultSvc.DownloadFile(cmd.Context(), args[0], progressBar(cmd))
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
		fmt.Printf("\nWrote %s (%d bytes)\n", out, meta.Size)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List vault items",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := unlock(cmd); err != nil {
			return err
		}

		contains, _ := cmd.Flags().GetString("name")
		includeDeleted, _ := cmd.Flags().GetBool("deleted")
		items, err := vaultSvc.SearchVault(cmd.Context(), itemQuery(contains, includeDeleted))
		if err != nil {
			return err
		}

		if len(items) == 0 {
			fmt.Println("No items found")
			return nil
		}
		for _, item := range items {
			marker := ""
			if item.Deleted {
				marker = " (deleted)"
			}
			fmt.Printf("%s  %-30s %10d bytes  %s%s\n",
				item.ID, item.Name, item.Size, item.CreatedAt.Format(time.RFC3339), marker)
		}
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <item-id> <new-name>",
	Short: "Rename a vault item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := unlock(cmd); err != nil {
			return err
		}
		if err := vaultSvc.RenameItem(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("Renamed")
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <item-id>",
	Short: "Delete a vault item (recoverable until purged)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := unlock(cmd); err != nil {
			return err
		}
		if err := vaultSvc.DeleteItem(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Deleted")
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Permanently remove deleted items older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := unlock(cmd); err != nil {
			return err
		}
		days, _ := cmd.Flags().GetInt("older-than-days")
		n, err := vaultSvc.PurgeTombstones(cmd.Context(), time.Duration(days)*24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d items\n", n)
		return nil
	},
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show storage quota usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := unlock(cmd); err != nil {
			return err
		}
		used, limit, err := vaultSvc.GetStorageQuota(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Used %d of %d bytes (%.1f%%)\n", used, limit, float64(used)/float64(limit)*100)
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("mime-type", "application/octet-stream", "MIME type of the file")
	uploadCmd.Flags().String("name", "", "display name (defaults to the file name)")
	uploadCmd.Flags().Bool("progress", false, "show progress")
	downloadCmd.Flags().StringP("output", "o", "", "output path (defaults to the stored name)")
	downloadCmd.Flags().Bool("progress", false, "show progress")
	listCmd.Flags().String("name", "", "only items whose name contains this text")
	listCmd.Flags().Bool("deleted", false, "include deleted items")
	purgeCmd.Flags().Int("older-than-days", 30, "only purge items deleted at least this many days ago")

	vaultCmd.AddCommand(setupCmd, uploadCmd, downloadCmd, listCmd, renameCmd, deleteCmd, purgeCmd, quotaCmd)
	rootCmd.AddCommand(vaultCmd)
}
