package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	vault "github.com/ruchit-p/DynastyMobile-sub004"
)

// unlock opens the vault with the configured secret before a content command.
func unlock(cmd *cobra.Command) error {
	if vaultSvc.IsUnlocked() {
		return nil
	}
	s, err := requireSecret()
	if err != nil {
		return err
	}
	return vaultSvc.Unlock(cmd.Context(), s)
}

func itemQuery(nameContains string, includeDeleted bool) vault.ItemQuery {
	return vault.ItemQuery{
		NameContains:   nameContains,
		IncludeDeleted: includeDeleted,
	}
}

// progressBar returns a progress callback when --progress was set, nil
// otherwise.
func progressBar(cmd *cobra.Command) vault.ProgressFunc {
	if show, _ := cmd.Flags().GetBool("progress"); !show {
		return nil
	}
	return func(processed, total int64) {
		if total <= 0 {
			return
		}
		fmt.Printf("\r%3d%% (%d/%d bytes)", processed*100/total, processed, total)
	}
}
