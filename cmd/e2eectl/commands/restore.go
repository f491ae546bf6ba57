package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func restoreCmd() *cobra.Command {
	var recoveryKey string

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Reinstall identity keys from a backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			if recoveryKey != "" {
				if err := messenger.RestoreFromRecoveryKey(cmd.Context(), recoveryKey); err != nil {
					return err
				}
				fmt.Println("Identity restored from recovery key.")
				return nil
			}

			password, err := readPassword("Backup password: ")
			if err != nil {
				return err
			}
			if err := messenger.RestoreFromPassword(cmd.Context(), password); err != nil {
				return err
			}
			fmt.Println("Identity restored from password backup.")
			return nil
		},
	}

	cmd.Flags().StringVar(&recoveryKey, "recovery-key", "", "restore with the recovery key instead of the password")
	return cmd
}
