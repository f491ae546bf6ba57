package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerline/e2ee/rotation"
)

func rotateCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Rotate the identity key when due (or immediately with --force)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result *rotation.Result
			var err error
			if force {
				result, err = messenger.RegenerateKeys(cmd.Context())
			} else {
				result, err = messenger.CheckAndRotateIfNeeded(cmd.Context())
			}
			if err != nil {
				return err
			}

			if !result.Rotated {
				fmt.Println("Rotation not due.")
				return nil
			}
			fmt.Printf("Rotated to epoch %d (%s).\n", result.NewEpoch, result.Reason)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "rotate now regardless of key age")
	return cmd
}
