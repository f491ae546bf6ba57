package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func pairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Transfer identity keys to another device",
	}
	cmd.AddCommand(pairCreateCmd(), pairVerifyCmd())
	return cmd
}

func pairCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Issue a single-use pairing code for a new device",
		RunE: func(cmd *cobra.Command, args []string) error {
			request, err := messenger.CreatePairingRequest(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Pairing code: %s\n", request.Code)
			fmt.Printf("Expires: %s\n", request.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
}

func pairVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <code>",
		Short: "Redeem a pairing code on this device and install the keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := messenger.VerifyPairingCode(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("Device paired.")
			return nil
		},
	}
}
