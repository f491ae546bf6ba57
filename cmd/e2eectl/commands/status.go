package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerline/e2ee/crypto"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether encryption is set up and the key fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !messenger.IsSetUp(cmd.Context()) {
				fmt.Println("Encryption is not set up. Run `e2eectl setup`.")
				return nil
			}

			pub, err := messenger.IdentityPublicKey(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Println("Encryption is set up.")
			fmt.Printf("Fingerprint: %s\n", crypto.Fingerprint(pub))
			return nil
		},
	}
}

func safetyNumberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "safety-number <other-user>",
		Short: "Print the safety number shared with another user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := messenger.SafetyNumber(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(number)
			return nil
		},
	}
}
