package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(password), nil
}

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Generate identity keys and write password-protected backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword("Backup password: ")
			if err != nil {
				return err
			}

			recoveryKey, err := messenger.SetupEncryption(cmd.Context(), password)
			if err != nil {
				return err
			}

			fmt.Println("Encryption is set up.")
			fmt.Println("Recovery key (write it down, it is shown only once):")
			fmt.Printf("  %s\n", recoveryKey)
			return nil
		},
	}
}
