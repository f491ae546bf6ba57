// Package commands implements the e2eectl subcommands: device-local
// administration of the encryption subsystem (setup, backup restore, key
// rotation, pairing, safety numbers).
package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ledgerline/e2ee"
	"github.com/ledgerline/e2ee/identity"
	"github.com/ledgerline/e2ee/storage"
)

var (
	home       string
	userID     string
	deviceID   string
	policyPath string
	verbose    bool

	db        *storage.SQLiteStore
	messenger e2ee.Messenger
)

// localDirectory resolves public keys from identity records in the local
// store. It covers users whose identities are synced to this device; a
// deployed client would query the server-side directory instead.
type localDirectory struct {
	ids *identity.Store
}

func (d *localDirectory) PublicKey(ctx context.Context, userID string) ([32]byte, error) {
	record, err := d.ids.Get(ctx, userID)
	if err != nil {
		return [32]byte{}, fmt.Errorf("no local key record for %s: %w", userID, err)
	}
	pair, err := record.KeyPair()
	if err != nil {
		return [32]byte{}, err
	}
	return pair.Public, nil
}

func Execute() error {
	root := &cobra.Command{
		Use:           "e2eectl",
		Short:         "Administer the Ledgerline encryption subsystem on this device",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !verbose {
				logrus.SetLevel(logrus.WarnLevel)
			}
			if userID == "" {
				return fmt.Errorf("user required (-u)")
			}
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".ledgerline")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			var err error
			db, err = storage.NewSQLiteStore(filepath.Join(home, "e2ee.db"))
			if err != nil {
				return err
			}

			opts := e2ee.Options{
				Entitled: true,
				Store:    db,
				DeviceID: deviceID,
			}
			opts.Directory = &localDirectory{ids: identity.NewStore(db, identity.Config{DeviceID: deviceID})}

			if policyPath != "" {
				policy, err := e2ee.LoadPolicy(policyPath)
				if err != nil {
					return err
				}
				opts.Policy = &policy
			}

			messenger, err = e2ee.New(opts)
			if err != nil {
				return err
			}
			return messenger.Initialize(cmd.Context(), userID)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if err := messenger.Teardown(); err != nil {
				return err
			}
			return db.Close()
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "data dir (default ~/.ledgerline)")
	root.PersistentFlags().StringVarP(&userID, "user", "u", "", "user id")
	root.PersistentFlags().StringVar(&deviceID, "device", "", "device id (default primary)")
	root.PersistentFlags().StringVar(&policyPath, "policy", "", "policy YAML file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at info level")

	root.AddCommand(setupCmd(), restoreCmd(), rotateCmd(), pairCmd(), statusCmd(), safetyNumberCmd())
	return root.Execute()
}
