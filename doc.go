// Package e2ee implements end-to-end encrypted messaging key management
// for Ledgerline: identity key lifecycle, per-conversation sessions with
// per-message key derivation, epoch-based rotation, password-protected
// backup and restore, and device pairing.
//
// The entry point is the Messenger interface. New selects one of two
// implementations at construction time based on the user's entitlement, so
// calling code never branches on whether encryption is enabled:
//
//	store, err := storage.NewSQLiteStore(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	messenger, err := e2ee.New(e2ee.Options{
//	    Entitled:  true,
//	    Store:     store,
//	    Directory: directory,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := messenger.Initialize(ctx, "alice"); err != nil {
//	    log.Fatal(err)
//	}
//
//	recoveryKey, err := messenger.SetupEncryption(ctx, password)
//	envelope, err := messenger.EncryptMessage(ctx, "conv1", "hello", "bob")
package e2ee
