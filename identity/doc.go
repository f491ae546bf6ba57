// Package identity manages the long-term identity key pair for each
// (user, device) pair: creation at epoch 0, epoch-advancing rotation with
// a bounded history of previous keys, restoration from backups or pairing
// payloads, and irreversible local wipe.
//
// Exactly one active (highest-epoch) key pair exists per user at any time.
// Every mutation persists durably before the call returns; a crash between
// persist and return leaves the store in the prior, self-consistent state.
package identity
