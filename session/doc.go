// Package session manages per-conversation encryption sessions.
//
// A session binds one conversation to one identity epoch: its 32-byte
// session key is derived from an X25519 Diffie-Hellman agreement between
// the local identity secret and the peer's published public key, and every
// message inside it is sealed under a single-use key derived from the
// session key plus the sender's monotonic counter.
//
// Sessions are established at most once per (conversation, epoch); when an
// epoch advances the old session is retained read-only so late-arriving
// messages stay decryptable until history is purged.
package session
