// Package vault implements the password-protected backup codec.
//
// A user's identity secret is wrapped under a key derived from their
// password with Argon2id and sealed with ChaCha20-Poly1305. The resulting
// BackupBlob is self-describing: the KDF algorithm, its work factors, the
// salt and the nonce all travel with the ciphertext, so a blob written
// today remains decryptable after the defaults change.
//
// The password exists only as transient input. It is never persisted and
// never logged.
package vault
