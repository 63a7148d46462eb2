// Package password implements Argon2id credential hashing and the strength
// policy applied on signup and reset.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can re-hash after the next successful login.
//
// The package never stores passwords and never logs plaintext or hash
// parameters.
package password
