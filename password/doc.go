// Package password hashes and verifies passwords.
//
// # Output format
//
// New hashes are argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Bcrypt] reads hashes carried over from bcrypt-based systems, and [Chain] picks the
// scheme by hash prefix so both kinds can live in one user table. NeedsUpgrade tells
// the caller to re-hash after the next successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other tokengate package.
//   - Log plaintext passwords.
package password
