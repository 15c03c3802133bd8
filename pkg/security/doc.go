/*
Package security provides the cryptographic primitives for hutch: credential
encryption, password hashing, and session token signing.

The package has three independent components that share nothing but the
package name. Each one owns a single secret-handling concern so that callers
never touch crypto APIs directly.

# Architecture

	┌───────────────────── SECURITY ─────────────────────────┐
	│                                                          │
	│  ┌────────────────────────────────────────────┐         │
	│  │              Encryptor                      │         │
	│  │  - AES-256-GCM, random 12-byte nonce        │         │
	│  │  - blob = base64(nonce || ciphertext        │         │
	│  │           || tag)                           │         │
	│  │  - key: CONFIG_ENCRYPTION_KEY (base64,      │         │
	│  │    32 bytes decoded)                        │         │
	│  │  - used for: agent API keys at rest         │         │
	│  └────────────────────────────────────────────┘         │
	│                                                          │
	│  ┌────────────────────────────────────────────┐         │
	│  │          Password hashing                   │         │
	│  │  - Argon2id, PHC string encoding            │         │
	│  │  - parameters stored per hash               │         │
	│  │  - constant-time verification               │         │
	│  │  - used for: user login credentials         │         │
	│  └────────────────────────────────────────────┘         │
	│                                                          │
	│  ┌────────────────────────────────────────────┐         │
	│  │            TokenService                     │         │
	│  │  - JWT HS256 issue/verify                   │         │
	│  │  - claims: sub, username, role, iat, exp    │         │
	│  │  - TokenHash: hex SHA-256 of raw token      │         │
	│  │  - used for: session tokens                 │         │
	│  └────────────────────────────────────────────┘         │
	└──────────────────────────────────────────────────────┘

# Trust Model

A signed, unexpired JWT is necessary but not sufficient for a request to be
authenticated. The session layer persists a row per issued token, keyed by
TokenHash, and revocation (logout, password change, deactivation) deletes
rows. Verification therefore always pairs TokenService.Verify with a session
row lookup. This keeps tokens revocable without embedding state in the JWT.

Raw tokens and plaintext API keys never reach the database. Tokens are stored
only as SHA-256 digests; API keys are stored only as GCM blobs under the
process-wide encryption key.

# Usage

Encrypting an agent credential:

	enc, err := security.NewEncryptorFromBase64(os.Getenv("CONFIG_ENCRYPTION_KEY"))
	if err != nil {
		return err
	}
	blob, err := enc.EncryptString(apiKey)

Hashing and verifying a password:

	hash, err := security.HashPassword(password)
	ok, err := security.VerifyPassword(candidate, hash)

Issuing a session token:

	ts, err := security.NewTokenService(cfg.JWTSecret)
	token, expiresAt, err := ts.Issue(user, time.Now(), 24*time.Hour)
	hash := security.TokenHash(token)

# Key Rotation

There is no key-id or multi-key scheme. Rotating CONFIG_ENCRYPTION_KEY
invalidates every stored credential blob; operators re-enter API keys after a
rotation. Password hashes are unaffected, and JWT_SECRET rotation simply
signs existing users out.

# See Also

  - pkg/users for the session rows that pair with token verification
  - pkg/agents for credential storage and config file materialization
*/
package security
