// Package storage is the credential store: operators, their remote accounts
// and an append-only audit trail.
//
// Drivers:
//   - file:     JSON document rewritten atomically + audit JSON Lines
//   - sqlite:   modernc.org/sqlite
//   - postgres: jackc/pgx connection pool
//
// When an age key is configured, Open wraps the driver so app secrets are
// sealed at rest.
package storage
