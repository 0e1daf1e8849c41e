package storage

import "embed"

//go:embed migrations/*.sql
var migrationsFS embed.FS

func migration(dialect string) (string, error) {
	b, err := migrationsFS.ReadFile("migrations/" + dialect + ".sql")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
