package db

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/gorm"
)

// findProjectRoot looks for go.mod file to determine project root
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("could not find project root (go.mod)")
		}
		dir = parent
	}
}

// constructDBURL creates the database URL from environment variables
func constructDBURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		os.Getenv("DB_NAME"),
	)
}

// ensurePostEnums creates the post_kind and post_status enum types used by
// the posts table if they do not exist yet.
func ensurePostEnums(db *gorm.DB) error {
	enums := []struct {
		name   string
		create string
	}{
		{
			name:   "post_kind",
			create: `CREATE TYPE post_kind AS ENUM ('single', 'thread');`,
		},
		{
			name:   "post_status",
			create: `CREATE TYPE post_status AS ENUM ('draft', 'scheduled', 'posted', 'failed');`,
		},
	}

	for _, e := range enums {
		var exists bool
		err := db.Raw(`
			SELECT EXISTS (
				SELECT 1 FROM pg_type
				WHERE typname = ?
			);
		`, e.name).Scan(&exists).Error
		if err != nil {
			return err
		}

		if !exists {
			if err := db.Exec(e.create).Error; err != nil {
				return err
			}
		}
	}

	return nil
}
