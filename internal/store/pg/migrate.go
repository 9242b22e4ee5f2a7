package pg

import (
	"context"
	"fmt"
	"sort"
	"strings"

	migrations "github.com/dropDatabas3/aegis/migrations/postgres"
)

// RunMigrations aplica en orden los *_up.sql embebidos. Los statements
// usan IF NOT EXISTS, así que re-ejecutar es idempotente.
func (s *Store) RunMigrations(ctx context.Context) error {
	files, err := migrationFiles("_up.sql")
	if err != nil {
		return err
	}
	for _, f := range files {
		b, err := migrations.FS.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("pg: exec %s: %w", f, err)
		}
	}
	return nil
}

// RunMigrationsDown ejecuta los *_down.sql en orden inverso.
func (s *Store) RunMigrationsDown(ctx context.Context) error {
	files, err := migrationFiles("_down.sql")
	if err != nil {
		return err
	}
	for i := len(files) - 1; i >= 0; i-- {
		b, err := migrations.FS.ReadFile(files[i])
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("pg: exec %s: %w", files[i], err)
		}
	}
	return nil
}

func migrationFiles(suffix string) ([]string, error) {
	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(strings.ToLower(e.Name()), suffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
