package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where the migrations live in the source tree. Binaries read
// the copy embedded at build time.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Step is one migration touched or inspected by a command.
type Step struct {
	Version  int64
	Name     string
	State    string
	Duration time.Duration
}

func (s Step) String() string {
	if s.Duration > 0 {
		return fmt.Sprintf("%-8s %d %s (%s)", s.State, s.Version, s.Name, s.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("%-8s %d %s", s.State, s.Version, s.Name)
}

// Source resolves dir to a filesystem of migration files. An empty dir or
// DefaultDir selects the embedded set.
func Source(dir string) (fs.FS, error) {
	if dir == "" || filepath.Clean(dir) == DefaultDir {
		return fs.Sub(embedded, "migrations")
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("migrations dir %q: %w", dir, err)
	}
	return os.DirFS(dir), nil
}

func newProvider(db *sql.DB, dir string) (*goose.Provider, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	fsys, err := Source(dir)
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(goose.DialectPostgres, db, fsys)
}

// Run executes up, down or status against db.
func Run(ctx context.Context, db *sql.DB, dir string, command string) ([]Step, error) {
	provider, err := newProvider(db, dir)
	if err != nil {
		return nil, err
	}
	switch command {
	case "up":
		results, err := provider.Up(ctx)
		return resultSteps(results), wrapGoose("up", err)
	case "down":
		result, err := provider.Down(ctx)
		if result == nil {
			return nil, wrapGoose("down", err)
		}
		return resultSteps([]*goose.MigrationResult{result}), wrapGoose("down", err)
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return nil, wrapGoose("status", err)
		}
		steps := make([]Step, 0, len(statuses))
		for _, st := range statuses {
			steps = append(steps, Step{
				Version: st.Source.Version,
				Name:    filepath.Base(st.Source.Path),
				State:   string(st.State),
			})
		}
		return steps, nil
	}
	return nil, fmt.Errorf("unsupported migrate command %q", command)
}

// MigrateToVersion moves the schema up or down until it sits at targetVersion.
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, targetVersion string) ([]Step, error) {
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}
	provider, err := newProvider(db, dir)
	if err != nil {
		return nil, err
	}
	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("get db version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current == target:
		return nil, nil
	case current < target:
		results, err = provider.UpTo(ctx, target)
	default:
		results, err = provider.DownTo(ctx, target)
	}
	return resultSteps(results), wrapGoose(fmt.Sprintf("migrate to %d", target), err)
}

func resultSteps(results []*goose.MigrationResult) []Step {
	steps := make([]Step, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		state := r.Direction
		if r.Error != nil {
			state = "failed"
		}
		steps = append(steps, Step{
			Version:  r.Source.Version,
			Name:     filepath.Base(r.Source.Path),
			State:    state,
			Duration: r.Duration,
		})
	}
	return steps
}

func wrapGoose(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("goose %s: %w", op, err)
}
