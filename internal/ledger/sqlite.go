package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// sqlitePragmas lets the scan writer and the sync reader share the file.
const sqlitePragmas = "_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)"

func openSQLite(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	file := path
	if i := strings.Index(file, "?"); i >= 0 {
		file = file[:i]
	}
	file = strings.TrimPrefix(file, "file:")
	if dir := filepath.Dir(file); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, err
	}
	return newStore(db, false)
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?" + sqlitePragmas
}
