package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"terrarium.ai/internal/persistence/indexdb"
)

// openRuntimeIndex opens the read index for dataDir. It returns nil when the
// index is disabled by flag or by TERRARIUM_INDEX_BACKEND.
func openRuntimeIndex(dataDir string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("TERRARIUM_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "run.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported TERRARIUM_INDEX_BACKEND: %s", backend)
	}
}
