package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"voxelpipes.ai/internal/persistence/indexdb"
	"voxelpipes.ai/internal/sim/pipeworld"
	"voxelpipes.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	pipeworld.AuditLogger
	Close() error
}

func indexPath(dataDir string) string {
	return filepath.Join(dataDir, "index", "pipes.sqlite")
}

// openRuntimeIndex picks the index backend from PIPES_INDEX_BACKEND
// (sqlite, remote or none). A nil index means indexing is off.
func openRuntimeIndex(dataDir, instanceID string, disableDB bool, tune tuning.Tuning, log logrus.FieldLogger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("PIPES_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(indexPath(dataDir))
		if err != nil {
			return nil, err
		}
		if err := idx.UpsertTuning(tune); err != nil {
			log.WithError(err).Warn("index: upsert tuning")
		}
		log.WithField("run_id", idx.RunID()).Info("sqlite index opened")
		return idx, nil
	case "remote":
		endpoint := strings.TrimSpace(os.Getenv("PIPES_INDEX_INGEST_URL"))
		if endpoint == "" {
			return nil, fmt.Errorf("PIPES_INDEX_BACKEND=remote but PIPES_INDEX_INGEST_URL is empty")
		}
		return indexdb.OpenRemote(indexdb.RemoteConfig{
			Endpoint:      endpoint,
			Token:         strings.TrimSpace(os.Getenv("PIPES_INDEX_TOKEN")),
			InstanceID:    instanceID,
			BatchSize:     envInt("PIPES_INDEX_BATCH_SIZE", 128),
			FlushInterval: time.Duration(envInt("PIPES_INDEX_FLUSH_MS", 500)) * time.Millisecond,
			Logger:        log,
		})
	default:
		return nil, fmt.Errorf("unsupported PIPES_INDEX_BACKEND: %s", backend)
	}
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
