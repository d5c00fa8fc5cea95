package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"voxelpipes.ai/internal/persistence/r2s3"
)

// openArchive builds the audit file mirror from PIPES_ARCHIVE_* when
// PIPES_ARCHIVE is true. A nil mirror means archiving is off.
func openArchive(dataDir, instanceID string, log logrus.FieldLogger) (*r2s3.Mirror, error) {
	if !envBool("PIPES_ARCHIVE", false) {
		return nil, nil
	}
	client, err := r2s3.New(r2s3.Config{
		Endpoint:        os.Getenv("PIPES_ARCHIVE_ENDPOINT"),
		Bucket:          os.Getenv("PIPES_ARCHIVE_BUCKET"),
		AccessKeyID:     os.Getenv("PIPES_ARCHIVE_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("PIPES_ARCHIVE_SECRET_ACCESS_KEY"),
		Region:          os.Getenv("PIPES_ARCHIVE_REGION"),
	})
	if err != nil {
		return nil, fmt.Errorf("PIPES_ARCHIVE=true: %w", err)
	}
	prefix := strings.TrimSpace(os.Getenv("PIPES_ARCHIVE_PREFIX"))
	if prefix == "" {
		prefix = instanceID
	}
	return r2s3.NewMirror(client, r2s3.MirrorConfig{
		DataDir:     dataDir,
		Prefix:      prefix,
		Workers:     envInt("PIPES_ARCHIVE_WORKERS", 2),
		Queue:       envInt("PIPES_ARCHIVE_QUEUE", 256),
		EnqueueWait: time.Duration(envInt("PIPES_ARCHIVE_ENQUEUE_WAIT_MS", 25)) * time.Millisecond,
		Logger:      log,
	}), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
