// Package statebackup supplements spec.md §6 (it names a single embedded
// state-store file but is silent on disaster recovery) with an optional
// snapshot-and-upload path: vacuum the SQLite state store into a standalone
// file, then upload it to S3 as a versioned object, mirroring the
// teacher's own "snapshot the local DB, upload it to remote storage as
// metadata" idiom.
package statebackup

import (
	"context"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Backer snapshots a Store to a local file. Kept as a narrow interface
// (matching SQLiteStore.BackupTo's signature) rather than widening
// core.Store with a concern unrelated to its five transactional groupings.
type Backer interface {
	BackupTo(destPath string) error
}

// Config names the S3 destination for state snapshots.
type Config struct {
	Bucket string
	Prefix string
	Region string
}

// Uploader vacuums the state store and uploads the snapshot to S3.
type Uploader struct {
	store    Backer
	uploader *manager.Uploader
	cfg      Config
}

// New constructs an Uploader, resolving AWS credentials the standard SDK
// way (environment, shared config, instance role).
func New(ctx context.Context, store Backer, cfg Config) (*Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &Uploader{store: store, uploader: manager.NewUploader(client), cfg: cfg}, nil
}

// Snapshot vacuums the state store into a temp file and uploads it to
// s3://bucket/prefix/<version as a UTC 20060102T150405Z timestamp>.sqlite,
// returning the object key.
// The temp file is removed before returning, success or failure.
func (u *Uploader) Snapshot(ctx context.Context, version int64) (string, error) {
	tmp, err := os.CreateTemp("", "pdsync-state-*.sqlite")
	if err != nil {
		return "", fmt.Errorf("creating temp snapshot file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := u.store.BackupTo(tmpPath); err != nil {
		return "", fmt.Errorf("snapshotting state store: %w", err)
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return "", fmt.Errorf("opening snapshot for upload: %w", err)
	}
	defer f.Close()

	key := objectKey(u.cfg.Prefix, version)
	_, err = u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &u.cfg.Bucket,
		Key:    &key,
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("uploading snapshot to s3://%s/%s: %w", u.cfg.Bucket, key, err)
	}
	return key, nil
}

func objectKey(prefix string, version int64) string {
	ts := time.Unix(0, version).UTC().Format("20060102T150405Z")
	if prefix == "" {
		return fmt.Sprintf("%s.sqlite", ts)
	}
	return fmt.Sprintf("%s/%s.sqlite", prefix, ts)
}
