// Package artifact implements the content-addressed cache of compiled
// bytecode: blob bytes keyed by fingerprint plus a metadata table that is
// the sole source of truth for existence and size.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/near-outlayer/execution-plane/internal/metrics"
	"github.com/near-outlayer/execution-plane/internal/models"
	"github.com/near-outlayer/execution-plane/internal/repository"
)

// Store pairs the metadata table with a blob backend and keeps total size
// under a ceiling via LRU eviction.
type Store struct {
	repo     repository.ArtifactRepository
	blobs    BlobStore
	maxBytes int64
	log      *logrus.Entry
}

func NewStore(repo repository.ArtifactRepository, blobs BlobStore, maxBytes int64) *Store {
	return &Store{
		repo:     repo,
		blobs:    blobs,
		maxBytes: maxBytes,
		log:      logrus.WithField("component", "artifact-store"),
	}
}

func contentChecksum(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 32)
}

// Lookup returns the record and bytes for a fingerprint, or (nil, nil, nil)
// on miss. A record whose file is missing or corrupt is healed by deleting
// the pair so the caller recompiles.
func (s *Store) Lookup(ctx context.Context, fingerprint string) (*models.Artifact, []byte, error) {
	rec, err := s.repo.FindByFingerprint(ctx, fingerprint)
	if err != nil {
		return nil, nil, fmt.Errorf("artifact lookup: %w", err)
	}
	if rec == nil {
		return nil, nil, nil
	}

	data, err := s.blobs.Read(ctx, fingerprint)
	if errors.Is(err, ErrBlobNotFound) {
		s.log.WithField("fingerprint", fingerprint).Warn("record present but blob missing, healing")
		if err := s.repo.Delete(ctx, fingerprint); err != nil {
			return nil, nil, fmt.Errorf("heal stale record: %w", err)
		}
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("artifact read: %w", err)
	}

	if contentChecksum(data) != rec.Checksum {
		s.log.WithField("fingerprint", fingerprint).Warn("artifact checksum mismatch, evicting pair")
		_ = s.blobs.Delete(ctx, fingerprint)
		if err := s.repo.Delete(ctx, fingerprint); err != nil {
			return nil, nil, fmt.Errorf("heal corrupt artifact: %w", err)
		}
		return nil, nil, nil
	}

	if err := s.repo.Touch(ctx, fingerprint); err != nil {
		s.log.WithError(err).Warn("touch failed")
	}
	return rec, data, nil
}

// Exists checks the metadata table only.
func (s *Store) Exists(ctx context.Context, fingerprint string) (bool, error) {
	rec, err := s.repo.FindByFingerprint(ctx, fingerprint)
	return rec != nil, err
}

// Put stores bytes and inserts the record; the blob write and record insert
// succeed together or the blob is rolled back. Concurrent puts for the same
// fingerprint: the first wins and later callers observe the winner's record.
func (s *Store) Put(ctx context.Context, fingerprint string, data []byte, note string) (*models.Artifact, error) {
	if err := s.blobs.Write(ctx, fingerprint, data); err != nil {
		return nil, fmt.Errorf("artifact write: %w", err)
	}

	now := time.Now().UTC()
	rec := &models.Artifact{
		Fingerprint:     fingerprint,
		SizeBytes:       int64(len(data)),
		Checksum:        contentChecksum(data),
		CompilationNote: note,
		BuiltAt:         now,
		LastAccessedAt:  now,
	}
	winner, created, err := s.repo.Insert(ctx, rec)
	if err != nil {
		// Roll back the blob so no half-present artifact remains.
		if delErr := s.blobs.Delete(ctx, fingerprint); delErr != nil {
			s.log.WithError(delErr).Error("rollback of orphaned blob failed")
		}
		return nil, fmt.Errorf("artifact record insert: %w", err)
	}
	if !created {
		s.log.WithField("fingerprint", fingerprint).Debug("concurrent store lost the race, observing winner")
	}

	if err := s.EvictIfOverBudget(ctx); err != nil {
		s.log.WithError(err).Warn("eviction after store failed")
	}
	return winner, nil
}

// Touch refreshes the LRU position of a fingerprint.
func (s *Store) Touch(ctx context.Context, fingerprint string) error {
	return s.repo.Touch(ctx, fingerprint)
}

// EvictIfOverBudget deletes file+record pairs, least recently used first,
// until the total size fits the ceiling. A filesystem error on one item is
// logged and the sweep continues; the record is only removed once the file
// is confirmed absent or unlinked.
func (s *Store) EvictIfOverBudget(ctx context.Context) error {
	total, err := s.repo.TotalSize(ctx)
	if err != nil {
		return fmt.Errorf("cache size: %w", err)
	}
	metrics.CacheBytes.Set(float64(total))
	if total <= s.maxBytes {
		return nil
	}

	s.log.WithFields(logrus.Fields{
		"total_bytes": total,
		"max_bytes":   s.maxBytes,
	}).Info("cache over budget, starting eviction sweep")

	recs, err := s.repo.OldestFirst(ctx)
	if err != nil {
		return fmt.Errorf("list artifacts: %w", err)
	}

	toFree := total - s.maxBytes
	var freed int64
	for _, rec := range recs {
		if freed >= toFree {
			break
		}
		if err := s.blobs.Delete(ctx, rec.Fingerprint); err != nil {
			s.log.WithError(err).WithField("fingerprint", rec.Fingerprint).
				Error("blob delete failed, keeping record")
			continue
		}
		if err := s.repo.Delete(ctx, rec.Fingerprint); err != nil {
			s.log.WithError(err).WithField("fingerprint", rec.Fingerprint).
				Error("record delete failed")
			continue
		}
		freed += rec.SizeBytes
		s.log.WithFields(logrus.Fields{
			"fingerprint": rec.Fingerprint,
			"size_bytes":  rec.SizeBytes,
		}).Info("evicted artifact")
	}

	s.log.WithField("freed_bytes", freed).Info("eviction sweep finished")
	metrics.CacheBytes.Set(float64(total - freed))
	return nil
}

// RunEvictionLoop drives periodic sweeps until ctx is cancelled.
func (s *Store) RunEvictionLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.EvictIfOverBudget(ctx); err != nil {
				s.log.WithError(err).Error("periodic eviction failed")
			}
		}
	}
}
