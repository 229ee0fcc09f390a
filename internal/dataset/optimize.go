// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package dataset

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/universalmind303/lancedb/internal/index"
	"github.com/universalmind303/lancedb/internal/objectstore"
	"github.com/universalmind303/lancedb/pkg/contracts"
)

const (
	// DefaultCleanupAge is how old a version must be before Cleanup prunes it.
	DefaultCleanupAge = 7 * 24 * time.Hour

	defaultDeletionThreshold = 0.1
)

// CompactOptions tunes Compact. Zero values take defaults.
type CompactOptions struct {
	// TargetRows is the fragment size compaction aims for. Fragments with
	// fewer live rows are merged with their neighbours.
	TargetRows int
	// MaterializeDeletionsThreshold is the deleted fraction above which a
	// fragment is rewritten even when it is large enough.
	MaterializeDeletionsThreshold float64
}

// CompactStats describes what Compact rewrote.
type CompactStats struct {
	FragmentsRemoved int
	FragmentsAdded   int
	FilesRemoved     int
	FilesAdded       int
}

// CleanupStats describes what Cleanup removed.
type CleanupStats struct {
	VersionsPruned int
	FilesRemoved   int
	BytesRemoved   int64
}

// needsRewrite reports whether frag must be rewritten regardless of size:
// it carries many deletions, is split over several files or still stores
// dropped columns.
func needsRewrite(frag Fragment, live map[int]bool, threshold float64) bool {
	if frag.Deletion != nil && float64(frag.Deletion.NumDeleted) > threshold*float64(frag.PhysicalRows) {
		return true
	}
	if len(frag.Files) > 1 {
		return true
	}
	for _, df := range frag.Files {
		for _, id := range df.FieldIDs {
			if !live[id] {
				return true
			}
		}
	}
	return false
}

// Compact merges runs of small fragments and rewrites fragments with many
// deletions. Row content and order are unchanged. No version is created
// when there is nothing to do.
func (d *Dataset) Compact(ctx context.Context, opts CompactOptions) (*Snapshot, *CompactStats, error) {
	if opts.TargetRows <= 0 {
		opts.TargetRows = d.opts.MaxRowsPerFragment
	}
	if opts.MaterializeDeletionsThreshold <= 0 {
		opts.MaterializeDeletionsThreshold = defaultDeletionThreshold
	}
	stats := &CompactStats{}
	snap, err := d.commit(ctx, "Compact", func(m *Manifest) error {
		*stats = CompactStats{}
		schema, err := m.ArrowSchema()
		if err != nil {
			return err
		}
		live := map[int]bool{}
		for _, f := range schema.Fields() {
			live[FieldID(f)] = true
		}

		// Group adjacent candidates into runs; a run is rewritten when it
		// merges several fragments or holds one that needs it anyway.
		var (
			runs [][]int
			run  []int
		)
		flush := func() {
			if len(run) > 1 || (len(run) == 1 && needsRewrite(m.Fragments[run[0]], live, opts.MaterializeDeletionsThreshold)) {
				runs = append(runs, run)
			}
			run = nil
		}
		for i, frag := range m.Fragments {
			small := frag.LiveRows() < int64(opts.TargetRows)
			if small || needsRewrite(frag, live, opts.MaterializeDeletionsThreshold) {
				run = append(run, i)
				continue
			}
			flush()
		}
		flush()
		if len(runs) == 0 {
			return errNoChange
		}

		replaced := map[uint32]bool{}
		out := make([]Fragment, 0, len(m.Fragments))
		next := 0
		for _, r := range runs {
			out = append(out, m.Fragments[next:r[0]]...)
			next = r[len(r)-1] + 1
			frags, err := d.rewriteRun(ctx, m, schema, m.Fragments[r[0]:next], opts.TargetRows)
			if err != nil {
				return err
			}
			for _, old := range m.Fragments[r[0]:next] {
				replaced[old.ID] = true
				stats.FragmentsRemoved++
				stats.FilesRemoved += len(old.Files)
			}
			for _, f := range frags {
				stats.FragmentsAdded++
				stats.FilesAdded += len(f.Files)
			}
			out = append(out, frags...)
		}
		out = append(out, m.Fragments[next:]...)
		m.Fragments = out

		// Rewritten rows have new addresses; indices stop covering the old
		// fragments and pick the rows up again on the next refresh.
		for i := range m.Indices {
			kept := m.Indices[i].Fragments[:0:0]
			for _, id := range m.Indices[i].Fragments {
				if !replaced[id] {
					kept = append(kept, id)
				}
			}
			m.Indices[i].Fragments = kept
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return snap, stats, nil
}

func (d *Dataset) rewriteRun(ctx context.Context, m *Manifest, schema *arrow.Schema, frags []Fragment, target int) ([]Fragment, error) {
	fds, err := d.readFragments(ctx, schema, frags)
	if err != nil {
		return nil, err
	}
	defer releaseFragments(fds)
	var live []arrow.Record
	defer func() { releaseRecords(live) }()
	for _, fd := range fds {
		offsets, err := matching(fd, nil)
		if err != nil {
			return nil, err
		}
		rec, err := takeOffsets(ctx, fd.rec, offsets)
		if err != nil {
			return nil, err
		}
		live = append(live, rec)
	}
	return d.writeFragmentsSized(ctx, m, live, target)
}

// OptimizeIndices brings every index up to date: rows of fragments the
// index does not cover yet are added and entries of removed or deleted
// rows are dropped. No version is created when every index is current.
func (d *Dataset) OptimizeIndices(ctx context.Context) (*Snapshot, int, error) {
	updated := 0
	snap, err := d.commit(ctx, "OptimizeIndices", func(m *Manifest) error {
		updated = 0
		schema, err := m.ArrowSchema()
		if err != nil {
			return err
		}
		current := map[uint32]Fragment{}
		for _, f := range m.Fragments {
			current[f.ID] = f
		}
		for i, meta := range m.Indices {
			covered := map[uint32]bool{}
			stale := false
			for _, id := range meta.Fragments {
				covered[id] = true
				if _, ok := current[id]; !ok {
					stale = true
				}
			}
			var missing []Fragment
			for _, f := range m.Fragments {
				if !covered[f.ID] {
					missing = append(missing, f)
				}
			}
			if len(missing) == 0 && !stale {
				continue
			}
			field, ok := fieldByID(schema, meta.FieldID)
			if !ok {
				return fmt.Errorf("index %s refers to a dropped column", meta.Name)
			}
			ix, err := d.decodeIndex(ctx, meta)
			if err != nil {
				return err
			}
			deleted := map[uint32]func(uint32) bool{}
			for _, f := range m.Fragments {
				bm, err := d.readDeletion(ctx, f.Deletion)
				if err != nil {
					return err
				}
				deleted[f.ID] = bm.Contains
			}
			ix.Retain(func(addr uint64) bool {
				isDeleted, ok := deleted[index.FragmentOf(addr)]
				return ok && !isDeleted(uint32(addr))
			})
			addrs, values, err := d.columnRows(ctx, field, missing)
			if err != nil {
				return err
			}
			if err := addToIndex(ix, addrs, values); err != nil {
				return err
			}
			id, size, err := d.writeIndex(ctx, ix)
			if err != nil {
				return err
			}
			meta.UUID = id
			meta.Size = size
			meta.Fragments = meta.Fragments[:0:0]
			for _, f := range m.Fragments {
				meta.Fragments = append(meta.Fragments, f.ID)
			}
			m.Indices[i] = meta
			updated++
		}
		if updated == 0 {
			return errNoChange
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return snap, updated, nil
}

func fieldByID(schema *arrow.Schema, id int) (arrow.Field, bool) {
	for _, f := range schema.Fields() {
		if FieldID(f) == id {
			return f, true
		}
	}
	return arrow.Field{}, false
}

// Cleanup removes versions older than olderThan together with the files
// only they reference. The latest version and pinned versions are kept
// regardless of age. Files under the data, deletion and index directories
// that no kept version references, left behind by failed or abandoned
// commits, are removed as well once they are older than olderThan.
func (d *Dataset) Cleanup(ctx context.Context, olderThan time.Duration) (*CleanupStats, error) {
	d.shared.commitMu.Lock()
	defer d.shared.commitMu.Unlock()

	vs, err := d.versions(ctx)
	if err != nil {
		return nil, err
	}
	stats := &CleanupStats{}
	if len(vs) == 0 {
		return stats, nil
	}
	cutoff := time.Now().Add(-olderThan)
	head := vs[len(vs)-1]

	referenced := map[string]bool{}
	removable := map[string]int64{}
	var pruned []int
	for _, v := range vs {
		m, err := d.loadManifest(ctx, v)
		if errors.Is(err, contracts.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// condemn runs last so a version is only claimed once it is known
		// to be prunable; a claimed version can no longer be pinned.
		if v != head && m.Timestamp.Before(cutoff) && d.shared.condemn(v) {
			pruned = append(pruned, v)
			for p, size := range m.fileSizes() {
				removable[p] = size
			}
			continue
		}
		for _, p := range m.files() {
			referenced[p] = true
		}
	}

	for _, v := range pruned {
		if err := d.store.Delete(ctx, d.key(manifestPath(v))); err != nil {
			return stats, fmt.Errorf("failed to delete manifest %d: %w", v, err)
		}
		stats.VersionsPruned++
	}
	for p, size := range removable {
		if referenced[p] {
			continue
		}
		if err := d.store.Delete(ctx, d.key(p)); err != nil {
			return stats, fmt.Errorf("failed to delete %s: %w", p, err)
		}
		d.shared.files.Remove(p)
		stats.FilesRemoved++
		stats.BytesRemoved += size
	}
	if err := d.removeOrphans(ctx, referenced, removable, cutoff, stats); err != nil {
		return stats, err
	}
	if stats.VersionsPruned > 0 || stats.FilesRemoved > 0 {
		d.log.Debug("pruned versions", "dataset", d.base, "versions", stats.VersionsPruned, "files", stats.FilesRemoved)
	}
	return stats, nil
}

// removeOrphans deletes files that no manifest references. Every commit of
// this process writes its files while holding commitMu, which the caller
// holds, so none of them is in flight. Files of other writers are protected
// by the age cutoff on stores that track modification times.
func (d *Dataset) removeOrphans(ctx context.Context, referenced map[string]bool, handled map[string]int64, cutoff time.Time, stats *CleanupStats) error {
	for _, dir := range []string{dataDir, deletionsDir, indicesDir} {
		listed := d.key(dir) + "/"
		keys, err := d.store.List(ctx, listed)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, key := range keys {
			rel := path.Join(dir, strings.TrimPrefix(key, listed))
			if referenced[rel] {
				continue
			}
			if _, ok := handled[rel]; ok {
				continue
			}
			modified, ok, err := objectstore.ModTime(ctx, d.store, key)
			if errors.Is(err, objectstore.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if ok && !modified.Before(cutoff) {
				continue
			}
			if err := d.store.Delete(ctx, key); err != nil {
				return fmt.Errorf("failed to delete %s: %w", rel, err)
			}
			d.shared.files.Remove(rel)
			stats.FilesRemoved++
		}
	}
	return nil
}

// Stats describes the physical layout of the snapshot. Fragments with
// fewer live rows than smallRows count as small.
func (s *Snapshot) Stats(smallRows int) *contracts.TableStats {
	stats := &contracts.TableStats{NumFragments: len(s.m.Fragments)}
	for _, f := range s.m.Fragments {
		stats.NumRows += f.LiveRows()
		if f.Deletion != nil {
			stats.NumDeletedRows += f.Deletion.NumDeleted
			stats.TotalBytes += f.Deletion.Size
		}
		if f.LiveRows() < int64(smallRows) {
			stats.NumSmallFragments++
		}
		stats.NumDataFiles += len(f.Files)
		for _, df := range f.Files {
			stats.TotalBytes += df.Size
		}
	}
	return stats
}
