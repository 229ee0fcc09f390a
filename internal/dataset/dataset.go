// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

// Package dataset implements the versioned columnar table engine behind the
// native backend. A dataset is a directory of immutable objects:
//
//	_versions/<v>.manifest                  one manifest per version
//	data/<uuid>.arrow                       Arrow IPC data files
//	_deletions/<frag>-<v>-<uuid>.bin        roaring deletion vectors
//	_indices/<uuid>/index.bin               encoded indices
//
// Every mutation writes its new objects first and then publishes a new
// manifest, so readers see either the old version or the new one.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/google/uuid"

	"github.com/universalmind303/lancedb/internal/codec"
	"github.com/universalmind303/lancedb/internal/logging"
	"github.com/universalmind303/lancedb/internal/objectstore"
	"github.com/universalmind303/lancedb/pkg/contracts"
)

// Options tunes a dataset handle.
type Options struct {
	// Compression applies to data files.
	Compression codec.Compression
	// MaxRowsPerFragment caps the rows written into one fragment by a single write.
	MaxRowsPerFragment int
	// CacheSize bounds the number of decoded files kept in memory.
	CacheSize int
	Logger    *logging.Logger
}

const defaultMaxRowsPerFragment = 1024 * 1024

// Dataset is a handle on one table directory. It is safe for concurrent use.
type Dataset struct {
	store  objectstore.Store
	base   string
	opts   Options
	shared *shared
	log    *logging.Logger
}

func newDataset(store objectstore.Store, base string, opts Options) *Dataset {
	if opts.MaxRowsPerFragment <= 0 {
		opts.MaxRowsPerFragment = defaultMaxRowsPerFragment
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	return &Dataset{
		store:  store,
		base:   base,
		opts:   opts,
		shared: sharedFor(registryKey(store, base), opts.CacheSize),
		log:    log,
	}
}

func registryKey(store objectstore.Store, base string) string {
	return store.URI() + "|" + base
}

func (d *Dataset) key(rel string) string {
	return path.Join(d.base, rel)
}

// Exists reports whether a dataset has at least one version at base.
func Exists(ctx context.Context, store objectstore.Store, base string) (bool, error) {
	keys, err := store.List(ctx, path.Join(base, versionsDir)+"/")
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if _, ok := parseManifestVersion(k); ok {
			return true, nil
		}
	}
	return false, nil
}

// Create writes version 1 of a new dataset holding records. It fails with
// ErrAlreadyExists when a dataset is already present at base.
func Create(ctx context.Context, store objectstore.Store, base string, schema *arrow.Schema, records []arrow.Record, opts Options) (*Dataset, error) {
	d := newDataset(store, base, opts)
	d.shared.commitMu.Lock()
	defer d.shared.commitMu.Unlock()

	exists, err := Exists(ctx, store, base)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("dataset %s: %w", base, contracts.ErrAlreadyExists)
	}

	m := &Manifest{Version: 0}
	withIDs, maxID := assignFieldIDs(schema, -1)
	if err := m.setSchema(withIDs); err != nil {
		return nil, err
	}
	m.MaxFieldID = maxID
	if len(records) > 0 {
		conformed, err := conformAll(records, withIDs)
		if err != nil {
			return nil, err
		}
		frags, err := d.writeFragments(ctx, m, conformed)
		releaseRecords(conformed)
		if err != nil {
			return nil, err
		}
		m.Fragments = frags
	}
	if _, err := d.publish(ctx, m, "Create"); err != nil {
		return nil, err
	}
	return d, nil
}

// Open returns a handle on an existing dataset or ErrNotFound.
func Open(ctx context.Context, store objectstore.Store, base string, opts Options) (*Dataset, error) {
	exists, err := Exists(ctx, store, base)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("dataset %s: %w", base, contracts.ErrNotFound)
	}
	return newDataset(store, base, opts), nil
}

// Drop deletes every object of the dataset at base.
func Drop(ctx context.Context, store objectstore.Store, base string) error {
	exists, err := Exists(ctx, store, base)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("dataset %s: %w", base, contracts.ErrNotFound)
	}
	if err := objectstore.DeletePrefix(ctx, store, base+"/"); err != nil {
		return fmt.Errorf("failed to delete dataset %s: %w", base, err)
	}
	forget(registryKey(store, base))
	return nil
}

// versions lists the versions present, ascending.
func (d *Dataset) versions(ctx context.Context) ([]int, error) {
	keys, err := d.store.List(ctx, d.key(versionsDir)+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	var out []int
	for _, k := range keys {
		if v, ok := parseManifestVersion(k); ok {
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out, nil
}

func (d *Dataset) loadManifest(ctx context.Context, version int) (*Manifest, error) {
	data, err := d.store.Get(ctx, d.key(manifestPath(version)))
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, fmt.Errorf("version %d: %w", version, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %d: %w", version, err)
	}
	return decodeManifest(data)
}

func (d *Dataset) latestManifest(ctx context.Context) (*Manifest, error) {
	vs, err := d.versions(ctx)
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return nil, fmt.Errorf("dataset %s has no versions: %w", d.base, contracts.ErrNotFound)
	}
	return d.loadManifest(ctx, vs[len(vs)-1])
}

// Latest returns a snapshot of the newest version.
func (d *Dataset) Latest(ctx context.Context) (*Snapshot, error) {
	m, err := d.latestManifest(ctx)
	if err != nil {
		return nil, err
	}
	return d.snapshot(m)
}

// Snapshot returns a snapshot of version, or ErrNotFound if it was never
// written or has been pruned.
func (d *Dataset) Snapshot(ctx context.Context, version int) (*Snapshot, error) {
	if version <= 0 {
		return nil, fmt.Errorf("version %d: %w", version, contracts.ErrNotFound)
	}
	m, err := d.loadManifest(ctx, version)
	if err != nil {
		return nil, err
	}
	return d.snapshot(m)
}

// MaxRowsPerFragment is the fragment size writes and compaction aim for.
func (d *Dataset) MaxRowsPerFragment() int { return d.opts.MaxRowsPerFragment }

// Pin protects version from cleanup until the returned func is called. It
// fails with ErrNotFound once cleanup has claimed the version.
func (d *Dataset) Pin(version int) (release func(), err error) {
	if !d.shared.pin(version) {
		return nil, fmt.Errorf("version %d was pruned: %w", version, contracts.ErrNotFound)
	}
	done := false
	return func() {
		if !done {
			done = true
			d.shared.unpin(version)
		}
	}, nil
}

// maxPinAttempts bounds how often LatestPinned reloads after losing a race
// with cleanup.
const maxPinAttempts = 8

// LatestPinned returns a snapshot of the newest version together with a pin
// on it. The manifest is read before the pin is taken, so a commit followed
// by a cleanup in between can prune it; the load is retried in that case.
func (d *Dataset) LatestPinned(ctx context.Context) (*Snapshot, func(), error) {
	var err error
	for attempt := 0; attempt < maxPinAttempts; attempt++ {
		var s *Snapshot
		s, err = d.Latest(ctx)
		if err == nil {
			var release func()
			if release, err = d.Pin(s.Version()); err == nil {
				return s, release, nil
			}
		}
		if !errors.Is(err, contracts.ErrNotFound) {
			return nil, nil, err
		}
	}
	return nil, nil, err
}

// SnapshotPinned is Snapshot plus a pin on the returned version.
func (d *Dataset) SnapshotPinned(ctx context.Context, version int) (*Snapshot, func(), error) {
	s, err := d.Snapshot(ctx, version)
	if err != nil {
		return nil, nil, err
	}
	release, err := d.Pin(version)
	if err != nil {
		return nil, nil, err
	}
	return s, release, nil
}

// Version describes one entry of the version history.
type Version struct {
	Version   int
	Timestamp time.Time
	Operation string
	Metadata  map[string]string
}

// Versions lists every version that has not been pruned, oldest first.
func (d *Dataset) Versions(ctx context.Context) ([]Version, error) {
	vs, err := d.versions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Version, 0, len(vs))
	for _, v := range vs {
		m, err := d.loadManifest(ctx, v)
		if errors.Is(err, contracts.ErrNotFound) {
			// Pruned between list and read.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Version{Version: m.Version, Timestamp: m.Timestamp, Operation: m.Operation, Metadata: m.Metadata})
	}
	return out, nil
}

// errNoChange lets a commit func report that it has nothing to publish.
var errNoChange = errors.New("no change")

// commit applies fn to a copy of the latest manifest and publishes the
// result as the next version. Nothing becomes visible if fn fails. When fn
// returns errNoChange the latest snapshot is returned unchanged.
func (d *Dataset) commit(ctx context.Context, op string, fn func(m *Manifest) error) (*Snapshot, error) {
	d.shared.commitMu.Lock()
	defer d.shared.commitMu.Unlock()

	latest, err := d.latestManifest(ctx)
	if err != nil {
		return nil, err
	}
	next := latest.clone()
	if err := fn(next); err != nil {
		if errors.Is(err, errNoChange) {
			return d.snapshot(latest)
		}
		return nil, err
	}
	return d.publish(ctx, next, op)
}

// publish writes m as version m.Version+1. The caller holds commitMu.
func (d *Dataset) publish(ctx context.Context, m *Manifest, op string) (*Snapshot, error) {
	m.Version++
	m.Timestamp = time.Now().UTC()
	m.Operation = op
	m.TransactionID = uuid.NewString()

	key := d.key(manifestPath(m.Version))
	exists, err := d.store.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("version %d was committed concurrently: %w", m.Version, contracts.ErrInvalidState)
	}
	data, err := encodeManifest(m)
	if err != nil {
		return nil, err
	}
	if err := d.store.Put(ctx, key, data); err != nil {
		return nil, fmt.Errorf("failed to write manifest %d: %w", m.Version, err)
	}
	return d.snapshot(m)
}

func (d *Dataset) snapshot(m *Manifest) (*Snapshot, error) {
	schema, err := m.ArrowSchema()
	if err != nil {
		return nil, err
	}
	return &Snapshot{ds: d, m: m, schema: schema}, nil
}

// Snapshot is an immutable view of one version.
type Snapshot struct {
	ds     *Dataset
	m      *Manifest
	schema *arrow.Schema
}

func (s *Snapshot) Version() int { return s.m.Version }

func (s *Snapshot) Timestamp() time.Time { return s.m.Timestamp }

// Schema returns the user-facing schema.
func (s *Snapshot) Schema() *arrow.Schema { return StripFieldIDs(s.schema) }

// Indices returns the index entries in creation order.
func (s *Snapshot) Indices() []IndexMeta {
	return append([]IndexMeta(nil), s.m.Indices...)
}

// Fragments returns the fragment list.
func (s *Snapshot) Fragments() []Fragment {
	return append([]Fragment(nil), s.m.Fragments...)
}
