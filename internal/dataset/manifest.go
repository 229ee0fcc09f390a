// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package dataset

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/universalmind303/lancedb/internal/codec"
)

const (
	versionsDir  = "_versions"
	dataDir      = "data"
	deletionsDir = "_deletions"
	indicesDir   = "_indices"

	manifestSuffix = ".manifest"

	// fieldIDKey is the field metadata key carrying a column's stable id.
	fieldIDKey = "lance:field_id"
)

// Manifest describes one version of a dataset.
type Manifest struct {
	Version        int               `json:"version"`
	Timestamp      time.Time         `json:"timestamp"`
	Operation      string            `json:"operation"`
	TransactionID  string            `json:"transaction_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Schema         []byte            `json:"schema"`
	Fragments      []Fragment        `json:"fragments"`
	Indices        []IndexMeta       `json:"indices"`
	NextFragmentID uint32            `json:"next_fragment_id"`
	MaxFieldID     int               `json:"max_field_id"`

	schema *arrow.Schema
}

// Fragment is a horizontal slice of the table. Its columns may be spread
// over several data files, each holding a subset of the field ids.
type Fragment struct {
	ID           uint32        `json:"id"`
	Files        []DataFile    `json:"files"`
	PhysicalRows int64         `json:"physical_rows"`
	Deletion     *DeletionFile `json:"deletion,omitempty"`
}

type DataFile struct {
	Path     string `json:"path"`
	FieldIDs []int  `json:"field_ids"`
	Size     int64  `json:"size"`
}

type DeletionFile struct {
	Path       string `json:"path"`
	NumDeleted int64  `json:"num_deleted"`
	Size       int64  `json:"size"`
}

// IndexMeta records an index and the fragments it covers.
type IndexMeta struct {
	UUID      string            `json:"uuid"`
	Name      string            `json:"name"`
	Columns   []string          `json:"columns"`
	FieldID   int               `json:"field_id"`
	IndexType string            `json:"index_type"`
	Metric    string            `json:"metric,omitempty"`
	Fragments []uint32          `json:"fragments"`
	Config    map[string]string `json:"config,omitempty"`
	Size      int64             `json:"size"`
	CreatedAt time.Time         `json:"created_at"`
}

// LiveRows is the number of rows not deleted.
func (f Fragment) LiveRows() int64 {
	if f.Deletion == nil {
		return f.PhysicalRows
	}
	return f.PhysicalRows - f.Deletion.NumDeleted
}

// ArrowSchema decodes the schema, including field ids.
func (m *Manifest) ArrowSchema() (*arrow.Schema, error) {
	if m.schema != nil {
		return m.schema, nil
	}
	s, err := codec.DecodeSchema(m.Schema)
	if err != nil {
		return nil, fmt.Errorf("decode schema of version %d: %w", m.Version, err)
	}
	m.schema = s
	return s, nil
}

func (m *Manifest) setSchema(s *arrow.Schema) error {
	raw, err := codec.EncodeSchema(s)
	if err != nil {
		return err
	}
	m.Schema = raw
	m.schema = s
	return nil
}

// clone returns a deep enough copy for a commit to modify.
func (m *Manifest) clone() *Manifest {
	c := *m
	c.Fragments = make([]Fragment, len(m.Fragments))
	for i, f := range m.Fragments {
		f.Files = append([]DataFile(nil), f.Files...)
		if f.Deletion != nil {
			d := *f.Deletion
			f.Deletion = &d
		}
		c.Fragments[i] = f
	}
	c.Indices = make([]IndexMeta, len(m.Indices))
	for i, ix := range m.Indices {
		ix.Columns = append([]string(nil), ix.Columns...)
		ix.Fragments = append([]uint32(nil), ix.Fragments...)
		c.Indices[i] = ix
	}
	c.Metadata = nil
	return &c
}

// files lists every object the version references.
func (m *Manifest) files() []string {
	var out []string
	for _, f := range m.Fragments {
		for _, df := range f.Files {
			out = append(out, df.Path)
		}
		if f.Deletion != nil {
			out = append(out, f.Deletion.Path)
		}
	}
	for _, ix := range m.Indices {
		out = append(out, indexPath(ix.UUID))
	}
	return out
}

func (m *Manifest) fileSizes() map[string]int64 {
	sizes := map[string]int64{}
	for _, f := range m.Fragments {
		for _, df := range f.Files {
			sizes[df.Path] = df.Size
		}
		if f.Deletion != nil {
			sizes[f.Deletion.Path] = f.Deletion.Size
		}
	}
	for _, ix := range m.Indices {
		sizes[indexPath(ix.UUID)] = ix.Size
	}
	return sizes
}

func (m *Manifest) fragment(id uint32) (Fragment, bool) {
	for _, f := range m.Fragments {
		if f.ID == id {
			return f, true
		}
	}
	return Fragment{}, false
}

func encodeManifest(m *Manifest) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return codec.Compress(raw, codec.CompressionZstd)
}

func decodeManifest(data []byte) (*Manifest, error) {
	raw, err := codec.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &m, nil
}

func manifestPath(version int) string {
	return path.Join(versionsDir, strconv.Itoa(version)+manifestSuffix)
}

func indexPath(uuid string) string {
	return path.Join(indicesDir, uuid, "index.bin")
}

// parseManifestVersion extracts the version from a key under _versions/.
func parseManifestVersion(key string) (int, bool) {
	name := path.Base(key)
	if !strings.HasSuffix(name, manifestSuffix) {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSuffix(name, manifestSuffix))
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// FieldID returns the stable id stored on f, or -1.
func FieldID(f arrow.Field) int {
	if i := f.Metadata.FindKey(fieldIDKey); i >= 0 {
		if id, err := strconv.Atoi(f.Metadata.Values()[i]); err == nil {
			return id
		}
	}
	return -1
}

func withFieldID(f arrow.Field, id int) arrow.Field {
	keys := []string{fieldIDKey}
	values := []string{strconv.Itoa(id)}
	for i, k := range f.Metadata.Keys() {
		if k != fieldIDKey {
			keys = append(keys, k)
			values = append(values, f.Metadata.Values()[i])
		}
	}
	f.Metadata = arrow.NewMetadata(keys, values)
	return f
}

// assignFieldIDs gives every field of s an id, continuing from maxID.
func assignFieldIDs(s *arrow.Schema, maxID int) (*arrow.Schema, int) {
	fields := make([]arrow.Field, s.NumFields())
	for i, f := range s.Fields() {
		maxID++
		fields[i] = withFieldID(f, maxID)
	}
	md := s.Metadata()
	return arrow.NewSchema(fields, &md), maxID
}

// StripFieldIDs returns s without the internal field id metadata.
func StripFieldIDs(s *arrow.Schema) *arrow.Schema {
	fields := make([]arrow.Field, s.NumFields())
	for i, f := range s.Fields() {
		var keys, values []string
		for j, k := range f.Metadata.Keys() {
			if k != fieldIDKey {
				keys = append(keys, k)
				values = append(values, f.Metadata.Values()[j])
			}
		}
		f.Metadata = arrow.NewMetadata(keys, values)
		fields[i] = f
	}
	md := s.Metadata()
	return arrow.NewSchema(fields, &md)
}

func sortedIDs(ids map[uint32]bool) []uint32 {
	out := make([]uint32, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
