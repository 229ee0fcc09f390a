// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

// Package objectstore provides the flat key/value object storage the
// dataset engine writes manifests, data files, deletion files and indices to.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Store is a flat object store. Keys are slash separated and relative to the
// store root. Put must be atomic: readers never observe a partial object.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// List returns every key under prefix, recursively, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// ListPrefixes returns the immediate "directories" under prefix, each
	// ending in a slash.
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)
	// URI identifies the store root; two stores with the same URI address
	// the same objects.
	URI() string
}

// Options configures stores created by Open.
type Options struct {
	// Local
	CreateDirIfNotExists bool
	SyncWrites           bool

	// S3 and S3-compatible
	Region               string
	Endpoint             string
	AccessKeyID          string
	SecretAccessKey      string
	SessionToken         string
	Profile              string
	ForcePathStyle       bool
	AnonymousAccess      bool
	UseSSL               bool
	ServerSideEncryption string
	SSEKMSKeyID          string
	StorageClass         string
	MaxRetries           int
}

// Open resolves a database URI to a store.
//
//	memory://name          process-wide in-memory store
//	file:///path, /path    local filesystem
//	s3://bucket/prefix     AWS S3, or MinIO when Options.Endpoint is set
func Open(ctx context.Context, uri string, opts Options) (Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("empty database uri")
	}
	if !strings.Contains(uri, "://") {
		return NewLocalStore(uri, opts)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse uri %q: %w", uri, err)
	}
	switch u.Scheme {
	case "memory":
		return SharedMemoryStore(u.Host + u.Path), nil
	case "file":
		return NewLocalStore(u.Path, opts)
	case "s3", "s3a":
		prefix := strings.TrimPrefix(u.Path, "/")
		if opts.Endpoint != "" {
			return NewMinioStore(u.Host, prefix, opts)
		}
		return NewS3Store(ctx, u.Host, prefix, opts)
	default:
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// ErrUnsupportedScheme is returned by Open for URI schemes without a store.
var ErrUnsupportedScheme = errors.New("unsupported storage scheme")

// DeletePrefix removes every key under prefix.
func DeletePrefix(ctx context.Context, s Store, prefix string) error {
	if d, ok := s.(interface {
		DeleteDir(ctx context.Context, prefix string) error
	}); ok {
		return d.DeleteDir(ctx, prefix)
	}
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			return s.Delete(gctx, key)
		})
	}
	return g.Wait()
}

// ModTime reports when key was last written. ok is false when the store does
// not track modification times.
func ModTime(ctx context.Context, s Store, key string) (t time.Time, ok bool, err error) {
	m, ok := s.(interface {
		ModTime(ctx context.Context, key string) (time.Time, error)
	})
	if !ok {
		return time.Time{}, false, nil
	}
	t, err = m.ModTime(ctx, key)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// immediatePrefixes derives ListPrefixes output from a flat key listing.
func immediatePrefixes(keys []string, prefix string) []string {
	seen := make(map[string]struct{})
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			seen[prefix+rest[:i+1]] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}
