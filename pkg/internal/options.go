// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package internal

import (
	"fmt"
	"time"

	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/universalmind303/lancedb/internal/codec"
	"github.com/universalmind303/lancedb/internal/dataset"
	"github.com/universalmind303/lancedb/internal/logging"
	"github.com/universalmind303/lancedb/internal/objectstore"
	"github.com/universalmind303/lancedb/pkg/contracts"
)

var memoryPool = memory.DefaultAllocator

// storeOptions maps the public storage options onto the object store.
func storeOptions(options *contracts.ConnectionOptions) (objectstore.Options, error) {
	opts := objectstore.Options{CreateDirIfNotExists: true}
	if options == nil {
		return opts, nil
	}
	if options.Region != nil {
		opts.Region = *options.Region
	}
	so := options.StorageOptions
	if so == nil {
		return opts, nil
	}
	if so.AzureConfig != nil || so.GCSConfig != nil {
		return opts, fmt.Errorf("azure and gcs storage: %w", contracts.ErrUnsupported)
	}
	if so.MaxRetries != nil {
		opts.MaxRetries = *so.MaxRetries
	}
	if so.AllowHTTP != nil {
		opts.UseSSL = !*so.AllowHTTP
	}
	if lc := so.LocalConfig; lc != nil {
		if lc.CreateDirIfNotExists != nil {
			opts.CreateDirIfNotExists = *lc.CreateDirIfNotExists
		}
		if lc.SyncWrites != nil {
			opts.SyncWrites = *lc.SyncWrites
		}
	}
	if s3 := so.S3Config; s3 != nil {
		opts.AccessKeyID = deref(s3.AccessKeyID)
		opts.SecretAccessKey = deref(s3.SecretAccessKey)
		opts.SessionToken = deref(s3.SessionToken)
		if s3.Region != nil {
			opts.Region = *s3.Region
		}
		opts.Endpoint = deref(s3.Endpoint)
		opts.Profile = deref(s3.Profile)
		opts.ServerSideEncryption = deref(s3.ServerSideEncrypt)
		opts.SSEKMSKeyID = deref(s3.SSEKMSKeyID)
		opts.StorageClass = deref(s3.StorageClass)
		if s3.ForcePathStyle != nil {
			opts.ForcePathStyle = *s3.ForcePathStyle
		}
		if s3.AnonymousAccess != nil {
			opts.AnonymousAccess = *s3.AnonymousAccess
		}
		if s3.UseSSL != nil {
			opts.UseSSL = *s3.UseSSL
		}
	}
	return opts, nil
}

// datasetOptions maps the public connection options onto dataset handles.
func datasetOptions(options *contracts.ConnectionOptions, log *logging.Logger) (dataset.Options, error) {
	opts := dataset.Options{Compression: codec.CompressionZstd, Logger: log}
	if options == nil {
		return opts, nil
	}
	if options.DataFileCompression != nil {
		c, err := codec.ParseCompression(*options.DataFileCompression)
		if err != nil {
			return opts, fmt.Errorf("data file compression: %v: %w", err, contracts.ErrConfiguration)
		}
		opts.Compression = c
	}
	if options.FragmentCacheSize != nil {
		if *options.FragmentCacheSize < 0 {
			return opts, fmt.Errorf("fragment cache size must not be negative: %w", contracts.ErrConfiguration)
		}
		opts.CacheSize = *options.FragmentCacheSize
	}
	return opts, nil
}

// readConsistency converts the interval in seconds; nil means a handle only
// observes its own writes.
func readConsistency(options *contracts.ConnectionOptions) (*time.Duration, error) {
	if options == nil || options.ReadConsistencyInterval == nil {
		return nil, nil
	}
	secs := *options.ReadConsistencyInterval
	if secs < 0 {
		return nil, fmt.Errorf("read consistency interval must not be negative: %w", contracts.ErrConfiguration)
	}
	d := time.Duration(secs) * time.Second
	return &d, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
