// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

package codec

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// EncodeStream writes records as an Arrow IPC stream. All records must share schema.
func EncodeStream(schema *arrow.Schema, records []arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(memory.DefaultAllocator))
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			w.Close()
			return nil, fmt.Errorf("failed to write record: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close IPC writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeStream reads every record of an Arrow IPC stream.
func DecodeStream(data []byte) (*arrow.Schema, []arrow.Record, error) {
	r, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open IPC stream: %w", err)
	}
	defer r.Release()

	var records []arrow.Record
	for r.Next() {
		rec := r.Record()
		rec.Retain()
		records = append(records, rec)
	}
	if err := r.Err(); err != nil {
		for _, rec := range records {
			rec.Release()
		}
		return nil, nil, fmt.Errorf("failed to read IPC stream: %w", err)
	}
	return r.Schema(), records, nil
}

// EncodeSchema serializes a schema, including its metadata, as an empty IPC stream.
func EncodeSchema(schema *arrow.Schema) ([]byte, error) {
	return EncodeStream(schema, nil)
}

// DecodeSchema reads a schema written by EncodeSchema.
func DecodeSchema(data []byte) (*arrow.Schema, error) {
	schema, records, err := DecodeStream(data)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		rec.Release()
	}
	return schema, nil
}

// EncodeFile encodes records and frames the result with compression c.
func EncodeFile(schema *arrow.Schema, records []arrow.Record, c Compression) ([]byte, error) {
	raw, err := EncodeStream(schema, records)
	if err != nil {
		return nil, err
	}
	return Compress(raw, c)
}

// DecodeFile reverses EncodeFile.
func DecodeFile(data []byte) (*arrow.Schema, []arrow.Record, error) {
	raw, err := Decompress(data)
	if err != nil {
		return nil, nil, err
	}
	return DecodeStream(raw)
}
