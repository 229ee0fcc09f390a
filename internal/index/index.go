// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: Copyright The LanceDB Authors

// Package index implements the secondary indices a table can carry: an IVF
// vector index, BTree, Bitmap and LabelList scalar indices and a full-text
// index. Indices map row addresses (fragment id << 32 | offset) to values
// and are persisted as Arrow IPC blobs.
package index

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/universalmind303/lancedb/internal/arrowutil"
	"github.com/universalmind303/lancedb/internal/codec"
)

// Kind groups index types by the query shape they serve.
type Kind string

const (
	KindVector    Kind = "vector"
	KindBTree     Kind = "btree"
	KindBitmap    Kind = "bitmap"
	KindLabelList Kind = "label_list"
	KindFTS       Kind = "fts"
)

var ErrCorruptIndex = errors.New("corrupt index")

// Index is the behaviour shared by every index kind.
type Index interface {
	Kind() Kind
	// Len is the number of indexed rows.
	Len() int
	// Retain drops entries whose address keep rejects and reports how many were dropped.
	Retain(keep func(addr uint64) bool) int
	Encode() ([]byte, error)
}

// Decode restores an index written by Index.Encode.
func Decode(kind Kind, data []byte) (Index, error) {
	var (
		ix  Index
		err error
	)
	switch kind {
	case KindVector:
		ix, err = unwrap(DecodeIVF(data))
	case KindBTree:
		ix, err = unwrap(DecodeBTree(data))
	case KindBitmap, KindLabelList:
		ix, err = unwrap(DecodeBitmap(data))
	case KindFTS:
		ix, err = unwrap(DecodeFTS(data))
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrCorruptIndex, kind)
	}
	if err != nil {
		return nil, err
	}
	return ix, nil
}

func unwrap[T Index](ix T, err error) (Index, error) {
	if err != nil {
		return nil, err
	}
	return ix, nil
}

// FragmentOf extracts the fragment id from a row address.
func FragmentOf(addr uint64) uint32 {
	return uint32(addr >> 32)
}

// RowAddress composes a row address.
func RowAddress(fragment uint32, offset uint32) uint64 {
	return uint64(fragment)<<32 | uint64(offset)
}

// encodeSections concatenates IPC streams, each prefixed by its length.
func encodeSections(records ...arrow.Record) ([]byte, error) {
	var buf bytes.Buffer
	for _, rec := range records {
		data, err := codec.EncodeStream(rec.Schema(), []arrow.Record{rec})
		if err != nil {
			return nil, err
		}
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(data)))
		buf.Write(n[:])
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// decodeSections reads want sections written by encodeSections, each
// concatenated into a single record.
func decodeSections(data []byte, want int) ([]arrow.Record, error) {
	out := make([]arrow.Record, 0, want)
	for i := 0; i < want; i++ {
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: truncated section header", ErrCorruptIndex)
		}
		n := int(binary.LittleEndian.Uint32(data))
		data = data[4:]
		if len(data) < n {
			return nil, fmt.Errorf("%w: truncated section", ErrCorruptIndex)
		}
		schema, recs, err := codec.DecodeStream(data[:n])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
		}
		data = data[n:]
		rec, err := arrowutil.Concat(schema, recs)
		for _, r := range recs {
			r.Release()
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func metadataValue(md arrow.Metadata, key string) string {
	if i := md.FindKey(key); i >= 0 {
		return md.Values()[i]
	}
	return ""
}
