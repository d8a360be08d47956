// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package store

import (
	"encoding/binary"
	"hash/crc32"
)

// flag bits for an index entry (§3.4).
const (
	flagCompressed uint32 = 1 << 0
	flagCBOR       uint32 = 1 << 1
)

// indexEntry mirrors the 32-byte on-disk layout exactly:
//
//	0  timestamp   (8 bytes, unix seconds, unsigned)
//	8  offset      (8 bytes, into data file)
//	16 length      (4 bytes, of frame bytes)
//	20 flags       (4 bytes)
//	24 data_crc    (4 bytes, CRC-32 of frame bytes)
//	28 index_crc   (4 bytes, CRC-32 of bytes [0,28) of this entry)
type indexEntry struct {
	Timestamp uint64
	Offset    uint64
	Length    uint32
	Flags     uint32
	DataCRC   uint32
	IndexCRC  uint32
}

func encodeIndexEntry(e indexEntry) [indexEntrySize]byte {
	var buf [indexEntrySize]byte
	binary.LittleEndian.PutUint64(buf[0:8], e.Timestamp)
	binary.LittleEndian.PutUint64(buf[8:16], e.Offset)
	binary.LittleEndian.PutUint32(buf[16:20], e.Length)
	binary.LittleEndian.PutUint32(buf[20:24], e.Flags)
	binary.LittleEndian.PutUint32(buf[24:28], e.DataCRC)
	e.IndexCRC = crc32.ChecksumIEEE(buf[0:28])
	binary.LittleEndian.PutUint32(buf[28:32], e.IndexCRC)
	return buf
}

// decodeIndexEntry parses a 32-byte record without validating its CRC;
// callers needing the validity check call validIndexCRC on the raw
// record.
func decodeIndexEntry(buf []byte) indexEntry {
	return indexEntry{
		Timestamp: binary.LittleEndian.Uint64(buf[0:8]),
		Offset:    binary.LittleEndian.Uint64(buf[8:16]),
		Length:    binary.LittleEndian.Uint32(buf[16:20]),
		Flags:     binary.LittleEndian.Uint32(buf[20:24]),
		DataCRC:   binary.LittleEndian.Uint32(buf[24:28]),
		IndexCRC:  binary.LittleEndian.Uint32(buf[28:32]),
	}
}

// validIndexCRC reports whether buf's trailing 4 bytes match the CRC-32
// of its first 28 bytes. This alone doesn't validate the referenced data
// bytes — that's a separate check against the data file.
func validIndexCRC(buf []byte) bool {
	if len(buf) != indexEntrySize {
		return false
	}
	want := binary.LittleEndian.Uint32(buf[28:32])
	return crc32.ChecksumIEEE(buf[0:28]) == want
}

func crc32Of(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}
