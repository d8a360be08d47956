// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package errors

import (
	stdliberrors "errors"
	"fmt"
)

var (
	ErrUnsupported = stdliberrors.ErrUnsupported

	As     = stdliberrors.As
	Is     = stdliberrors.Is
	Join   = stdliberrors.Join
	New    = stdliberrors.New
	Unwrap = stdliberrors.Unwrap
)

func NewRetryable(text string) RetryableError {
	return &retryableError{text}
}

func Retryable(err error) bool {
	var rerr RetryableError
	return As(err, &rerr)
}

type RetryableError interface {
	error
	Retryable()
}

type retryableError struct {
	text string
}

func (r *retryableError) Error() string {
	return r.text
}

func (r *retryableError) Retryable() {}

// InvalidFileFormatError reports that a known proc/cgroup file did not match
// the grammar its collector expects. The subtree the file belongs to is
// dropped; collection otherwise continues.
type InvalidFileFormatError struct {
	Path   string
	Reason string
}

func NewInvalidFileFormat(path, reason string) *InvalidFileFormatError {
	return &InvalidFileFormatError{Path: path, Reason: reason}
}

func (e *InvalidFileFormatError) Error() string {
	return fmt.Sprintf("invalid file format %s: %s", e.Path, e.Reason)
}

// ParseError reports a single field that failed a numeric or grammar
// conversion. The field is skipped; the surrounding record is kept.
type ParseError struct {
	Line  int
	Item  string
	Type  string
	Path  string
	Cause error
}

func NewParseError(line int, item, typ, path string, cause error) *ParseError {
	return &ParseError{Line: line, Item: item, Type: typ, Path: path, Cause: cause}
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %s:%d item=%q type=%s: %v", e.Path, e.Line, e.Item, e.Type, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// UnexpectedLineError reports a line a parser did not recognize at all.
type UnexpectedLineError struct {
	Path string
	Line string
}

func NewUnexpectedLine(path, line string) *UnexpectedLineError {
	return &UnexpectedLineError{Path: path, Line: line}
}

func (e *UnexpectedLineError) Error() string {
	return fmt.Sprintf("unexpected line in %s: %q", e.Path, e.Line)
}

// CRCKind distinguishes which half of a store record failed a CRC check.
type CRCKind string

const (
	CRCKindIndexEntry CRCKind = "index_entry"
	CRCKindData       CRCKind = "data"
)

// CRCMismatchError reports a single skipped, corrupt store record. The
// cursor treats this as recoverable: it logs once and moves past the entry.
type CRCMismatchError struct {
	Kind   CRCKind
	Shard  int64
	Offset int64
}

func NewCRCMismatch(kind CRCKind, shard, offset int64) *CRCMismatchError {
	return &CRCMismatchError{Kind: kind, Shard: shard, Offset: offset}
}

func (e *CRCMismatchError) Error() string {
	return fmt.Sprintf("crc mismatch (%s) in shard %011d at offset %d", e.Kind, e.Shard, e.Offset)
}

// LockContentionError reports that a store directory is already held open
// for writing by another process. This is fatal to the caller attempting to
// open a Writer.
type LockContentionError struct {
	Dir string
}

func NewLockContention(dir string) *LockContentionError {
	return &LockContentionError{Dir: dir}
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("store directory %s is locked by another writer", e.Dir)
}
