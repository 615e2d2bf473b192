package archive

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

const s3Scheme = "s3"

// globMeta are the characters that turn a selection path into a glob.
const globMeta = "*?[{"

// ObjectLocator addresses one object, or a key prefix when used as an
// extraction target.
type ObjectLocator struct {
	Bucket    string
	Key       string
	VersionID string
}

func (l ObjectLocator) String() string {
	return fmt.Sprintf("s3://%s/%s", l.Bucket, l.Key)
}

// PatternKind tells how a SelectionPattern is resolved.
type PatternKind int

const (
	// PatternBucket selects every object in the bucket.
	PatternBucket PatternKind = iota
	// PatternObject selects one exact key.
	PatternObject
	// PatternPrefix selects every key under a prefix ending in '/'.
	PatternPrefix
	// PatternGlob selects keys matching a glob expression.
	PatternGlob
)

func (k PatternKind) String() string {
	switch k {
	case PatternBucket:
		return "bucket"
	case PatternObject:
		return "object"
	case PatternPrefix:
		return "prefix"
	case PatternGlob:
		return "glob"
	}
	return "unknown"
}

// SelectionPattern identifies zero or more objects in one bucket. Construct
// it with NewSelectionPattern, BucketPattern or ParseSelectionURL; the zero
// value is not usable.
type SelectionPattern struct {
	Bucket string
	Kind   PatternKind
	Expr   string

	matcher     glob.Glob
	listPrefix  string
	stripPrefix string
}

// BucketPattern selects the whole bucket.
func BucketPattern(bucket string) SelectionPattern {
	return SelectionPattern{Bucket: bucket, Kind: PatternBucket}
}

// NewSelectionPattern classifies expr as an exact key, a prefix (trailing
// '/') or a glob, and validates it. Invalid globs fail here, before any
// network call.
func NewSelectionPattern(bucket, expr string) (SelectionPattern, error) {
	if expr == "" || strings.HasPrefix(expr, "/") {
		return SelectionPattern{}, &InvalidFilterError{Filter: expr}
	}
	p := SelectionPattern{Bucket: bucket, Expr: expr}

	idx := strings.IndexAny(expr, globMeta)
	switch {
	case idx >= 0:
		g, err := glob.Compile(expr, '/')
		if err != nil {
			return SelectionPattern{}, &InvalidGlobError{Pattern: expr, Err: err}
		}
		p.Kind = PatternGlob
		p.matcher = g
		p.listPrefix = expr[:idx]
		p.stripPrefix = expr[:strings.LastIndex(p.listPrefix, "/")+1]
	case strings.HasSuffix(expr, "/"):
		p.Kind = PatternPrefix
		p.listPrefix = expr
		p.stripPrefix = expr
	default:
		p.Kind = PatternObject
	}
	return p, nil
}

// String renders the pattern back as an s3 URL.
func (p SelectionPattern) String() string {
	return fmt.Sprintf("s3://%s/%s", p.Bucket, p.Expr)
}

// ListPrefix is the literal prefix listed to resolve a prefix or glob.
func (p SelectionPattern) ListPrefix() string {
	return p.listPrefix
}

// Match reports whether key is selected by a prefix, glob or bucket pattern.
func (p SelectionPattern) Match(key string) bool {
	switch p.Kind {
	case PatternBucket:
		return true
	case PatternObject:
		return key == p.Expr
	case PatternPrefix:
		return strings.HasPrefix(key, p.Expr)
	case PatternGlob:
		return p.matcher.Match(key)
	}
	return false
}

// EntryPath is the relative tar path used for key. Prefix and glob patterns
// strip their literal directory, exact keys keep the final path component and
// bucket patterns keep the full key.
func (p SelectionPattern) EntryPath(key string) string {
	switch p.Kind {
	case PatternObject:
		return path.Base(key)
	case PatternPrefix, PatternGlob:
		return strings.TrimPrefix(key, p.stripPrefix)
	}
	return key
}

// ParseSelectionURL parses s3://bucket[/expr] into a SelectionPattern.
func ParseSelectionURL(raw string) (SelectionPattern, error) {
	bucket, key, err := splitS3URL(raw)
	if err != nil {
		return SelectionPattern{}, err
	}
	if key == "" {
		return BucketPattern(bucket), nil
	}
	return NewSelectionPattern(bucket, key)
}

// ParseObjectURL parses the URL of an archive object; a key is required and
// is used verbatim.
func ParseObjectURL(raw string) (ObjectLocator, error) {
	bucket, key, err := splitS3URL(raw)
	if err != nil {
		return ObjectLocator{}, err
	}
	if key == "" {
		return ObjectLocator{}, &ArchiveURLError{URL: raw}
	}
	return ObjectLocator{Bucket: bucket, Key: key}, nil
}

// ParseTargetURL parses an extraction target: a bucket and an optional key
// prefix. No trailing '/' is implied.
func ParseTargetURL(raw string) (ObjectLocator, error) {
	bucket, key, err := splitS3URL(raw)
	if err != nil {
		return ObjectLocator{}, err
	}
	return ObjectLocator{Bucket: bucket, Key: key}, nil
}

// splitS3URL is done by hand because '?' is a glob character here, not a
// query separator.
func splitS3URL(raw string) (bucket, key string, err error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || !strings.EqualFold(scheme, s3Scheme) {
		return "", "", &UnsupportedURLError{URL: raw}
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", &MissingBucketError{URL: raw}
	}
	return bucket, key, nil
}
