package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andresuchdata/s3tar/internal/storage"
)

// ResolvedObject is one selected object with the metadata needed to write
// its tar header.
type ResolvedObject struct {
	ObjectLocator
	Path         string
	Size         int64
	LastModified time.Time
}

// IsDir reports whether the object is a directory marker.
func (o ResolvedObject) IsDir() bool {
	return strings.HasSuffix(o.Key, "/") && o.Size == 0
}

// Selector turns selection patterns into an ordered list of objects using
// read-only store calls.
type Selector struct {
	store storage.ObjectStore
	opts  Options
}

// NewSelector creates a Selector over store.
func NewSelector(store storage.ObjectStore, opts Options) *Selector {
	return &Selector{store: store, opts: opts.withDefaults()}
}

type patternResult struct {
	objects []ResolvedObject
	// cause explains an empty result when the pattern kind has a specific
	// not-found error.
	cause error
}

// Resolve evaluates patterns in order. Objects keep the order of the first
// pattern that matched them, and within a pattern the listing order.
func (s *Selector) Resolve(ctx context.Context, patterns []SelectionPattern) ([]ResolvedObject, error) {
	if len(patterns) == 0 {
		return nil, ErrNoSelectors
	}

	versioned, err := s.checkBuckets(ctx, patterns)
	if err != nil {
		return nil, err
	}

	results := make([]patternResult, len(patterns))
	total := 0
	for i, p := range patterns {
		res, err := s.resolveOne(ctx, p, versioned[p.Bucket])
		if err != nil {
			return nil, err
		}
		results[i] = res
		total += len(res.objects)
	}

	if total == 0 {
		if len(patterns) == 1 && results[0].cause != nil {
			return nil, results[0].cause
		}
		for _, res := range results {
			if res.cause != nil {
				return nil, fmt.Errorf("%w: %w", ErrNoInputs, res.cause)
			}
		}
		return nil, ErrNoInputs
	}

	seen := make(map[ObjectLocator]bool, total)
	selection := make([]ResolvedObject, 0, total)
	var bytes int64
	for i, res := range results {
		if len(res.objects) == 0 {
			if !s.opts.AllowUnmatchedPatterns {
				return nil, &SelectorMatchesNoObjectsError{Pattern: patterns[i].String(), Err: res.cause}
			}
			s.opts.Hook.OnEvent(Event{
				Kind:    EventPatternUnmatched,
				Bucket:  patterns[i].Bucket,
				Pattern: patterns[i].String(),
				Err:     res.cause,
			})
			continue
		}
		for _, obj := range res.objects {
			id := ObjectLocator{Bucket: obj.Bucket, Key: obj.Key}
			if seen[id] {
				continue
			}
			seen[id] = true
			selection = append(selection, obj)
			bytes += obj.Size
		}
	}

	s.opts.Hook.OnEvent(Event{
		Kind:      EventSelectionResolved,
		Operation: OperationCreate,
		Count:     len(selection),
		Bytes:     bytes,
	})
	return selection, nil
}

// checkBuckets checks each distinct bucket once and records whether it is
// versioned.
func (s *Selector) checkBuckets(ctx context.Context, patterns []SelectionPattern) (map[string]bool, error) {
	versioned := make(map[string]bool)
	for _, p := range patterns {
		if _, ok := versioned[p.Bucket]; ok {
			continue
		}
		if err := s.store.HeadBucket(ctx, p.Bucket); err != nil {
			return nil, &BucketAccessError{Bucket: p.Bucket, Err: err}
		}
		enabled, err := s.store.BucketVersioning(ctx, p.Bucket)
		if err != nil {
			return nil, &StoreError{Op: OpBucketVersioning, Bucket: p.Bucket, Err: err}
		}
		versioned[p.Bucket] = enabled
	}
	return versioned, nil
}

func (s *Selector) resolveOne(ctx context.Context, p SelectionPattern, versioned bool) (patternResult, error) {
	if p.Kind == PatternObject {
		info, err := s.store.HeadObject(ctx, p.Bucket, p.Expr, "")
		if storage.IsNotFound(err) {
			return patternResult{cause: &ObjectNotFoundError{Bucket: p.Bucket, Key: p.Expr}}, nil
		}
		if err != nil {
			return patternResult{}, &StoreError{Op: OpHeadObject, Bucket: p.Bucket, Key: p.Expr, Err: err}
		}
		obj := s.resolved(p, info)
		if versioned {
			obj.VersionID = info.VersionID
		}
		return patternResult{objects: []ResolvedObject{obj}}, nil
	}

	var res patternResult
	token := ""
	for {
		page, err := s.store.ListObjects(ctx, p.Bucket, p.ListPrefix(), token)
		if err != nil {
			return patternResult{}, &StoreError{Op: OpListObjects, Bucket: p.Bucket, Key: p.ListPrefix(), Err: err}
		}
		for _, info := range page.Objects {
			if !p.Match(info.Key) {
				continue
			}
			obj := s.resolved(p, info)
			// The prefix's own directory marker has no relative path.
			if obj.Path == "" {
				continue
			}
			res.objects = append(res.objects, obj)
		}
		if !page.Truncated || page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	if len(res.objects) == 0 && p.Kind == PatternPrefix {
		res.cause = &PrefixNotFoundError{Bucket: p.Bucket, Prefix: p.Expr}
	}
	return res, nil
}

func (s *Selector) resolved(p SelectionPattern, info storage.ObjectInfo) ResolvedObject {
	return ResolvedObject{
		ObjectLocator: ObjectLocator{Bucket: p.Bucket, Key: info.Key},
		Path:          p.EntryPath(info.Key),
		Size:          info.Size,
		LastModified:  info.LastModified,
	}
}
