// Package extract defines the extraction contract between the crawl
// controller and the components that turn a page URL into listing records.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/romangod6/listing-harvester/internal/models"
)

// Kind tags the shape of an extraction result.
type Kind int

const (
	// KindEmpty is a missing payload or one with no listings.
	KindEmpty Kind = iota
	// KindMalformed is a payload that could not be read as page records.
	KindMalformed
	// KindValid is a well-formed payload with at least one listing.
	KindValid
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindMalformed:
		return "malformed"
	case KindValid:
		return "valid"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ErrEmpty marks an attempt that produced no usable listings. It is the only
// retryable extraction outcome.
var ErrEmpty = errors.New("extraction produced no listings")

var errUncountable = errors.New("extractor cannot count pages")

// Result is the normalized outcome of one extraction call.
type Result struct {
	Kind    Kind
	Records *models.PageRecords
	Info    models.ExecutionInfo
	// Reason explains a malformed payload.
	Reason string
}

// Empty reports whether the result should be retried.
func (r Result) Empty() bool {
	return r.Kind != KindValid
}

// Err returns ErrEmpty for results that carry no listings.
func (r Result) Err() error {
	if !r.Empty() {
		return nil
	}
	if r.Reason != "" {
		return fmt.Errorf("%w: %s", ErrEmpty, r.Reason)
	}
	return ErrEmpty
}

// FatalError is an extractor failure that retrying will not fix.
type FatalError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FatalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("extract %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Extractor turns a page URL into listing records.
type Extractor interface {
	Extract(ctx context.Context, pageURL string) (Result, error)
}

// PageCounter discovers how many pages a paginated source has.
type PageCounter interface {
	CountPages(ctx context.Context, rootURL string) (int, models.ExecutionInfo, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, pageURL string) (Result, error)

func (f ExtractorFunc) Extract(ctx context.Context, pageURL string) (Result, error) {
	return f(ctx, pageURL)
}

// Normalize classifies an untyped extractor payload. Typed page records pass
// through; raw maps, JSON bytes and strings are decoded, with legacy listing
// shapes migrated by the listing decoder.
func Normalize(payload interface{}) Result {
	switch p := payload.(type) {
	case nil:
		return Result{Kind: KindEmpty}
	case *models.PageRecords:
		return fromRecords(p)
	case models.PageRecords:
		return fromRecords(&p)
	case json.RawMessage:
		return decode([]byte(p))
	case []byte:
		return decode(p)
	case string:
		return decode([]byte(p))
	case map[string]interface{}:
		raw, err := json.Marshal(p)
		if err != nil {
			return Result{Kind: KindMalformed, Reason: err.Error()}
		}
		return decode(raw)
	default:
		return Result{Kind: KindMalformed, Reason: fmt.Sprintf("unsupported payload type %T", payload)}
	}
}

func fromRecords(p *models.PageRecords) Result {
	if p.Len() == 0 {
		return Result{Kind: KindEmpty, Records: p}
	}
	return Result{Kind: KindValid, Records: p}
}

func decode(raw []byte) Result {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Result{Kind: KindEmpty}
	}

	var records models.PageRecords
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return Result{Kind: KindMalformed, Reason: err.Error()}
	}
	return fromRecords(&records)
}
