package raster

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so batch callers can aggregate outcomes without
// inspecting error strings.
type Kind int

const (
	KindUnknown Kind = iota
	// SourceUnreadable: file missing, truncated header or not a supported
	// raster container. Fatal for that raster only.
	SourceUnreadable
	// DecodeFailure: a band read failed (corrupt or truncated block data).
	DecodeFailure
	// TileWriteFailure: one tile could not be encoded or persisted.
	TileWriteFailure
	// GeoMergeInfeasible: transforms are missing or inconsistent across
	// mosaic inputs. Triggers the positional fallback.
	GeoMergeInfeasible
	// MergeWriteFailure: the final mosaic could not be written.
	MergeWriteFailure
)

func (k Kind) String() string {
	switch k {
	case SourceUnreadable:
		return "source unreadable"
	case DecodeFailure:
		return "decode failure"
	case TileWriteFailure:
		return "tile write failure"
	case GeoMergeInfeasible:
		return "geo-merge infeasible"
	case MergeWriteFailure:
		return "merge write failure"
	default:
		return "unknown"
	}
}

// Error carries a Kind and the file it concerns.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error whose message is formatted like fmt.Errorf,
// so %w still wraps the cause.
func Errorf(kind Kind, path, format string, args ...any) error {
	return &Error{Kind: kind, Path: path, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}
