package decode

import (
	"errors"
	"fmt"
)

// CountMismatchError reports a tag list whose length does not match the
// call's token stream (words plus turn tokens). It is fatal for the call:
// truncating or padding would silently misalign every following segment.
type CountMismatchError struct {
	Expected int // token stream length
	Got      int // tags supplied
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("mismatched word and tag counts: %d stream tokens, %d tags", e.Expected, e.Got)
}

// UnknownTagError reports a tag that is not part of the selected
// convention's grammar, naming the offending token and its position in the
// tag stream.
type UnknownTagError struct {
	Token    string
	Position int
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("unknown tag %q at position %d", e.Token, e.Position)
}

// DanglingSegmentError reports a joint-coding run that was never closed by
// an act-carrying tag before the end of the call. The words cannot be
// dropped silently, so the whole call fails.
type DanglingSegmentError struct {
	Speaker  string
	Position int // stream position of the run's first word
}

func (e *DanglingSegmentError) Error() string {
	return fmt.Sprintf("dangling open segment for speaker %s starting at position %d", e.Speaker, e.Position)
}

// Failure reason kinds, used for metrics labels and failure rows.
const (
	KindCountMismatch   = "count_mismatch"
	KindUnknownTag      = "unknown_tag"
	KindDanglingSegment = "dangling_segment"
	KindOther           = "other"
)

// Kind classifies a decode error into one of the failure reason kinds.
func Kind(err error) string {
	var cm *CountMismatchError
	var ut *UnknownTagError
	var ds *DanglingSegmentError
	switch {
	case errors.As(err, &cm):
		return KindCountMismatch
	case errors.As(err, &ut):
		return KindUnknownTag
	case errors.As(err, &ds):
		return KindDanglingSegment
	default:
		return KindOther
	}
}
