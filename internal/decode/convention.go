// Package decode converts flat per-token tag sequences produced by a
// sequence-labeling model back into labeled, speaker-attributed functional
// segments. It supports two tagging conventions (classic boundary/label tags
// and joint coding) and reconstructs whole calls against their original
// turn layout.
package decode

import "fmt"

// Convention selects the tag grammar the upstream model was trained with.
type Convention int

const (
	// Classic encodes boundaries and acts separately: B-<act> begins a
	// segment, I-<act> continues one, O is the no-act marker.
	Classic Convention = iota

	// JointCoding fuses boundary and act information into single tags:
	// "I-" continues the open run, a tag carrying an act closes the run,
	// a bare act with no open run is a one-word segment.
	JointCoding
)

func (c Convention) String() string {
	switch c {
	case Classic:
		return "classic"
	case JointCoding:
		return "joint_coding"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// ParseConvention maps a configuration string to a Convention.
func ParseConvention(s string) (Convention, error) {
	switch s {
	case "classic":
		return Classic, nil
	case "joint_coding":
		return JointCoding, nil
	default:
		return Classic, fmt.Errorf("unknown convention %q", s)
	}
}

// LabelResolution controls how the classic convention resolves conflicting
// act labels inside one contiguous run. It has no effect on joint coding.
type LabelResolution int

const (
	// FromBegin freezes the act at the segment's first tag; mismatched
	// I-<other> tags continue the segment and their act is ignored. This
	// tolerates per-token label noise and is the default.
	FromBegin LabelResolution = iota

	// PerTokenBoundary starts a new segment on any act change, even
	// between consecutive I-* tags.
	PerTokenBoundary
)

func (r LabelResolution) String() string {
	switch r {
	case FromBegin:
		return "from_begin"
	case PerTokenBoundary:
		return "per_token_boundary"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// ParseLabelResolution maps a configuration string to a LabelResolution.
func ParseLabelResolution(s string) (LabelResolution, error) {
	switch s {
	case "from_begin":
		return FromBegin, nil
	case "per_token_boundary":
		return PerTokenBoundary, nil
	default:
		return FromBegin, fmt.Errorf("unknown label resolution %q", s)
	}
}

// Options configures a decode pass. The zero value selects the tolerant
// defaults: classic convention with from_begin label resolution and no
// vocabulary check.
type Options struct {
	Convention      Convention
	LabelResolution LabelResolution

	// Labels, when non-empty, restricts decoded acts to the model's known
	// vocabulary; a tag carrying any other act is an UnknownTagError. The
	// no-act marker is always accepted.
	Labels map[string]struct{}
}

const (
	noActTag     = "O"
	beginPrefix  = "B-"
	insidePrefix = "I-"
)
