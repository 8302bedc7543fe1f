package decode

import "github.com/voxlab/actseg/internal/dialog"

// Encode renders a call back into a flat tag sequence in the given
// convention, aligned to the call's token stream (turn tokens tagged with
// the no-act marker). Decoding the result with the same options reproduces
// the call's segments exactly, continuation flags included.
func Encode(call dialog.Call, opts Options) []string {
	var tags []string
	for i, seg := range call {
		if i > 0 && call[i-1].Speaker != seg.Speaker {
			tags = append(tags, noActTag)
		}
		if opts.Convention == JointCoding {
			tags = append(tags, encodeJointSegment(call, i)...)
		} else {
			tags = append(tags, encodeClassicSegment(seg)...)
		}
	}
	return tags
}

func encodeClassicSegment(seg dialog.FunctionalSegment) []string {
	tags := make([]string, 0, len(seg.Words))
	// A continuation opens with an inside tag so the decoder links it back
	// to the interrupted segment instead of starting an independent one.
	first := beginPrefix + seg.DialogAct
	if seg.IsContinuation {
		first = insidePrefix + seg.DialogAct
	}
	tags = append(tags, first)
	for range seg.Words[1:] {
		tags = append(tags, insidePrefix+seg.DialogAct)
	}
	return tags
}

func encodeJointSegment(call dialog.Call, i int) []string {
	seg := call[i]
	tags := make([]string, 0, len(seg.Words))
	for range seg.Words[:len(seg.Words)-1] {
		tags = append(tags, insidePrefix)
	}
	if resumedLater(call, i) {
		// The chain stays open across the interjection; the final segment
		// of the chain closes it for everyone.
		tags = append(tags, insidePrefix)
	} else {
		tags = append(tags, seg.DialogAct)
	}
	return tags
}

// resumedLater reports whether segment i is picked up by a continuation:
// the same speaker's next segment carries the same act and the continuation
// flag.
func resumedLater(call dialog.Call, i int) bool {
	seg := call[i]
	for _, next := range call[i+1:] {
		if next.Speaker != seg.Speaker {
			continue
		}
		return next.IsContinuation && next.DialogAct == seg.DialogAct
	}
	return false
}
