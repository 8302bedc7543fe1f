package decode

// span is a provisional segment: a contiguous run of one channel's words
// with a resolved act and continuation flag. Spans are collected in stream
// order of their first word.
type span struct {
	words        []string
	act          string
	continuation bool
	channel      string // speaker key supplied by the driver
	start        int    // stream position of the first word
}

// tagDecoder is the segment-level state machine. The reassembler drives it
// one token at a time and announces every turn boundary, so the segment and
// turn state machines compose without sharing flags.
type tagDecoder interface {
	// word consumes one real word and its tag. pos is the position in the
	// full token stream (turn tokens included), channel the speaker of the
	// enclosing turn.
	word(pos int, w, tag, channel string) error

	// boundary announces the end of channel's turn. The tag aligned to the
	// turn token itself is consumed by the driver and never reaches the
	// decoder.
	boundary(channel string)

	// finish closes remaining state and returns all spans in stream order.
	finish() ([]*span, error)
}

func newTagDecoder(opts Options) tagDecoder {
	if opts.Convention == JointCoding {
		return &jointDecoder{labels: opts.Labels, pending: make(map[string][]*span)}
	}
	return &classicDecoder{
		resolution: opts.LabelResolution,
		labels:     opts.Labels,
		resume:     make(map[string]string),
	}
}

// classicDecoder handles B-<act> / I-<act> / O tags. It does not require
// well-formed BIO: an I-* with no open segment, or with a changed act under
// per_token_boundary, is an implicit begin.
type classicDecoder struct {
	resolution LabelResolution
	labels     map[string]struct{}

	spans       []*span
	cur         *span
	resume      map[string]string // channel -> act open at its last turn boundary
	atTurnStart bool
	started     bool
}

func (d *classicDecoder) word(pos int, w, tag, channel string) error {
	if !d.started {
		d.started = true
		d.atTurnStart = true
	}
	atStart := d.atTurnStart
	d.atTurnStart = false

	var act string
	begin := false
	switch {
	case tag == noActTag:
		// The no-act marker behaves like I-O: absorbed by an open segment
		// under from_begin, a new "O"-labeled segment otherwise.
		act = noActTag
	case len(tag) > len(beginPrefix) && tag[:len(beginPrefix)] == beginPrefix:
		act = tag[len(beginPrefix):]
		begin = true
	case len(tag) > len(insidePrefix) && tag[:len(insidePrefix)] == insidePrefix:
		act = tag[len(insidePrefix):]
	default:
		return &UnknownTagError{Token: tag, Position: pos}
	}
	if err := d.checkAct(act, tag, pos); err != nil {
		return err
	}

	// Cross-turn resumption: the previous turn of this channel ended with an
	// open segment of the same act, and this turn picks it up with an
	// inside tag. Eligibility only holds for the turn's first tag.
	resumed := false
	if atStart {
		if !begin && d.resume[channel] == act {
			resumed = true
		}
		delete(d.resume, channel)
	}

	switch {
	case begin:
		d.close()
		d.open(pos, w, act, channel, false)
	case d.cur == nil:
		d.open(pos, w, act, channel, resumed)
	case act == d.cur.act:
		d.cur.words = append(d.cur.words, w)
	case d.resolution == FromBegin:
		// Act frozen at the segment's first tag; the mismatch is treated
		// as per-token label noise.
		d.cur.words = append(d.cur.words, w)
	default:
		d.close()
		d.open(pos, w, act, channel, false)
	}
	return nil
}

func (d *classicDecoder) boundary(channel string) {
	if d.cur != nil {
		d.resume[channel] = d.cur.act
		d.close()
	}
	d.atTurnStart = true
}

func (d *classicDecoder) finish() ([]*span, error) {
	d.close()
	return d.spans, nil
}

func (d *classicDecoder) open(pos int, w, act, channel string, continuation bool) {
	d.cur = &span{
		words:        []string{w},
		act:          act,
		continuation: continuation,
		channel:      channel,
		start:        pos,
	}
}

func (d *classicDecoder) close() {
	if d.cur != nil {
		d.spans = append(d.spans, d.cur)
		d.cur = nil
	}
}

func (d *classicDecoder) checkAct(act, tag string, pos int) error {
	if len(d.labels) == 0 || act == noActTag {
		return nil
	}
	if _, ok := d.labels[act]; !ok {
		return &UnknownTagError{Token: tag, Position: pos}
	}
	return nil
}

// jointDecoder handles joint-coding tags: bare "I-" (and its no-op alias
// "O") accumulates words into an open run; a tag carrying an act closes the
// run, assigning the act to every accumulated word.
//
// A run still open at a turn boundary is suspended on its speaker's channel:
// its words are emitted as a placeholder span that stays unresolved until
// the same speaker's next close supplies the act, at which point every
// post-boundary portion of the chain is flagged as a continuation.
type jointDecoder struct {
	labels map[string]struct{}

	spans   []*span
	cur     *span
	pending map[string][]*span // channel -> suspended unresolved spans, in order
}

func (d *jointDecoder) word(pos int, w, tag, channel string) error {
	if tag == insidePrefix || tag == noActTag {
		d.append(pos, w, channel)
		return nil
	}

	var act string
	switch {
	case len(tag) > len(insidePrefix) && tag[:len(insidePrefix)] == insidePrefix:
		act = tag[len(insidePrefix):]
	case len(tag) > len(beginPrefix) && tag[:len(beginPrefix)] == beginPrefix:
		// B-* belongs to the classic convention.
		return &UnknownTagError{Token: tag, Position: pos}
	case tag != "":
		act = tag
	default:
		return &UnknownTagError{Token: tag, Position: pos}
	}
	if len(d.labels) > 0 {
		if _, ok := d.labels[act]; !ok {
			return &UnknownTagError{Token: tag, Position: pos}
		}
	}

	d.append(pos, w, channel)
	d.closeRun(act, channel)
	return nil
}

func (d *jointDecoder) boundary(channel string) {
	if d.cur == nil {
		return
	}
	// Suspend the unresolved run: it holds its place in the output and is
	// patched when the same speaker's chain eventually closes.
	d.spans = append(d.spans, d.cur)
	d.pending[channel] = append(d.pending[channel], d.cur)
	d.cur = nil
}

func (d *jointDecoder) finish() ([]*span, error) {
	open := d.cur
	for _, chain := range d.pending {
		for _, s := range chain {
			if open == nil || s.start < open.start {
				open = s
			}
		}
	}
	if open != nil {
		return nil, &DanglingSegmentError{Speaker: open.channel, Position: open.start}
	}
	return d.spans, nil
}

func (d *jointDecoder) append(pos int, w, channel string) {
	if d.cur == nil {
		d.cur = &span{channel: channel, start: pos}
	}
	d.cur.words = append(d.cur.words, w)
}

func (d *jointDecoder) closeRun(act, channel string) {
	if chain := d.pending[channel]; len(chain) > 0 {
		chain[0].act = act
		for _, s := range chain[1:] {
			s.act = act
			s.continuation = true
		}
		d.cur.continuation = true
		d.pending[channel] = nil
	}
	d.cur.act = act
	d.spans = append(d.spans, d.cur)
	d.cur = nil
}
