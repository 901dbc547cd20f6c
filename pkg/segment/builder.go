package segment

// Builder accumulates segments in append order. Nested renders append their
// whole output at the point they return, so the final order is tree order
// regardless of recursion depth.
type Builder struct {
	segments []Segment
}

// Append adds segments to the end.
func (b *Builder) Append(segs ...Segment) {
	b.segments = append(b.segments, segs...)
}

// Len returns the number of segments appended so far.
func (b *Builder) Len() int {
	return len(b.segments)
}

// Build returns a copy of the accumulated segments, or nil when nothing was
// appended.
func (b *Builder) Build() []Segment {
	if len(b.segments) == 0 {
		return nil
	}
	out := make([]Segment, len(b.segments))
	copy(out, b.segments)
	return out
}

// Reset discards the accumulated segments.
func (b *Builder) Reset() {
	b.segments = b.segments[:0]
}
