package job

import "github.com/wehubfusion/Herald/pkg/segment"

// Chunk is the run of content segments between two boundaries. Boundary is
// the break or pause segment that closed the chunk; it is nil for the last
// chunk.
type Chunk struct {
	Segments []segment.Segment
	Boundary *segment.Segment
}

// Split cuts segs at every break and pause segment. Boundaries are kept on
// the chunk they close so pause waits can be scheduled between frames. Empty
// chunks are kept to preserve consecutive boundaries.
func Split(segs []segment.Segment) []Chunk {
	var (
		chunks  []Chunk
		current []segment.Segment
	)
	for i := range segs {
		seg := segs[i]
		if !seg.IsBoundary() {
			current = append(current, seg)
			continue
		}
		chunks = append(chunks, Chunk{Segments: current, Boundary: &seg})
		current = nil
	}
	if len(current) > 0 {
		chunks = append(chunks, Chunk{Segments: current})
	}
	return chunks
}
