package job

import (
	"fmt"

	herrors "github.com/wehubfusion/Herald/pkg/errors"
)

// Graph is the validated result-key dependency graph of one job list. Job
// order is never changed: the graph only checks that the compiler already
// ordered producers before consumers.
type Graph struct {
	jobs       []*Job
	producers  map[string]int
	deps       [][]int
	dependents [][]int
}

// NewGraph builds and validates the graph of jobs.
//
// Validation rejects:
//   - empty result keys
//   - a key registered by more than one job
//   - consuming a key no job registers
//   - consuming a key registered by the same or a later job
//   - consuming keys without an accomplish function
func NewGraph(jobs []*Job) (*Graph, error) {
	producers := make(map[string]int, len(jobs))
	for i, j := range jobs {
		if j == nil {
			return nil, invalidf("job %d is nil", i)
		}
		if j.RegisterResult == "" {
			continue
		}
		if prev, exists := producers[j.RegisterResult]; exists {
			return nil, invalidf("result key %q registered by jobs %d and %d", j.RegisterResult, prev, i)
		}
		producers[j.RegisterResult] = i
	}

	deps := make([][]int, len(jobs))
	dependents := make([][]int, len(jobs))
	for i, j := range jobs {
		if j.ConsumeResult == nil {
			continue
		}
		if len(j.ConsumeResult.Keys) > 0 && j.ConsumeResult.Accomplish == nil {
			return nil, invalidf("job %d consumes results without an accomplish function", i)
		}
		for _, key := range j.ConsumeResult.Keys {
			if key == "" {
				return nil, invalidf("job %d consumes an empty result key", i)
			}
			p, ok := producers[key]
			if !ok {
				return nil, invalidf("job %d consumes unknown result key %q", i, key)
			}
			if p >= i {
				return nil, invalidf("job %d consumes result key %q before job %d registers it", i, key, p)
			}
			deps[i] = append(deps[i], p)
			dependents[p] = append(dependents[p], i)
		}
	}

	return &Graph{jobs: jobs, producers: producers, deps: deps, dependents: dependents}, nil
}

// Len returns the number of jobs.
func (g *Graph) Len() int { return len(g.jobs) }

// Producer returns the index of the job registering key.
func (g *Graph) Producer(key string) (int, bool) {
	i, ok := g.producers[key]
	return i, ok
}

// Dependencies returns the indexes of the jobs job i waits on.
func (g *Graph) Dependencies(i int) []int { return g.deps[i] }

// Dependents returns the indexes of the jobs waiting on job i.
func (g *Graph) Dependents(i int) []int { return g.dependents[i] }

// Partition splits the jobs into batches; see Partition.
func (g *Graph) Partition(max int) [][]int {
	return Partition(g.jobs, max)
}

// Partition groups consecutive jobs into batches that can be sent in one
// platform call. A batch is closed before a job consuming a key registered
// inside the batch, and when it reaches max jobs (max <= 0 means unbounded).
// Batches are returned as job indexes in frame order.
func Partition(jobs []*Job, max int) [][]int {
	var (
		batches [][]int
		current []int
		keys    = make(map[string]struct{})
	)

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
		}
		current = nil
		clear(keys)
	}

	for i, j := range jobs {
		if max > 0 && len(current) >= max {
			flush()
		}
		if j.ConsumeResult != nil {
			for _, k := range j.ConsumeResult.Keys {
				if _, inBatch := keys[k]; inBatch {
					flush()
					break
				}
			}
		}
		current = append(current, i)
		if j.RegisterResult != "" {
			keys[j.RegisterResult] = struct{}{}
		}
	}
	flush()
	return batches
}

func invalidf(format string, args ...any) error {
	return herrors.NewJobCompileError("", fmt.Sprintf(format, args...), nil)
}
