// Package memory defines the thin contract the runner uses to retrieve
// prior-context hits for a step's model prompt. The retrieval backend
// itself (embedding index, vector store) is an external collaborator
// outside this module's scope (spec.md §1 Non-goals); this package only
// describes the interface the runner depends on.
package memory

import "context"

type (
	// Hit is one retrieved memory result, already summarized to the point
	// where the runner can fold it into a prompt without further
	// processing.
	Hit struct {
		Summary string
		Score   float64
		Tags    map[string]string
	}

	// Query composes the retrieval request the runner issues at the start
	// of a step (spec.md §4.5 step 2.b: "compose a memory query from the
	// last few messages").
	Query struct {
		RunID     string
		AgentID   string
		GroupID   string
		RecentText []string
		Limit      int
	}

	// Reader is the read-only contract the runner calls to retrieve memory
	// hits for the current step. A group run's Reader is expected to query
	// tiered scopes (agent-local, then group-shared) and merge the results,
	// but that tiering is implementation-defined.
	Reader interface {
		Retrieve(ctx context.Context, q Query) ([]Hit, error)
	}
)
