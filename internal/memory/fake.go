package memory

import "context"

// FakeReader is a deterministic Reader for tests: it returns a fixed set of
// hits regardless of query, optionally tiering in group-shared hits when
// GroupID is non-empty.
type FakeReader struct {
	AgentHits []Hit
	GroupHits []Hit
}

// NewFakeReader constructs a FakeReader returning agentHits for every query,
// plus groupHits appended when the query carries a GroupID.
func NewFakeReader(agentHits, groupHits []Hit) *FakeReader {
	return &FakeReader{AgentHits: agentHits, GroupHits: groupHits}
}

func (f *FakeReader) Retrieve(_ context.Context, q Query) ([]Hit, error) {
	out := make([]Hit, 0, len(f.AgentHits)+len(f.GroupHits))
	out = append(out, f.AgentHits...)
	if q.GroupID != "" {
		out = append(out, f.GroupHits...)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
