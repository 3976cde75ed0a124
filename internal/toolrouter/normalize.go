package toolrouter

import (
	"encoding/json"
	"errors"

	"github.com/agentruntime/core/internal/tools"
)

// errClosedTransport is the sentinel an external tool handler returns (or
// wraps) to signal its transport was closed, triggering the router's
// single reconnect-and-retry allowance (spec.md §4.3).
var errClosedTransport = errors.New("toolrouter: external transport closed")

// ErrClosedTransport is returned by external tool handlers to report a
// closed transport. Wrap it with fmt.Errorf("...: %w", ErrClosedTransport)
// to preserve additional context while still matching errors.Is.
var ErrClosedTransport = errClosedTransport

type externalErrorPayload struct {
	IsError bool   `json:"isError"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type suspensionPayload struct {
	RequiresSuspension bool `json:"requiresSuspension"`
}

type escalationPayload struct {
	Escalate bool   `json:"escalate"`
	Goal     string `json:"goal"`
	Role     string `json:"role"`
}

// detectEscalation reports whether a tool handler's raw result requests
// escalation to a child run (spec.md §4.8), distinct from the plain
// requiresSuspension marker used for approval gates.
func detectEscalation(raw any) (escalationPayload, bool) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return escalationPayload{}, false
	}
	var req escalationPayload
	if json.Unmarshal(encoded, &req) != nil || !req.Escalate {
		return escalationPayload{}, false
	}
	return req, true
}

// normalize applies result-normalization step 4 of spec.md §4.3: an
// external tool's self-reported error marker becomes a structured failure,
// and a requiresSuspension marker surfaces as a suspension result. Any
// other value is treated as a successful result and marshaled as-is.
func normalize(spec tools.Spec, raw any) Result {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return Result{Success: false, Error: "failed to encode tool result: " + err.Error()}
	}

	if spec.Source == tools.SourceExternal {
		var ext externalErrorPayload
		if json.Unmarshal(encoded, &ext) == nil && ext.IsError {
			msg := ext.Message
			if msg == "" {
				msg = ext.Error
			}
			return Result{Success: false, Result: encoded, Error: msg}
		}
	}

	var susp suspensionPayload
	if json.Unmarshal(encoded, &susp) == nil && susp.RequiresSuspension {
		return Result{Success: false, RequiresSuspension: true, Result: encoded}
	}

	return Result{Success: true, Result: encoded}
}
