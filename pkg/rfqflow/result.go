package rfqflow

import (
	"fmt"
	"strconv"
	"strings"
)

// Suspension describes a run halted at a declared suspend node.
// It exposes the exact paused-node identity and a continuation token
// that Resume() verifies against the thread's latest checkpoint.
type Suspension struct {
	// NodeID is the suspend node the run halted before.
	NodeID string

	// Token identifies this specific suspension. Passing it to Resume()
	// via WithToken guards against resuming from a stale snapshot.
	Token string
}

// Result is the outcome of Run or Resume.
// Exactly one of the two shapes holds: either the run reached END
// (Suspension is nil) or it halted at a suspend node.
type Result[S any] struct {
	// State is the state after the last executed node.
	State S

	// Suspension is non-nil when the run halted at a suspend node.
	Suspension *Suspension
}

// Suspended reports whether the run halted at a suspend node.
func (r Result[S]) Suspended() bool {
	return r.Suspension != nil
}

// newToken builds a continuation token for a suspension.
// Format: <threadID>/<sequence>/<suspend node>.
func newToken(threadID string, sequence int, nodeID string) string {
	return fmt.Sprintf("%s/%d/%s", threadID, sequence, nodeID)
}

// parseToken splits a continuation token into its parts.
func parseToken(token string) (threadID string, sequence int, nodeID string, err error) {
	last := strings.LastIndex(token, "/")
	if last < 0 {
		return "", 0, "", fmt.Errorf("malformed token: %q", token)
	}
	mid := strings.LastIndex(token[:last], "/")
	if mid < 0 {
		return "", 0, "", fmt.Errorf("malformed token: %q", token)
	}

	sequence, err = strconv.Atoi(token[mid+1 : last])
	if err != nil {
		return "", 0, "", fmt.Errorf("malformed token sequence: %q", token)
	}
	return token[:mid], sequence, token[last+1:], nil
}
