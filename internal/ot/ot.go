// Package ot implements position-based operational transformation for
// plain text. Positions and lengths are byte offsets into the UTF-8
// content string; clients must use the same units for interop.
package ot

// Operation types as they appear on the wire.
const (
	OpInsert  = "insert"
	OpDelete  = "delete"
	OpReplace = "replace"
)

// Op is a single edit instruction.
//
// Insert places Text at Pos. Delete removes Length bytes starting at
// Pos. Replace swaps the entire document content for Text and carries
// no position.
type Op struct {
	Type     string `json:"type"`
	Pos      int    `json:"pos,omitempty"`
	Text     string `json:"text,omitempty"`
	Length   int    `json:"length,omitempty"`
	ClientID string `json:"clientId,omitempty"`
}

// Apply folds ops left-to-right over content. It is total: positions
// beyond the end behave as append, and delete ranges clamp to the
// string, so no input can make it fail.
func Apply(content string, ops []Op) string {
	result := content
	for _, op := range ops {
		switch op.Type {
		case OpReplace:
			result = op.Text
		case OpInsert:
			pos := clamp(op.Pos, 0, len(result))
			result = result[:pos] + op.Text + result[pos:]
		case OpDelete:
			pos := clamp(op.Pos, 0, len(result))
			end := clamp(pos+op.Length, pos, len(result))
			result = result[:pos] + result[end:]
		}
	}
	return result
}

// transformAgainst rebases op so it has its intended effect after
// applied has already taken effect, given both were generated against
// the same prior state. A replace on either side passes through
// untouched: it is a total reset that no positional shift can refine.
func transformAgainst(op, applied Op) Op {
	if op.Type == OpReplace || applied.Type == OpReplace {
		return op
	}

	switch op.Type {
	case OpInsert:
		switch applied.Type {
		case OpInsert:
			// Ties between different authors resolve in favor of the
			// already-applied insert; same author at the same position
			// is the same causal step and does not shift.
			if applied.Pos < op.Pos || (applied.Pos == op.Pos && applied.ClientID != op.ClientID) {
				op.Pos += len(applied.Text)
			}
		case OpDelete:
			if applied.Pos < op.Pos {
				op.Pos -= min(applied.Length, op.Pos-applied.Pos)
			}
		}
	case OpDelete:
		switch applied.Type {
		case OpInsert:
			if applied.Pos <= op.Pos {
				op.Pos += len(applied.Text)
			}
		case OpDelete:
			if applied.Pos < op.Pos {
				op.Pos -= min(applied.Length, op.Pos-applied.Pos)
			}
			// Shrink by whatever the applied delete already consumed.
			// A fully consumed delete becomes a zero-length no-op.
			if applied.Pos <= op.Pos && applied.Pos+applied.Length >= op.Pos {
				overlap := applied.Pos + applied.Length - op.Pos
				op.Length = max(0, op.Length-overlap)
			}
		}
	}
	return op
}

// TransformAll rebases each op, in order, against every operation in
// history. History must be the flattened, version-ordered sequence of
// everything applied since the ops' base version.
func TransformAll(ops []Op, history []Op) []Op {
	out := make([]Op, len(ops))
	for i, op := range ops {
		for _, applied := range history {
			op = transformAgainst(op, applied)
		}
		out[i] = op
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
