// Package steps tracks an actor's position in a multi-step form: which steps
// are reachable, where the actor currently is, and how navigation moves.
package steps

import (
	"streamform/pkg/schema"
)

// Sequencer computes step availability and navigation over a resolved schema
// and one actor's existing raw step data. Availability is deliberately
// lenient: touching the previous step (any raw data, valid or not) is enough
// to reach the next one.
type Sequencer struct {
	schema *schema.Schema
	data   []map[string]any
}

// New builds a sequencer. Existing data shorter than the step count is padded
// with empty objects; missing trailing steps read as empty.
func New(s *schema.Schema, existing []map[string]any) *Sequencer {
	data := make([]map[string]any, s.NumSteps())
	for i := range data {
		if i < len(existing) && existing[i] != nil {
			data[i] = existing[i]
		} else {
			data[i] = map[string]any{}
		}
	}
	return &Sequencer{schema: s, data: data}
}

// Len returns the number of steps.
func (q *Sequencer) Len() int { return len(q.data) }

// Data returns the raw recorded data for a step.
func (q *Sequencer) Data(index int) map[string]any { return q.data[index] }

// Available reports whether a step may be viewed. Step 0 always is; step i
// requires any raw data on step i-1.
func (q *Sequencer) Available(index int) bool {
	if index == 0 {
		return true
	}
	if index < 0 || index >= len(q.data) {
		return false
	}
	return len(q.data[index-1]) > 0
}

// ClampToAvailable bounds index into [0, Len) and then walks backward to the
// nearest available step. Never returns a negative or unavailable index.
func (q *Sequencer) ClampToAvailable(index int) int {
	if index < 0 {
		index = 0
	}
	if index >= len(q.data) {
		index = len(q.data) - 1
	}
	for !q.Available(index) {
		index--
	}
	return index
}

// Advance returns the clamped position after moving delta steps from current.
func (q *Sequencer) Advance(current, delta int) int {
	return q.ClampToAvailable(current + delta)
}

// IsLast reports whether index is the final step.
func (q *Sequencer) IsLast(index int) bool { return index == len(q.data)-1 }
