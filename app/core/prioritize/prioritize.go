// Package prioritize orders and partitions task snapshots for summarization.
// Everything here is a pure function; no store access, no mutation.
package prioritize

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"aide/app/core/store"
)

const defaultChunkSize = 5

// Order sorts a snapshot for presentation: in-progress work first, then
// urgency descending, then nearest deadline (tasks without one last), then
// id ascending so equal tasks always land in the same spot.
func Order(tasks []store.Task) []store.Task {
	ordered := make([]store.Task, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return less(ordered[i], ordered[j])
	})
	return ordered
}

func less(a, b store.Task) bool {
	aInProgress := a.Status == store.StatusHalfCompleted
	bInProgress := b.Status == store.StatusHalfCompleted
	if aInProgress != bInProgress {
		return aInProgress
	}
	if a.Urgency != b.Urgency {
		return a.Urgency > b.Urgency
	}
	if a.AlertAt != b.AlertAt {
		// zero means no deadline, which sorts after any concrete one
		if a.AlertAt == 0 {
			return false
		}
		if b.AlertAt == 0 {
			return true
		}
		return a.AlertAt < b.AlertAt
	}
	return a.ID < b.ID
}

// Chunk partitions an ordered sequence into contiguous groups of at most
// maxChunkSize, preserving order. Concatenating the result reconstructs the
// input exactly.
func Chunk(tasks []store.Task, maxChunkSize int) [][]store.Task {
	if maxChunkSize <= 0 {
		maxChunkSize = defaultChunkSize
	}
	if len(tasks) == 0 {
		return nil
	}
	chunks := make([][]store.Task, 0, (len(tasks)+maxChunkSize-1)/maxChunkSize)
	for start := 0; start < len(tasks); start += maxChunkSize {
		end := start + maxChunkSize
		if end > len(tasks) {
			end = len(tasks)
		}
		chunks = append(chunks, tasks[start:end])
	}
	return chunks
}

// FormatForSummary renders one chunk for the summarization prompt.
func FormatForSummary(tasks []store.Task) string {
	var b strings.Builder
	for i, t := range tasks {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("Task %d: %s\n", t.ID, t.Description))
		b.WriteString(fmt.Sprintf("Urgency: %d\n", t.Urgency))
		b.WriteString(fmt.Sprintf("Status: %s\n", t.Status))
		if t.AlertAt > 0 {
			b.WriteString(fmt.Sprintf("Alert At: %s\n", time.Unix(t.AlertAt, 0).UTC().Format("2006-01-02 15:04:05")))
		}
	}
	return b.String()
}
