package prioritize

import (
	"strings"
	"testing"

	"aide/app/core/store"
)

func TestOrderPlacesInProgressFirst(t *testing.T) {
	tasks := []store.Task{
		{ID: 1, Description: "low pending", Urgency: 2, Status: store.StatusPending},
		{ID: 2, Description: "high pending", Urgency: 5, Status: store.StatusPending},
		{ID: 3, Description: "started", Urgency: 1, Status: store.StatusHalfCompleted},
	}

	ordered := Order(tasks)

	if ordered[0].ID != 3 {
		t.Fatalf("expected in-progress task first, got id %d", ordered[0].ID)
	}
	if ordered[1].ID != 2 || ordered[2].ID != 1 {
		t.Fatalf("expected urgency-descending tail, got %d then %d", ordered[1].ID, ordered[2].ID)
	}
}

func TestOrderTieBreaksByDeadlineThenID(t *testing.T) {
	tasks := []store.Task{
		{ID: 10, Urgency: 4, Status: store.StatusPending},
		{ID: 11, Urgency: 4, Status: store.StatusPending, AlertAt: 2000},
		{ID: 12, Urgency: 4, Status: store.StatusPending, AlertAt: 1000},
		{ID: 9, Urgency: 4, Status: store.StatusPending},
	}

	ordered := Order(tasks)

	want := []int64{12, 11, 9, 10}
	for i, id := range want {
		if ordered[i].ID != id {
			t.Fatalf("position %d: want id %d, got %d", i, id, ordered[i].ID)
		}
	}
}

func TestOrderDoesNotMutateInput(t *testing.T) {
	tasks := []store.Task{
		{ID: 1, Urgency: 1, Status: store.StatusPending},
		{ID: 2, Urgency: 5, Status: store.StatusPending},
	}

	Order(tasks)

	if tasks[0].ID != 1 {
		t.Fatal("Order mutated its input slice")
	}
}

func TestChunkReconstructsInput(t *testing.T) {
	tasks := make([]store.Task, 13)
	for i := range tasks {
		tasks[i] = store.Task{ID: int64(i + 1), Urgency: 3, Status: store.StatusPending}
	}

	chunks := Chunk(tasks, 5)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 5 || len(chunks[1]) != 5 || len(chunks[2]) != 3 {
		t.Fatalf("unexpected chunk sizes: %d, %d, %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	var idx int
	for _, chunk := range chunks {
		for _, task := range chunk {
			if task.ID != tasks[idx].ID {
				t.Fatalf("chunk concatenation diverges at position %d", idx)
			}
			idx++
		}
	}
}

func TestChunkHandlesDegenerateSizes(t *testing.T) {
	tasks := []store.Task{{ID: 1}, {ID: 2}, {ID: 3}}

	if got := Chunk(nil, 5); got != nil {
		t.Fatalf("expected nil for empty input, got %d chunks", len(got))
	}
	chunks := Chunk(tasks, 0)
	if len(chunks) != 1 || len(chunks[0]) != 3 {
		t.Fatalf("non-positive size should fall back to default, got %d chunks", len(chunks))
	}
}

func TestFormatForSummary(t *testing.T) {
	tasks := []store.Task{
		{ID: 7, Description: "file taxes", Urgency: 5, Status: store.StatusPending, AlertAt: 1700000000},
		{ID: 8, Description: "water plants", Urgency: 1, Status: store.StatusHalfCompleted},
	}

	out := FormatForSummary(tasks)

	for _, want := range []string{"Task 7: file taxes", "Urgency: 5", "Task 8: water plants", "Status: half-completed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "Alert At:") != 1 {
		t.Fatalf("expected exactly one deadline line:\n%s", out)
	}
}
