package pipeline_test

import (
	"context"
	"testing"

	"github.com/quicklingo/quicklingo/internal/database"
	"github.com/quicklingo/quicklingo/internal/pipeline"
)

func TestAssembleReturnsChronologicalOrder(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	// Newest first, as the store gateway returns them.
	store.recent = []database.Message{
		{ID: 5, Role: database.RoleAssistant, Text: "fifth"},
		{ID: 4, Role: database.RoleUser, Text: "fourth"},
		{ID: 3, Role: database.RoleAssistant, Text: "third"},
	}

	assembler := pipeline.NewAssembler(store, 3)
	got, err := assembler.Assemble(context.Background(), -200, 100)
	if err != nil {
		t.Fatalf("Assemble() unexpected error: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("Assemble() returned %d messages, want 3", len(got))
	}
	for i, wantText := range []string{"third", "fourth", "fifth"} {
		if got[i].Text != wantText {
			t.Errorf("message %d text = %q, want %q", i, got[i].Text, wantText)
		}
	}
}

func TestAssembleHonorsLimit(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	for id := int64(10); id >= 1; id-- {
		store.recent = append(store.recent, database.Message{ID: id, Role: database.RoleUser})
	}

	assembler := pipeline.NewAssembler(store, 3)
	got, err := assembler.Assemble(context.Background(), -200, 100)
	if err != nil {
		t.Fatalf("Assemble() unexpected error: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("Assemble() returned %d messages, want 3", len(got))
	}
	// The three most recent of the ten, oldest first.
	for i, wantID := range []int64{8, 9, 10} {
		if got[i].ID != wantID {
			t.Errorf("message %d ID = %d, want %d", i, got[i].ID, wantID)
		}
	}
}

func TestAssembleEmptyHistory(t *testing.T) {
	t.Parallel()

	assembler := pipeline.NewAssembler(newFakeStore(), 3)
	got, err := assembler.Assemble(context.Background(), -200, 100)
	if err != nil {
		t.Fatalf("Assemble() unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Assemble() returned %d messages, want 0", len(got))
	}
}
