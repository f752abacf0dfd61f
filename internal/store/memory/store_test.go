package memory

import (
	"context"
	"encoding/json"
	"testing"
)

func TestStoreSaveCopiesData(t *testing.T) {
	t.Parallel()

	store := New()
	payload := map[string]json.RawMessage{"k": json.RawMessage(`"v"`)}
	if err := store.Save(context.Background(), payload); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	payload["k"][1] = 'X'

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(loaded["k"]) != `"v"` {
		t.Fatalf("expected stored copy to be immutable, got %s", loaded["k"])
	}
	if store.Saves() != 1 {
		t.Fatalf("expected 1 save, got %d", store.Saves())
	}
}

func TestNewWithDataSeedsWithoutCountingSaves(t *testing.T) {
	t.Parallel()

	store := NewWithData(map[string]json.RawMessage{"a": json.RawMessage(`1`)})
	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded) != 1 || string(loaded["a"]) != "1" {
		t.Fatalf("unexpected snapshot %v", loaded)
	}
	if store.Saves() != 0 {
		t.Fatalf("expected seeding not to count as a save")
	}
}
