package storage

import (
	"testing"
)

func TestUpsertAndGetDataset(t *testing.T) {
	s := openTestStore(t)

	d := Dataset{ID: "ds1", OwnerID: "alice", Name: "hr", Driver: "sqlite", DSN: "/tmp/hr.db", SchemaJSON: `{"tables":[]}`}
	if err := s.UpsertDataset(ctx, d); err != nil {
		t.Fatalf("UpsertDataset: %v", err)
	}

	got, err := s.GetDataset(ctx, "ds1", "alice")
	if err != nil {
		t.Fatalf("GetDataset: %v", err)
	}
	if got.Name != "hr" || got.Driver != "sqlite" || got.SchemaJSON != `{"tables":[]}` {
		t.Errorf("GetDataset = %+v", got)
	}
	if got.CreatedAt.IsZero() || got.AnalyzedAt.IsZero() {
		t.Error("timestamps not populated")
	}
}

func TestGetDataset_WrongOwner(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertDataset(ctx, Dataset{ID: "ds1", OwnerID: "alice", SchemaJSON: `{}`}); err != nil {
		t.Fatalf("UpsertDataset: %v", err)
	}
	if _, err := s.GetDataset(ctx, "ds1", "bob"); err != ErrNotFound {
		t.Errorf("GetDataset(bob) error = %v, want ErrNotFound", err)
	}
}

func TestUpsertDataset_ReplacesSchema(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertDataset(ctx, Dataset{ID: "ds1", OwnerID: "alice", SchemaJSON: `{"v":1}`}); err != nil {
		t.Fatalf("UpsertDataset: %v", err)
	}
	if err := s.UpsertDataset(ctx, Dataset{ID: "ds1", OwnerID: "alice", SchemaJSON: `{"v":2}`}); err != nil {
		t.Fatalf("UpsertDataset (replace): %v", err)
	}

	got, err := s.GetDataset(ctx, "ds1", "alice")
	if err != nil {
		t.Fatalf("GetDataset: %v", err)
	}
	if got.SchemaJSON != `{"v":2}` {
		t.Errorf("SchemaJSON = %q, want replaced value", got.SchemaJSON)
	}
}

func TestUpsertDataset_ForeignOwnerConflict(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertDataset(ctx, Dataset{ID: "ds1", OwnerID: "alice", SchemaJSON: `{"v":1}`}); err != nil {
		t.Fatalf("UpsertDataset: %v", err)
	}
	if err := s.UpsertDataset(ctx, Dataset{ID: "ds1", OwnerID: "mallory", SchemaJSON: `{"v":666}`}); err != ErrConflict {
		t.Fatalf("UpsertDataset by other owner = %v, want ErrConflict", err)
	}

	got, err := s.GetDataset(ctx, "ds1", "alice")
	if err != nil {
		t.Fatalf("GetDataset: %v", err)
	}
	if got.SchemaJSON != `{"v":1}` {
		t.Errorf("schema overwritten by foreign owner: %q", got.SchemaJSON)
	}
}

func TestListAndDeleteDatasets(t *testing.T) {
	s := openTestStore(t)

	for _, d := range []Dataset{
		{ID: "a1", OwnerID: "alice", SchemaJSON: `{}`},
		{ID: "a2", OwnerID: "alice", SchemaJSON: `{}`},
		{ID: "b1", OwnerID: "bob", SchemaJSON: `{}`},
	} {
		if err := s.UpsertDataset(ctx, d); err != nil {
			t.Fatalf("UpsertDataset %s: %v", d.ID, err)
		}
	}

	got, err := s.ListDatasets(ctx, "alice")
	if err != nil {
		t.Fatalf("ListDatasets: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d datasets, want 2", len(got))
	}

	if err := s.DeleteDataset(ctx, "a1", "bob"); err != ErrNotFound {
		t.Errorf("DeleteDataset by non-owner = %v, want ErrNotFound", err)
	}
	if err := s.DeleteDataset(ctx, "a1", "alice"); err != nil {
		t.Fatalf("DeleteDataset: %v", err)
	}
	got, _ = s.ListDatasets(ctx, "alice")
	if len(got) != 1 {
		t.Errorf("got %d datasets after delete, want 1", len(got))
	}
}
