package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/hrq/internal/retrieval"
	"github.com/kalambet/hrq/internal/storage"
)

type mockEmbedder struct {
	embedBatchFn func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return m.embedBatchFn(ctx, texts)
}

func constantEmbedder() *mockEmbedder {
	return &mockEmbedder{embedBatchFn: func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{0.1, 0.2, 0.3}
		}
		return out, nil
	}}
}

type mockVectorUpserter struct {
	mu       sync.Mutex
	upserted []retrieval.Record
	upsertFn func(records []retrieval.Record) error
}

func (m *mockVectorUpserter) Upsert(_ context.Context, records []retrieval.Record) error {
	if m.upsertFn != nil {
		return m.upsertFn(records)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserted = append(m.upserted, records...)
	return nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ingestTestDoc stores a document through the service and returns its ID.
func ingestTestDoc(t *testing.T, store *storage.Store, text string) string {
	t.Helper()
	svc := NewService(store, 40, 0)
	doc, err := svc.Ingest(context.Background(), "alice", Document{
		Filename: "cv_jane.txt",
		Text:     text,
		Metadata: map[string]string{"team": "platform"},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return doc.ID
}

func jobState(t *testing.T, store *storage.Store) (status string, attempts int) {
	t.Helper()
	if err := store.DB().QueryRow(`SELECT status, attempts FROM jobs LIMIT 1`).Scan(&status, &attempts); err != nil {
		t.Fatalf("query job: %v", err)
	}
	return status, attempts
}

// resetRunAfter makes every job immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := store.DB().Exec(`UPDATE jobs SET run_after = ?`, now); err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	docID := ingestTestDoc(t, store, "Jane writes Python every day and reviews Go code for the platform team.")

	upserter := &mockVectorUpserter{}
	w := NewWorker(store, constantEmbedder(), upserter, 0)

	ctx := context.Background()
	didWork, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	upserter.mu.Lock()
	defer upserter.mu.Unlock()
	if len(upserter.upserted) < 2 {
		t.Fatalf("upserted %d records, want at least 2", len(upserter.upserted))
	}
	for i, rec := range upserter.upserted {
		if rec.DocumentID != docID || rec.Index != i {
			t.Errorf("record %d = %s/%d", i, rec.DocumentID, rec.Index)
		}
		if rec.OwnerID != "alice" || rec.SourceDocument != "cv_jane.txt" {
			t.Errorf("record %d owner/source = %q/%q", i, rec.OwnerID, rec.SourceDocument)
		}
		if rec.Metadata["team"] != "platform" {
			t.Errorf("record %d metadata = %v", i, rec.Metadata)
		}
	}

	doc, err := store.GetDocument(ctx, docID, "alice")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Status != storage.DocumentReady {
		t.Errorf("status = %q, want ready", doc.Status)
	}
	if status, _ := jobState(t, store); status != "completed" {
		t.Errorf("job status = %q, want completed", status)
	}
}

func TestWorker_EmbeddingsSearchable(t *testing.T) {
	store := openTestStore(t)
	ingestTestDoc(t, store, "Jane writes Python every day.")

	vectors := retrieval.NewSQLiteStore(store.DB())
	w := NewWorker(store, constantEmbedder(), vectors, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	var n int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL`).Scan(&n); err != nil {
		t.Fatalf("counting embedded chunks: %v", err)
	}
	if n != 1 {
		t.Errorf("embedded chunks = %d, want 1", n)
	}
	got, err := vectors.Search(context.Background(), []float32{0.1, 0.2, 0.3}, 0.7, 10, "alice")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].SourceDocument != "cv_jane.txt" {
		t.Errorf("Search = %+v", got)
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	docID := ingestTestDoc(t, store, "retry content")

	var calls atomic.Int32
	w := NewWorker(store, &mockEmbedder{
		embedBatchFn: func(_ context.Context, texts []string) ([][]float32, error) {
			n := calls.Add(1)
			if n <= 2 {
				return nil, fmt.Errorf("transient error %d", n)
			}
			return [][]float32{{0.1, 0.2, 0.3}}, nil
		},
	}, &mockVectorUpserter{}, 0)

	ctx := context.Background()

	// 1st attempt fails and is rescheduled.
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 1 = %v, %v", didWork, err)
	}
	if status, attempts := jobState(t, store); status != "pending" || attempts != 1 {
		t.Errorf("after 1st fail: status=%q attempts=%d, want pending/1", status, attempts)
	}

	// Backoff keeps the job out of reach until run_after.
	if didWork, _ := w.RunOnce(ctx); didWork {
		t.Error("job claimed during backoff")
	}

	resetRunAfter(t, store)
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 2 = %v, %v", didWork, err)
	}
	if _, attempts := jobState(t, store); attempts != 2 {
		t.Errorf("after 2nd fail: attempts=%d, want 2", attempts)
	}

	resetRunAfter(t, store)
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 3 = %v, %v", didWork, err)
	}
	if status, _ := jobState(t, store); status != "completed" {
		t.Errorf("after 3rd attempt: status=%q, want completed", status)
	}

	doc, err := store.GetDocument(ctx, docID, "")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Status != storage.DocumentReady {
		t.Errorf("document status = %q, want ready", doc.Status)
	}
}

func TestWorker_MaxAttemptsMarksDocumentFailed(t *testing.T) {
	store := openTestStore(t)
	docID := ingestTestDoc(t, store, "never embeds")

	w := NewWorker(store, &mockEmbedder{
		embedBatchFn: func(_ context.Context, _ []string) ([][]float32, error) {
			return nil, fmt.Errorf("model not loaded")
		},
	}, &mockVectorUpserter{}, 0)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		resetRunAfter(t, store)
		if _, err := w.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce %d: %v", i, err)
		}
	}

	if status, attempts := jobState(t, store); status != "failed" || attempts != 3 {
		t.Errorf("job = %q/%d, want failed/3", status, attempts)
	}
	doc, err := store.GetDocument(ctx, docID, "")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Status != storage.DocumentFailed {
		t.Errorf("document status = %q, want failed", doc.Status)
	}
}

func TestWorker_VectorCountMismatch(t *testing.T) {
	store := openTestStore(t)
	ingestTestDoc(t, store, "one two three four five six seven eight nine ten eleven twelve thirteen")

	upserter := &mockVectorUpserter{}
	w := NewWorker(store, &mockEmbedder{
		embedBatchFn: func(_ context.Context, _ []string) ([][]float32, error) {
			return [][]float32{{1, 0, 0}}, nil
		},
	}, upserter, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if status, _ := jobState(t, store); status != "pending" {
		t.Errorf("job status = %q, want pending retry", status)
	}
	if len(upserter.upserted) != 0 {
		t.Error("partial embeddings were stored")
	}
}

func TestWorker_NoJob(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, constantEmbedder(), &mockVectorUpserter{}, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if didWork {
		t.Error("RunOnce returned true with an empty queue")
	}
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, constantEmbedder(), &mockVectorUpserter{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWorker_RunRecoversInterruptedJob(t *testing.T) {
	store := openTestStore(t)
	docID := ingestTestDoc(t, store, "left behind by a crash")

	// A previous process claimed the job and died.
	if j, err := store.ClaimNextJob(context.Background(), JobEmbedDocument); err != nil || j == nil {
		t.Fatalf("ClaimNextJob = %v, %v", j, err)
	}

	w := NewWorker(store, constantEmbedder(), &mockVectorUpserter{}, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		doc, err := store.GetDocument(context.Background(), docID, "")
		if err == nil && doc.Status == storage.DocumentReady {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("interrupted job was not picked up again")
}
