package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/hrq/internal/retrieval"
	"github.com/kalambet/hrq/internal/storage"
)

// JobStore abstracts the job queue and chunk reads the worker needs.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types ...string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) (dead bool, err error)
	RequeueRunning(ctx context.Context) (int64, error)
	JobCounts(ctx context.Context) (map[string]int, error)
	GetDocument(ctx context.Context, id, ownerID string) (storage.Document, error)
	DocumentChunks(ctx context.Context, documentID string) ([]storage.Chunk, error)
	SetDocumentStatus(ctx context.Context, id, status string) error
}

// BatchEmbedder generates embeddings for many texts at once.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorUpserter stores chunk embeddings.
type VectorUpserter interface {
	Upsert(ctx context.Context, records []retrieval.Record) error
}

// Worker processes embed_document jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	embedder BatchEmbedder
	vectors  VectorUpserter
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder BatchEmbedder, vectors VectorUpserter, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled. Jobs a previous process left
// running are requeued first.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.store.RequeueRunning(ctx); err != nil {
		w.logger.Error("requeueing interrupted jobs", "error", err)
	} else if n > 0 {
		w.logger.Info("requeued interrupted jobs", "count", n)
	}
	if counts, err := w.store.JobCounts(ctx); err == nil && counts[storage.JobPending] > 0 {
		w.logger.Info("embedding backlog", "pending", counts[storage.JobPending], "failed", counts[storage.JobFailed])
	}

	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single embed_document job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, JobEmbedDocument)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	docID, err := w.processJob(ctx, job)
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		dead, failErr := w.store.FailJob(ctx, job.ID, err.Error())
		if failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		if dead && docID != "" {
			if serr := w.store.SetDocumentStatus(ctx, docID, storage.DocumentFailed); serr != nil {
				w.logger.Error("failed to mark document as failed", "document_id", docID, "error", serr)
			}
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) (string, error) {
	var payload embedPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return "", fmt.Errorf("parsing payload: %w", err)
	}
	docID := payload.DocumentID

	doc, err := w.store.GetDocument(ctx, docID, "")
	if err != nil {
		return docID, fmt.Errorf("loading document %s: %w", docID, err)
	}
	chunks, err := w.store.DocumentChunks(ctx, docID)
	if err != nil {
		return docID, fmt.Errorf("loading chunks of %s: %w", docID, err)
	}

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vecs, err := w.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return docID, fmt.Errorf("embedding chunks: %w", err)
		}
		if len(vecs) != len(chunks) {
			return docID, fmt.Errorf("embedding chunks: got %d vectors for %d chunks", len(vecs), len(chunks))
		}

		records := make([]retrieval.Record, len(chunks))
		for i, c := range chunks {
			var meta map[string]string
			if err := json.Unmarshal([]byte(c.Metadata), &meta); err != nil {
				return docID, fmt.Errorf("chunk %s metadata: %w", c.ID, err)
			}
			records[i] = retrieval.Record{
				ChunkID:        c.ID,
				DocumentID:     docID,
				OwnerID:        doc.OwnerID,
				SourceDocument: doc.Filename,
				Index:          c.Index,
				Text:           c.Text,
				Embedding:      vecs[i],
				Metadata:       meta,
			}
		}
		if err := w.vectors.Upsert(ctx, records); err != nil {
			return docID, fmt.Errorf("storing vectors: %w", err)
		}
	}

	if err := w.store.SetDocumentStatus(ctx, docID, storage.DocumentReady); err != nil {
		return docID, fmt.Errorf("marking %s ready: %w", docID, err)
	}
	w.logger.Debug("document embedded", "document_id", docID, "chunks", len(chunks))
	return docID, nil
}
