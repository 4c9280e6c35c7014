// Package ingest turns plain-text documents into embedded chunks: the
// service splits and stores them, the worker embeds them in the background.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/hrq/internal/storage"
)

// JobEmbedDocument is the job type that embeds a document's chunks.
const JobEmbedDocument = "embed_document"

// ErrEmptyDocument is returned when a document has no text to index.
var ErrEmptyDocument = errors.New("document has no text")

// DocumentStore persists documents and queues their embedding.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc storage.Document, chunks []storage.Chunk) error
	SetDocumentStatus(ctx context.Context, id, status string) error
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Document is a plain-text source to ingest.
type Document struct {
	Filename string
	Text     string
	Metadata map[string]string
}

// Service stores documents as chunks and schedules their embedding.
type Service struct {
	store     DocumentStore
	chunkSize int
	overlap   int
}

func NewService(store DocumentStore, chunkSize, overlap int) *Service {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	return &Service{store: store, chunkSize: chunkSize, overlap: overlap}
}

type embedPayload struct {
	DocumentID string `json:"document_id"`
}

// Ingest splits doc, stores it for ownerID with pending status, and queues
// an embedding job. The returned document carries the assigned ID.
func (s *Service) Ingest(ctx context.Context, ownerID string, doc Document) (storage.Document, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return storage.Document{}, ErrEmptyDocument
	}
	if doc.Filename == "" {
		return storage.Document{}, errors.New("filename is required")
	}

	meta := doc.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return storage.Document{}, fmt.Errorf("encoding metadata: %w", err)
	}

	stored := storage.Document{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Filename:    doc.Filename,
		ContentType: "text/plain",
		Metadata:    string(metaJSON),
		Status:      storage.DocumentPending,
		CreatedAt:   time.Now().UTC(),
	}

	texts := Split(doc.Text, s.chunkSize, s.overlap)
	chunks := make([]storage.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = storage.Chunk{
			ID:         uuid.New().String(),
			DocumentID: stored.ID,
			Index:      i,
			Text:       text,
			Metadata:   string(metaJSON),
		}
	}
	stored.ChunkCount = len(chunks)

	if err := s.store.SaveDocument(ctx, stored, chunks); err != nil {
		return storage.Document{}, err
	}

	payload, err := json.Marshal(embedPayload{DocumentID: stored.ID})
	if err != nil {
		return storage.Document{}, fmt.Errorf("creating job payload: %w", err)
	}
	err = s.store.EnqueueJob(ctx, storage.Job{
		ID:          uuid.New().String(),
		Type:        JobEmbedDocument,
		PayloadJSON: string(payload),
	})
	if err != nil {
		if serr := s.store.SetDocumentStatus(ctx, stored.ID, storage.DocumentFailed); serr != nil {
			err = errors.Join(err, serr)
		}
		return storage.Document{}, fmt.Errorf("enqueueing embedding of %s: %w", stored.ID, err)
	}
	return stored, nil
}
