// Package pipeline runs a question through the hybrid engine: cache lookup,
// classification, the relational and document legs, merging, and the
// cache and history side effects.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/hrq/internal/cache"
	"github.com/kalambet/hrq/internal/catalog"
	"github.com/kalambet/hrq/internal/composer"
	"github.com/kalambet/hrq/internal/query"
	"github.com/kalambet/hrq/internal/retrieval"
	"github.com/kalambet/hrq/internal/synth"
)

// Classifier routes a question to its intent.
type Classifier interface {
	Classify(text string) query.Intent
}

// DatasetProvider resolves a dataset the caller owns. *catalog.Catalog
// implements it.
type DatasetProvider interface {
	Get(ctx context.Context, datasetID, callerID string) (*catalog.Dataset, error)
}

// Synthesizer turns a question into SQL for a schema.
type Synthesizer interface {
	Synthesize(text string, schema *catalog.Schema) (synth.Statement, error)
}

// Executor runs a statement against a dataset's database.
type Executor interface {
	Execute(ctx context.Context, ds *catalog.Dataset, stmt synth.Statement) ([]query.Row, error)
}

// Retriever finds document chunks for a question.
type Retriever interface {
	Retrieve(ctx context.Context, text, callerID string, threshold float32, limit int) ([]query.DocumentMatch, error)
}

// ResultCache is the cache layer. *cache.Cache implements it.
type ResultCache interface {
	Lookup(ctx context.Context, key, callerID string) (*query.Result, bool, error)
	Store(ctx context.Context, e cache.Entry) error
	RecordHit(ctx context.Context, key string) error
}

// HistoryAppender records processed questions without blocking.
type HistoryAppender interface {
	Append(rec query.Record)
}

// Deps are the collaborators of an Engine. All are required.
type Deps struct {
	Classifier  Classifier
	Datasets    DatasetProvider
	Synthesizer Synthesizer
	Executor    Executor
	Retriever   Retriever
	Cache       ResultCache
	History     HistoryAppender
}

// Options tunes the document leg. Zero values take the retrieval defaults.
type Options struct {
	Threshold float32
	Limit     int
	Now       func() time.Time
}

// Engine answers questions. It keeps no mutable state between requests and
// is safe for concurrent use.
type Engine struct {
	deps      Deps
	threshold float32
	limit     int
	now       func() time.Time
	logger    *slog.Logger
}

func New(deps Deps, opts Options) *Engine {
	if opts.Threshold <= 0 {
		opts.Threshold = retrieval.DefaultThreshold
	}
	if opts.Limit <= 0 {
		opts.Limit = retrieval.DefaultLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		deps:      deps,
		threshold: opts.Threshold,
		limit:     opts.Limit,
		now:       opts.Now,
		logger:    slog.Default(),
	}
}

// ProcessQuery answers queryText against datasetID on behalf of callerID.
//
// A cached answer is returned without touching any backend. Otherwise the
// legs the intent needs run concurrently; a failed leg of a hybrid question
// leaves its half empty and is reported in Response.Partial and the
// warnings. When every leg fails the error wraps query.ErrTotalFailure.
// If ctx ends before the answer is complete, nothing is cached or recorded.
func (e *Engine) ProcessQuery(ctx context.Context, queryText, datasetID, callerID string) (*query.Response, error) {
	if callerID == "" {
		return nil, query.ErrUnauthorized
	}
	start := e.now()
	key := cache.DeriveKey(queryText, datasetID, callerID)

	if res, ok := e.lookup(ctx, key, callerID); ok {
		if err := e.deps.Cache.RecordHit(ctx, key); err != nil {
			e.logger.Warn("recording cache hit failed", "key", key, "error", err)
		}
		resp := e.respond(res, nil, start, true)
		e.record(queryText, datasetID, callerID, resp, nil)
		return resp, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in := e.deps.Classifier.Classify(queryText)
	sqlLeg, docLeg := e.runLegs(ctx, in, queryText, datasetID, callerID)

	// A cancelled attempt is incomplete whatever the legs returned.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged, err := composer.Merge(in, sqlLeg, docLeg)
	if err != nil {
		e.recordFailure(queryText, datasetID, callerID, in, sqlLeg, start, err)
		return nil, err
	}

	res, err := cache.Canonical(merged.Result)
	if err != nil {
		e.logger.Warn("normalizing result failed", "error", err)
		res = merged.Result
	}
	resp := e.respond(res, merged, start, false)
	if merged.Partial == nil {
		err := e.deps.Cache.Store(ctx, cache.Entry{
			Key:       key,
			QueryText: queryText,
			DatasetID: datasetID,
			CallerID:  callerID,
			Result:    res,
		})
		if err != nil {
			e.logger.Warn("caching result failed", "key", key, "error", err)
		}
	}
	e.record(queryText, datasetID, callerID, resp, merged.Partial)
	return resp, nil
}

func (e *Engine) lookup(ctx context.Context, key, callerID string) (*query.Result, bool) {
	res, ok, err := e.deps.Cache.Lookup(ctx, key, callerID)
	if err != nil {
		e.logger.Warn("cache lookup failed, computing fresh", "key", key, "error", err)
		return nil, false
	}
	return res, ok
}

// runLegs runs the legs intent needs. A leg's failure is kept in its
// outcome and never cancels the other leg; only ctx does.
func (e *Engine) runLegs(ctx context.Context, in query.Intent, text, datasetID, callerID string) (*composer.SQLOutcome, *composer.DocumentOutcome) {
	var (
		g      errgroup.Group
		sqlOut *composer.SQLOutcome
		docOut *composer.DocumentOutcome
	)
	if in.UsesSQL() {
		g.Go(func() error {
			sqlOut = e.runSQL(ctx, text, datasetID, callerID)
			return nil
		})
	}
	if in.UsesDocuments() {
		g.Go(func() error {
			matches, err := e.deps.Retriever.Retrieve(ctx, text, callerID, e.threshold, e.limit)
			docOut = &composer.DocumentOutcome{Matches: matches, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return sqlOut, docOut
}

func (e *Engine) runSQL(ctx context.Context, text, datasetID, callerID string) *composer.SQLOutcome {
	ds, err := e.deps.Datasets.Get(ctx, datasetID, callerID)
	if err != nil {
		return &composer.SQLOutcome{Err: err}
	}
	stmt, err := e.deps.Synthesizer.Synthesize(text, &ds.Schema)
	if err != nil {
		return &composer.SQLOutcome{Err: err}
	}
	if stmt.Fallback {
		e.logger.Debug("no template matched, using fallback", "dataset_id", datasetID)
	}
	rows, err := e.deps.Executor.Execute(ctx, ds, stmt)
	return &composer.SQLOutcome{Rows: rows, SQL: stmt.SQL, Params: stmt.Args, Err: err}
}

func (e *Engine) respond(res *query.Result, merged *composer.Merged, start time.Time, hit bool) *query.Response {
	resp := &query.Response{
		Result: res,
		Meta: query.Meta{
			ResponseTimeMs: e.now().Sub(start).Milliseconds(),
			CacheHit:       hit,
			ResultsCount:   res.Count(),
		},
	}
	if merged != nil {
		resp.Meta.Warnings = merged.Warnings
		resp.Partial = merged.Partial
	}
	return resp
}

func (e *Engine) record(queryText, datasetID, callerID string, resp *query.Response, partial error) {
	rec := query.Record{
		QueryText:      queryText,
		DatasetID:      datasetID,
		Intent:         resp.Result.Intent,
		GeneratedSQL:   resp.Result.GeneratedSQL,
		ResultCount:    resp.Meta.ResultsCount,
		ResponseTimeMs: resp.Meta.ResponseTimeMs,
		CacheHit:       resp.Meta.CacheHit,
		Sources:        resp.Result.Sources,
		CallerID:       callerID,
		Status:         query.StatusOK,
		Timestamp:      e.now(),
	}
	if partial != nil {
		rec.Status = query.StatusPartial
		rec.Error = partial.Error()
	}
	e.deps.History.Append(rec)
}

func (e *Engine) recordFailure(queryText, datasetID, callerID string, in query.Intent, sqlLeg *composer.SQLOutcome, start time.Time, err error) {
	rec := query.Record{
		QueryText:      queryText,
		DatasetID:      datasetID,
		Intent:         in,
		ResponseTimeMs: e.now().Sub(start).Milliseconds(),
		Sources:        []string{},
		CallerID:       callerID,
		Status:         query.StatusFailed,
		Error:          err.Error(),
		Timestamp:      e.now(),
	}
	if sqlLeg != nil {
		rec.GeneratedSQL = sqlLeg.SQL
	}
	e.deps.History.Append(rec)
	e.logger.Warn("query failed", "intent", in, "dataset_id", datasetID, "error", err)
}
