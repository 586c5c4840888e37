// Package pipeline orchestrates a full unification run: load the
// reference snapshot, build the matching indexes, extract every source in
// parallel, unify, and persist. One source failing is contained and
// reported; an unusable reference snapshot aborts the run.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vayo/unify/internal/bbl"
	"github.com/vayo/unify/internal/matcher"
	"github.com/vayo/unify/internal/refindex"
	"github.com/vayo/unify/internal/source"
	"github.com/vayo/unify/internal/store"
	"github.com/vayo/unify/internal/unify"
)

// Reference supplies the building snapshot and the BIN bridge table.
// *store.Store implements it.
type Reference interface {
	LoadBuildings(ctx context.Context) ([]refindex.Building, error)
	LoadBINBridge(ctx context.Context) (map[string]bbl.Key, error)
}

// Sink persists a finished run. *store.Store implements it.
type Sink interface {
	WriteRun(ctx context.Context, run store.Run) error
}

// Deps are the matching dependencies handed to extractor factories once
// the reference index is built.
type Deps struct {
	Matcher  *matcher.Matcher
	Resolver *bbl.Resolver
}

// ExtractorFactory builds one source's extractor. Factories run after the
// reference load so extractors can capture the matcher and resolver. The
// Source name attributes a factory failure before an extractor exists to
// name itself.
type ExtractorFactory struct {
	Source string
	New    func(deps Deps) (source.Extractor, error)
}

// Options are the run-wide policy knobs.
type Options struct {
	Matcher matcher.Options
	Policy  unify.Policy
	Workers int
}

// Pipeline wires one run's collaborators together.
type Pipeline struct {
	ref       Reference
	sink      Sink
	factories []ExtractorFactory
	opts      Options
	log       *logrus.Logger
}

// New creates a Pipeline.
func New(ref Reference, sink Sink, factories []ExtractorFactory, opts Options, log *logrus.Logger) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if log == nil {
		log = logrus.New()
	}
	return &Pipeline{ref: ref, sink: sink, factories: factories, opts: opts, log: log}
}

// Run executes one complete pass and persists the output.
func (p *Pipeline) Run(ctx context.Context) (store.Run, error) {
	run := store.Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := p.log.WithField("run_id", run.ID)

	buildings, err := p.ref.LoadBuildings(ctx)
	if err != nil {
		return store.Run{}, fmt.Errorf("failed to load reference buildings: %w", err)
	}
	idx, err := refindex.Build(buildings)
	if err != nil {
		// Without a reference index every address match would silently
		// fail, so an empty snapshot aborts the run.
		return store.Run{}, fmt.Errorf("reference index unusable: %w", err)
	}
	log.WithField("buildings", idx.Len()).Info("reference index built")

	bins, err := p.ref.LoadBINBridge(ctx)
	if err != nil {
		// The bridge table is an enrichment; runs proceed without it.
		log.WithError(err).Warn("bin bridge unavailable, continuing without it")
		bins = nil
	}

	deps := Deps{
		Matcher:  matcher.New(idx, p.opts.Matcher),
		Resolver: bbl.NewResolver(idx, bins),
	}

	batches := p.extractAll(ctx, deps, log)

	var records []source.Record
	for _, b := range batches {
		records = append(records, b.Records...)
		run.Rejects = append(run.Rejects, b.Rejects...)
		log.WithFields(logrus.Fields{
			"source":  b.Source,
			"records": len(b.Records),
			"rejects": len(b.Rejects),
		}).Info("source extracted")
	}

	run.Output = unify.New(p.opts.Policy).Unify(records)
	run.FinishedAt = time.Now().UTC()
	log.WithField("stats", run.Output.Stats.String()).Info("unification complete")

	if err := p.sink.WriteRun(ctx, run); err != nil {
		return store.Run{}, fmt.Errorf("failed to persist run %s: %w", run.ID, err)
	}
	return run, nil
}

// extractAll runs every extractor under a bounded worker pool. A failed
// source contributes nothing but never aborts the others; its error is
// logged and surfaced as a synthetic reject so the run report shows it.
func (p *Pipeline) extractAll(ctx context.Context, deps Deps, log *logrus.Entry) []source.Batch {
	type job struct {
		idx     int
		factory ExtractorFactory
	}

	jobs := make(chan job)
	results := make([]source.Batch, len(p.factories))

	var wg sync.WaitGroup
	for w := 0; w < p.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.idx] = p.extractOne(ctx, deps, j.factory, log)
			}
		}()
	}

	for i, f := range p.factories {
		jobs <- job{idx: i, factory: f}
	}
	close(jobs)
	wg.Wait()

	return results
}

func (p *Pipeline) extractOne(ctx context.Context, deps Deps, factory ExtractorFactory, log *logrus.Entry) source.Batch {
	ex, err := factory.New(deps)
	if err != nil {
		log.WithError(err).WithField("source", factory.Source).Error("source unavailable")
		return source.Batch{Source: factory.Source, Rejects: []source.Reject{
			{Source: factory.Source, Reason: fmt.Sprintf("source unavailable: %v", err)}}}
	}

	if err := ctx.Err(); err != nil {
		return source.Batch{Source: ex.Name(), Rejects: []source.Reject{
			{Source: ex.Name(), Reason: fmt.Sprintf("extraction cancelled: %v", err)}}}
	}

	batch, err := ex.Extract()
	if err != nil {
		log.WithError(err).WithField("source", ex.Name()).Error("extraction failed")
		return source.Batch{Source: ex.Name(), Rejects: []source.Reject{
			{Source: ex.Name(), Reason: fmt.Sprintf("extraction failed: %v", err)}}}
	}
	return batch
}
