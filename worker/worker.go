// Package worker consumes regeneration jobs and rebuilds the future window
// of a recurrence series: delete the forward siblings of the job's anchor,
// re-expand the rule, publish the resulting diff. Processing is idempotent,
// so a message redelivered after a crash converges on the same rows.
package worker

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"tymr/domain"
	"tymr/materialize"
	"tymr/storage"
)

const emptyQueueBackoff = time.Second

type workerStore interface {
	GetTaskByID(ctx context.Context, id string) (*domain.Task, error)
	FutureSiblings(ctx context.Context, t domain.Task) ([]domain.Task, error)
	DeleteMany(ctx context.Context, ids []string) (int, error)
	ListSeries(ctx context.Context) ([]domain.RecurrenceSeries, error)
	LatestOfSeries(ctx context.Context, seriesID string) (*domain.Task, error)
}

type materializerAPI interface {
	MaterializeFrom(ctx context.Context, anchor domain.Task) (materialize.Result, error)
}

type jobSource interface {
	Dequeue(ctx context.Context) (*storage.QueuedJob, error)
	Delete(ctx context.Context, qj *storage.QueuedJob) error
}

type publisher interface {
	Publish(ctx context.Context, userID string, msg domain.Message)
}

type cacheEvictor interface {
	Evict(ctx context.Context, userID string)
}

// Worker is the regeneration consumer. Pub and Cache are optional; a nil
// value skips that side effect.
type Worker struct {
	Store workerStore
	Mat   materializerAPI
	Queue jobSource
	Pub   publisher
	Cache cacheEvictor
}

func New(store workerStore, mat materializerAPI, queue jobSource, pub publisher, cache cacheEvictor) *Worker {
	return &Worker{Store: store, Mat: mat, Queue: queue, Pub: pub, Cache: cache}
}

// Run consumes the queue until ctx is done. A processing error leaves the
// message undeleted; the visibility timeout redelivers it.
func (w *Worker) Run(ctx context.Context) error {
	log.Info("regeneration worker started")
	for {
		if err := ctx.Err(); err != nil {
			log.Info("regeneration worker stopping")
			return err
		}
		qj, err := w.Queue.Dequeue(ctx)
		if err != nil {
			log.Errorf("dequeue failed: %v", err)
			sleep(ctx, emptyQueueBackoff)
			continue
		}
		if qj == nil {
			sleep(ctx, emptyQueueBackoff)
			continue
		}
		if err := w.Process(ctx, qj.Job); err != nil {
			log.WithField("occurrence_id", qj.Job.OccurrenceID).
				Errorf("job failed, leaving for redelivery: %v", err)
			continue
		}
		if err := w.Queue.Delete(ctx, qj); err != nil {
			log.WithField("occurrence_id", qj.Job.OccurrenceID).
				Errorf("ack failed, job will be redelivered: %v", err)
		}
	}
}

// Process rebuilds the forward window anchored at the job's occurrence. A
// vanished occurrence or a detached one is a logged no-op: the state the job
// wanted to clean up no longer exists.
func (w *Worker) Process(ctx context.Context, job domain.RegenJob) error {
	ctx, span := w.startSpan(ctx, "regen.process",
		attribute.String("occurrence.id", job.OccurrenceID),
		attribute.String("user.id", job.UserID))
	var retErr error
	defer func() { span(retErr) }()

	anchor, err := w.Store.GetTaskByID(ctx, job.OccurrenceID)
	if errors.Is(err, storage.ErrNotFound) {
		log.WithField("occurrence_id", job.OccurrenceID).Info("occurrence gone, job is a no-op")
		return nil
	}
	if err != nil {
		retErr = err
		return err
	}
	if !anchor.IsOccurrence() {
		log.WithField("occurrence_id", job.OccurrenceID).Info("occurrence detached from its series, nothing to rebuild")
		return nil
	}

	future, err := w.Store.FutureSiblings(ctx, *anchor)
	if err != nil {
		retErr = err
		return err
	}
	deleted := make([]string, 0, len(future))
	for _, sib := range future {
		deleted = append(deleted, sib.ID)
	}
	if _, err := w.Store.DeleteMany(ctx, deleted); err != nil {
		retErr = err
		return err
	}

	res, err := w.Mat.MaterializeFrom(ctx, *anchor)
	if err != nil {
		retErr = err
		return err
	}
	if res.Err != nil {
		// The deletes above stay committed. An unparseable rule means the
		// series generates nothing until the rule is fixed.
		log.WithFields(log.Fields{"series_id": *anchor.SeriesID}).
			Errorf("rule expansion failed, window rebuilt empty: %v", res.Err)
	}

	userID := anchor.UserID
	if userID == "" {
		userID = job.UserID
	}
	if w.Cache != nil {
		w.Cache.Evict(ctx, userID)
	}
	if w.Pub != nil && (len(deleted) > 0 || len(res.Created) > 0) {
		w.Pub.Publish(ctx, userID, domain.RecRefresh(deleted, res.Created))
	}
	log.WithFields(log.Fields{
		"occurrence_id": job.OccurrenceID,
		"deleted":       len(deleted),
		"created":       len(res.Created),
		"existing":      len(res.AlreadyExisted),
	}).Info("window rebuilt")
	return nil
}

// SweepSeries extends every series from its latest occurrence. It runs on a
// schedule and needs no queue, which is what makes regeneration self-healing
// across queue outages.
func (w *Worker) SweepSeries(ctx context.Context) error {
	ctx, span := w.startSpan(ctx, "regen.sweep")
	var retErr error
	defer func() { span(retErr) }()

	series, err := w.Store.ListSeries(ctx)
	if err != nil {
		retErr = err
		return err
	}
	for _, s := range series {
		latest, err := w.Store.LatestOfSeries(ctx, s.ID)
		if err != nil {
			retErr = err
			return err
		}
		if latest == nil {
			continue
		}
		if err := w.Process(ctx, domain.RegenJob{OccurrenceID: latest.ID, UserID: latest.UserID}); err != nil {
			log.WithField("series_id", s.ID).Errorf("sweep pass failed: %v", err)
			retErr = err
		}
	}
	return retErr
}

func (w *Worker) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer("tymr/worker").Start(ctx, name)
	span.SetAttributes(attrs...)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
