package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/rmartins/orderflow-backend/pkg/breaker"
	"github.com/rmartins/orderflow-backend/pkg/config"
	"github.com/rmartins/orderflow-backend/pkg/db/models"
	"github.com/rmartins/orderflow-backend/pkg/enums"
	"github.com/rmartins/orderflow-backend/pkg/logger"
	"github.com/rmartins/orderflow-backend/pkg/metrics"
	"github.com/rmartins/orderflow-backend/pkg/outbox"
	pspkg "github.com/rmartins/orderflow-backend/pkg/pubsub"
)

const (
	defaultBatchSize = 50
	defaultPollMs    = 1000
	maxErrorBackoff  = 10 * time.Second
	jitterWindow     = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dispatcherRepo interface {
	FetchClaimable(ctx context.Context, limit int, now time.Time) ([]models.OutboxEvent, error)
	Claim(ctx context.Context, event models.OutboxEvent, workerID string, now time.Time) (bool, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, event models.OutboxEvent, cause error, now time.Time) (enums.OutboxStatus, error)
	CountPending(ctx context.Context) (int64, error)
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type publishGuard interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

type ServiceParams struct {
	Config    *config.Config
	Logger    *logger.Logger
	Repo      dispatcherRepo
	Publisher publisher
	Breaker   publishGuard
	Sink      metrics.Sink
	Now       func() time.Time
}

// Service drains pending outbox rows into Pub/Sub. Claims use a
// compare-and-swap on locked_at so concurrent dispatchers never publish
// the same row twice.
type Service struct {
	cfg          *config.Config
	logg         *logger.Logger
	repo         dispatcherRepo
	publisher    publisher
	guard        publishGuard
	sink         metrics.Sink
	now          func() time.Time
	workerID     string
	batchSize    int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Repo == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if params.Breaker == nil {
		return nil, errors.New("publish breaker is required")
	}
	if params.Sink == nil {
		params.Sink = metrics.NopSink{}
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}

	workerID := params.Config.Outbox.WorkerID
	if workerID == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = uuid.NewString()
		}
		workerID = hostname
	}

	batch := params.Config.Outbox.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := params.Config.Outbox.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}

	return &Service{
		cfg:          params.Config,
		logg:         params.Logger,
		repo:         params.Repo,
		publisher:    params.Publisher,
		guard:        params.Breaker,
		sink:         params.Sink,
		now:          params.Now,
		workerID:     workerID,
		batchSize:    batch,
		pollInterval: time.Duration(pollMs) * time.Millisecond,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	interval := s.pollInterval
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "outbox dispatcher context canceled")
			return ctx.Err()
		default:
		}

		processed, err := s.processBatch(ctx)
		if err != nil {
			if errors.Is(err, breaker.ErrOpen) {
				s.logg.Warn(ctx, "publish breaker open, pausing dispatch")
			} else {
				s.logg.Error(ctx, "outbox dispatch batch error", err)
			}
			backoff = nextBackoff(backoff, interval, maxErrorBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval
		s.recordBacklog(ctx)

		if processed {
			continue
		}

		if err := s.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

// processBatch drains one batch. A breaker-open error aborts the cycle so
// the remaining claimed rows retry once their stale locks expire.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	now := s.now()
	events, err := s.repo.FetchClaimable(ctx, s.batchSize, now)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		return false, nil
	}

	for _, event := range events {
		claimed, err := s.repo.Claim(ctx, event, s.workerID, s.now())
		if err != nil {
			return true, err
		}
		if !claimed {
			// Another dispatcher won the row.
			continue
		}

		if err := s.dispatch(ctx, event); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (s *Service) dispatch(ctx context.Context, event models.OutboxEvent) error {
	fields := s.eventFields(event)
	logCtx := s.logg.WithFields(ctx, fields)

	publishErr := s.guard.Do(ctx, func(callCtx context.Context) error {
		msg, err := s.buildMessage(event)
		if err != nil {
			return err
		}
		result := s.publisher.Publish(callCtx, msg)
		if result == nil {
			return errors.New("publisher returned nil result")
		}
		_, err = result.Get(callCtx)
		return err
	})

	if publishErr != nil {
		if errors.Is(publishErr, breaker.ErrOpen) {
			return publishErr
		}

		status, markErr := s.repo.MarkFailed(ctx, event, publishErr, s.now())
		if markErr != nil {
			return fmt.Errorf("mark failed %s: %w", event.ID, markErr)
		}
		s.sink.Inc(metrics.OutboxFailedTotal, map[string]string{"event_type": string(event.EventType)})
		errCtx := s.logg.WithField(logCtx, "error", publishErr.Error())
		if status == enums.OutboxStatusDead {
			s.sink.Inc(metrics.OutboxDeadTotal, map[string]string{"event_type": string(event.EventType)})
			s.logg.Error(errCtx, "outbox event exhausted retries", publishErr)
		} else {
			s.logg.Warn(errCtx, "outbox publish failed, scheduled retry")
		}
		return nil
	}

	if err := s.repo.MarkSent(ctx, event.ID); err != nil {
		return fmt.Errorf("mark sent %s: %w", event.ID, err)
	}
	s.sink.Inc(metrics.OutboxDispatchedTotal, map[string]string{"event_type": string(event.EventType)})
	s.logg.Info(logCtx, "outbox event published")
	return nil
}

func (s *Service) buildMessage(event models.OutboxEvent) (*gcppubsub.Message, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode payload envelope: %w", err)
	}

	attributes := map[string]string{
		pspkg.AttrEventID:       envelope.EventID,
		pspkg.AttrEventType:     string(event.EventType),
		pspkg.AttrAggregateType: string(event.AggregateType),
		pspkg.AttrAggregateID:   event.AggregateID.String(),
		pspkg.AttrTenantID:      event.TenantID,
		pspkg.AttrCreatedAt:     event.CreatedAt.Format(time.RFC3339Nano),
	}
	if envelope.CorrelationID != "" {
		attributes[pspkg.AttrCorrelationID] = envelope.CorrelationID
	}

	return &gcppubsub.Message{
		Data:       event.Payload,
		Attributes: attributes,
	}, nil
}

func (s *Service) recordBacklog(ctx context.Context) {
	count, err := s.repo.CountPending(ctx)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "failed to count pending backlog")
		return
	}
	s.sink.Set(metrics.OutboxPendingBacklog, float64(count), nil)
}

func (s *Service) eventFields(event models.OutboxEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"tenant_id":      event.TenantID,
		"attempts":       event.Attempts,
		"worker_id":      s.workerID,
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
