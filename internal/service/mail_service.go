package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridesafe/ridesafe-api/pkg/jobs"
	"github.com/ridesafe/ridesafe-api/pkg/mail"
)

const mailJobType = "mail"

type mailPublisher interface {
	Publish(ctx context.Context, msg mail.Message) error
}

// MailService queues transactional mail and publishes it from background workers.
type MailService struct {
	publisher mailPublisher
	queue     *jobs.Queue
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewMailService wires the publisher behind a retrying job queue.
func NewMailService(publisher mailPublisher, metrics *MetricsService, cfg jobs.QueueConfig) *MailService {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &MailService{publisher: publisher, metrics: metrics, logger: cfg.Logger}
	cfg.OnFailure = func(job jobs.Job, err error) {
		if msg, ok := job.Payload.(mail.Message); ok {
			s.metrics.RecordMail(msg.Template, err)
		}
	}
	s.queue = jobs.NewQueue("mail", s.handle, cfg)
	return s
}

// Start launches the mail workers.
func (s *MailService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *MailService) Stop() {
	s.queue.Stop()
}

// Send queues msg for delivery.
func (s *MailService) Send(ctx context.Context, msg mail.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if err := s.queue.Enqueue(jobs.Job{ID: msg.ID, Type: mailJobType, Payload: msg}); err != nil {
		return fmt.Errorf("queue mail %s: %w", msg.Template, err)
	}
	return nil
}

func (s *MailService) handle(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(mail.Message)
	if !ok {
		s.logger.Error("unexpected mail payload", zap.String("job_id", job.ID))
		return nil
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		return err
	}
	s.metrics.RecordMail(msg.Template, nil)
	s.logger.Info("mail dispatched", zap.String("template", msg.Template), zap.String("message_id", msg.ID))
	return nil
}
