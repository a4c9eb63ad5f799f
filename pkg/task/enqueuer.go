package task

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type asynqEnqueuer struct {
	client *asynq.Client
	tracer trace.Tracer
}

// NewEnqueuer wraps the asynq client with a span per enqueue.
func NewEnqueuer(client *asynq.Client) Enqueuer {
	return &asynqEnqueuer{
		client: client,
		tracer: otel.Tracer("misp-controlplane/pkg/task"),
	}
}

func (e *asynqEnqueuer) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	ctx, span := e.tracer.Start(ctx, "asynq.enqueue", trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("task.type", task.Type())))
	defer span.End()

	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}

	span.SetAttributes(attribute.String("task.id", info.ID), attribute.String("task.queue", info.Queue))
	zap.L().Debug("task enqueued",
		zap.String("type", task.Type()),
		zap.String("id", info.ID),
		zap.String("queue", info.Queue),
	)
	return info, nil
}
