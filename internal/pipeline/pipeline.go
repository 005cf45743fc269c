package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/agentstream/internal/core/domain"
	"github.com/tjfontaine/agentstream/internal/core/ports"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("pipeline: already started")

// Source opens the upstream run. It is called on the producer's detached
// context, so the run outlives the request that started it.
type Source func(ctx context.Context) iter.Seq2[domain.RunEvent, error]

// Config wires a pipeline run.
type Config struct {
	// Classifier holds the conversation state for the run. Required.
	Classifier *Classifier
	// Dispatcher holds the side effects. Nil means none.
	Dispatcher *Dispatcher
	// Channel receives encoded records. Nil creates an unbounded channel.
	Channel *Channel

	Logger    *slog.Logger
	Tracer    trace.Tracer
	Publisher ports.EventPublisher

	RunID          string
	ConversationID string
	RequestID      string

	// RunTimeout bounds the producer. Zero means no timeout.
	RunTimeout time.Duration
}

// Stats summarizes a finished run.
type Stats struct {
	RawEvents  int
	Classified int
	Emitted    int
	Failed     int
	Duration   time.Duration
	FinalAgent string
}

// Pipeline runs one producer that moves classified events into a Channel.
type Pipeline struct {
	cfg     Config
	logger  *slog.Logger
	tracer  trace.Tracer
	channel *Channel

	started atomic.Bool
	done    chan struct{}

	mu    sync.Mutex
	err   error
	stats Stats
}

// New returns a pipeline that has not started yet.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Classifier == nil {
		return nil, errors.New("pipeline: classifier is required")
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = NewDispatcher()
	}
	if cfg.Channel == nil {
		cfg.Channel = NewChannel()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		slog.String("run_id", cfg.RunID),
		slog.String("conversation_id", cfg.ConversationID),
	)
	if cfg.RequestID != "" {
		logger = logger.With(slog.String("request_id", cfg.RequestID))
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("agentstream/pipeline")
	}

	return &Pipeline{
		cfg:     cfg,
		logger:  logger,
		tracer:  tracer,
		channel: cfg.Channel,
		done:    make(chan struct{}),
	}, nil
}

// Channel returns the delivery channel.
func (p *Pipeline) Channel() *Channel {
	return p.channel
}

// Start seals the dispatcher and launches the producer. The producer's
// context keeps ctx's values but not its cancellation.
func (p *Pipeline) Start(ctx context.Context, src Source) error {
	if src == nil {
		return errors.New("pipeline: nil source")
	}
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	p.cfg.Dispatcher.Seal()

	runCtx := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if p.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, p.cfg.RunTimeout)
	}

	go p.produce(runCtx, cancel, src)
	return nil
}

// Done is closed after the producer closed the channel and returned.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the producer finishes or ctx ends, and returns the
// upstream error, if any.
func (p *Pipeline) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the run counters. They are final once Done is closed.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Records yields encoded events in order until the channel closes or ctx ends.
func (p *Pipeline) Records(ctx context.Context) iter.Seq[[]byte] {
	return p.channel.Records(ctx)
}

// Detach is called by the consumer when the client went away. The producer
// keeps running; undelivered records are discarded.
func (p *Pipeline) Detach() {
	p.channel.Abandon()
	p.logger.Info("consumer detached, run continues")
	p.publish(context.Background(), domain.LifecycleConsumerDetached, nil)
}

func (p *Pipeline) produce(ctx context.Context, cancel context.CancelFunc, src Source) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("run.id", p.cfg.RunID),
			attribute.String("conversation.id", p.cfg.ConversationID),
		),
	)

	var stats Stats
	var runErr error

	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("pipeline: producer panic: %v", r)
			p.logger.Error("producer panicked",
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
		if err := p.channel.Close(); err != nil {
			p.logger.Warn("channel already closed", slog.String("error", err.Error()))
		}

		stats.Duration = time.Since(start)
		stats.FinalAgent = p.cfg.Classifier.State().Agent()
		p.finish(ctx, span, stats, runErr)
		span.End()
		cancel()
		close(p.done)
	}()

	p.publish(ctx, domain.LifecycleRunStarted, domain.LifecycleStartedData{
		Agent: p.cfg.Classifier.State().Agent(),
	})

	for raw, err := range src(ctx) {
		if err != nil {
			runErr = err
			break
		}
		stats.RawEvents++

		ev := p.cfg.Classifier.Classify(raw)
		if ev == nil {
			continue
		}

		stats.Classified++
		if err := p.cfg.Dispatcher.Dispatch(ctx, ev); err != nil {
			stats.Failed++
			p.sideEffectFailed(ctx, span, ev, err)
		}

		rec, err := domain.EncodeEvent(ev)
		if err != nil {
			p.logger.Error("failed to encode event",
				slog.String("event", string(ev.EventName())),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch err := p.channel.Send(ctx, rec); {
		case err == nil:
			stats.Emitted++
		case errors.Is(err, ErrChannelFull):
			p.logger.Warn("delivery channel full, record dropped",
				slog.String("event", string(ev.EventName())),
			)
		default:
			p.logger.Error("failed to deliver event",
				slog.String("event", string(ev.EventName())),
				slog.String("error", err.Error()),
			)
		}
	}

	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
}

// sideEffectFailed surfaces a failed side effect to operators. The event is
// still delivered.
func (p *Pipeline) sideEffectFailed(ctx context.Context, span trace.Span, ev domain.Event, err error) {
	p.logger.Error("side effect failed",
		slog.String("event", string(ev.EventName())),
		slog.String("error", err.Error()),
	)
	span.RecordError(err, trace.WithAttributes(attribute.String("event.name", string(ev.EventName()))))
	p.publish(ctx, domain.LifecycleSideEffectFailed, domain.LifecycleFailedData{
		Event: ev.EventName(),
		Error: err.Error(),
	})
}

func (p *Pipeline) finish(ctx context.Context, span trace.Span, stats Stats, runErr error) {
	p.mu.Lock()
	p.stats = stats
	p.err = runErr
	p.mu.Unlock()

	span.SetAttributes(
		attribute.Int("run.raw_events", stats.RawEvents),
		attribute.Int("run.emitted", stats.Emitted),
	)

	// The run context may be past its deadline here.
	pubCtx := context.WithoutCancel(ctx)

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		p.logger.Error("run failed",
			slog.String("error", runErr.Error()),
			slog.Int("raw_events", stats.RawEvents),
			slog.Int("emitted", stats.Emitted),
		)
		p.publish(pubCtx, domain.LifecycleRunFailed, domain.LifecycleFailedData{Error: runErr.Error()})
		return
	}

	if stats.Failed > 0 {
		span.SetStatus(codes.Error, "side effects failed")
	}
	p.logger.Info("run completed",
		slog.Int("raw_events", stats.RawEvents),
		slog.Int("emitted", stats.Emitted),
		slog.Duration("duration", stats.Duration),
		slog.String("final_agent", stats.FinalAgent),
	)
	p.publish(pubCtx, domain.LifecycleRunCompleted, domain.LifecycleCompletedData{
		RawEvents:  stats.RawEvents,
		Emitted:    stats.Emitted,
		Duration:   stats.Duration,
		FinalAgent: stats.FinalAgent,
	})
}

func (p *Pipeline) publish(ctx context.Context, typ domain.LifecycleEventType, data any) {
	if p.cfg.Publisher == nil {
		return
	}
	ev := &domain.LifecycleEvent{
		Type:           typ,
		RunID:          p.cfg.RunID,
		ConversationID: p.cfg.ConversationID,
		Timestamp:      time.Now(),
		Data:           data,
	}
	if err := p.cfg.Publisher.Publish(ctx, ev); err != nil {
		p.logger.Warn("failed to publish lifecycle event",
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}
