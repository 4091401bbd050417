package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hugolhafner/extoffset/kafka"
	"github.com/hugolhafner/extoffset/logger"
	"github.com/hugolhafner/extoffset/offset"
	extotel "github.com/hugolhafner/extoffset/otel"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// ErrSessionTimeout is returned by Run when a loop went longer than its session
// timeout without a successful poll.
var ErrSessionTimeout = errors.New("session timeout")

var _ Runner = (*Loop)(nil)

// Loop polls one consumer, hands records to its worker through a Queue and
// advances the cached offsets of the partitions it polled. Offsets are advanced
// as soon as a batch is queued, not once it is processed.
type Loop struct {
	id          int
	consumer    kafka.Consumer
	topics      []string
	manager     *offset.Manager
	coordinator *ShutdownCoordinator
	config      LoopConfig
	logger      logger.Logger

	queue  *Queue
	worker *Worker

	stateMu    sync.Mutex
	state      State
	pollCeased chan struct{}
	ceaseOnce  sync.Once

	// inFlight holds the next offsets of the batch being handed over. It is
	// emptied once the batch is advanced, so an offset reset is never undone
	// by a stale value.
	trackMu  sync.Mutex
	inFlight map[kafka.TopicPartition]int64
	touched  map[kafka.TopicPartition]struct{}
	owners   map[kafka.TopicPartition]string

	deadline       time.Time
	unavailableLog *rate.Limiter
}

func NewLoop(
	id int,
	consumer kafka.Consumer,
	topics []string,
	processor Processor,
	manager *offset.Manager,
	coordinator *ShutdownCoordinator,
	opts ...LoopOption,
) *Loop {
	config := defaultLoopConfig()
	for _, opt := range opts {
		opt.applyLoop(&config)
	}
	if config.InstanceID == "" {
		config.InstanceID = offset.InstanceID()
	}

	l := config.Logger.With("component", "consume-loop", "loop", id)
	q := NewQueue(config.QueueCapacity, config.OfferTimeout)

	return &Loop{
		id:          id,
		consumer:    consumer,
		topics:      topics,
		manager:     manager,
		coordinator: coordinator,
		config:      config,
		logger:      l,
		queue:       q,
		worker: newWorker(
			id, manager.Group(), q, processor, config.ErrorHandler, config.WorkerPollWait, config.Telemetry, l,
		),
		state:          StatePolling,
		pollCeased:     make(chan struct{}),
		inFlight:       make(map[kafka.TopicPartition]int64),
		touched:        make(map[kafka.TopicPartition]struct{}),
		owners:         make(map[kafka.TopicPartition]string),
		unavailableLog: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

func (l *Loop) ID() int {
	return l.id
}

func (l *Loop) Consumer() kafka.Consumer {
	return l.consumer
}

func (l *Loop) Manager() *offset.Manager {
	return l.manager
}

func (l *Loop) Queue() *Queue {
	return l.queue
}

func (l *Loop) State() State {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.state
}

// Touched returns the partitions this loop advanced at least once, sorted.
func (l *Loop) Touched() []kafka.TopicPartition {
	l.trackMu.Lock()
	tps := make([]kafka.TopicPartition, 0, len(l.touched))
	for tp := range l.touched {
		tps = append(tps, tp)
	}
	l.trackMu.Unlock()

	kafka.SortTopicPartitions(tps)
	return tps
}

// Run consumes until ctx is done, the coordinator is closed, the session times
// out or a fatal error occurs, then runs the shared shutdown sequence. It returns
// nil on an interrupt and the cause otherwise.
func (l *Loop) Run(ctx context.Context) (err error) {
	tel := l.config.Telemetry
	loopAttrs := metric.WithAttributes(extotel.AttrLoopID.Int(l.id))
	tel.LoopsActive.Add(ctx, 1, loopAttrs)
	defer tel.LoopsActive.Add(context.WithoutCancel(ctx), -1, loopAttrs)

	l.worker.Start(context.WithoutCancel(ctx))

	defer l.coordinator.Shutdown(context.WithoutCancel(ctx), l)
	defer func() {
		if r := recover(); r != nil {
			err = l.fail(ctx, fmt.Errorf("consume loop panic: %v", r))
		}
	}()

	if err := l.consumer.Subscribe(l.topics, l); err != nil {
		return l.fail(ctx, fmt.Errorf("subscribe: %w", err))
	}

	l.logger.Info("Consume loop started", "topics", l.topics)
	return l.consume(ctx)
}

func (l *Loop) consume(ctx context.Context) error {
	var (
		errAttempts uint
		unhealthy   bool
	)
	health := l.manager.Health()
	l.refreshDeadline()

	for {
		if l.coordinator.Closed() || ctx.Err() != nil {
			l.interrupt(ctx)
			return nil
		}

		if !health.Healthy() {
			if l.unavailableLog.Allow() {
				l.logger.Warn(
					"Offset store unavailable, polling suspended", "error", health.LastError(), "since",
					health.Since(),
				)
			}
			unhealthy = true
			sleep(ctx, l.config.StoreRetryInterval)
			continue
		}
		if unhealthy {
			unhealthy = false
			l.logger.Info("Offset store available, resuming polling")
			l.refreshDeadline()
		}

		if time.Now().After(l.deadline) {
			return l.sessionTimeout(ctx)
		}

		l.drainOverflow(ctx)

		records, err := l.poll(ctx)
		if len(records) > 0 {
			l.handleBatch(ctx, records)
		}
		if err != nil {
			switch {
			case kafka.IsWakeup(err):
				l.interrupt(ctx)
				return nil

			case errors.Is(err, kafka.ErrOffsetOutOfRange):
				l.logger.Warn("Offset out of range", "error", err)
				partitions := kafka.OutOfRangePartitions(err)
				if herr := l.config.Hooks.OnOffsetOutOfRange(ctx, l, partitions); herr != nil {
					l.logger.Error("Offset out of range hook failed", "error", herr)
				}

			case kafka.IsRetriable(err):
				wait := l.config.PollErrorBackoff.Next(errAttempts)
				errAttempts++
				l.logger.Warn("Poll error", "error", err, "attempt", errAttempts, "backoff", wait)
				sleep(ctx, wait)

			default:
				return l.fail(ctx, fmt.Errorf("poll: %w", err))
			}
			continue
		}

		errAttempts = 0
		l.refreshDeadline()
	}
}

func (l *Loop) poll(ctx context.Context) ([]kafka.ConsumerRecord, error) {
	tel := l.config.Telemetry
	pollStart := time.Now()

	pollCtx, receiveSpan := tel.Tracer.Start(
		ctx, "receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationTypeReceive,
			semconv.MessagingConsumerGroupName(l.manager.Group()),
			extotel.AttrLoopID.Int(l.id),
		),
	)
	defer receiveSpan.End()

	records, err := l.consumer.Poll(pollCtx)
	if err != nil {
		receiveSpan.RecordError(err)
		tel.PollDuration.Record(
			ctx, time.Since(pollStart).Seconds(), metric.WithAttributes(
				extotel.AttrPollStatus.String(extotel.StatusError),
			),
		)
		return records, err
	}

	tel.PollDuration.Record(
		ctx, time.Since(pollStart).Seconds(), metric.WithAttributes(
			extotel.AttrPollStatus.String(extotel.StatusSuccess),
		),
	)
	receiveSpan.SetAttributes(semconv.MessagingBatchMessageCount(len(records)))

	if len(records) > 0 {
		l.logger.Debug("Polled records", "count", len(records))
	}
	return records, nil
}

// handleBatch queues a polled batch with every assigned partition paused, then
// advances the cached offsets of the batch.
func (l *Loop) handleBatch(ctx context.Context, records []kafka.ConsumerRecord) {
	tel := l.config.Telemetry
	for _, rec := range records {
		tel.MessagesConsumed.Add(
			ctx, 1, metric.WithAttributes(
				semconv.MessagingDestinationName(rec.Topic),
				semconv.MessagingDestinationPartitionID(strconv.FormatInt(int64(rec.Partition), 10)),
			),
		)
	}

	assignment := l.consumer.Assignment()
	l.pause(ctx, assignment)

	hadOverflow := l.queue.OverflowLen() > 0
	if spilled := l.queue.Enqueue(ctx, records); spilled > 0 {
		tel.OverflowSpills.Add(ctx, int64(spilled), metric.WithAttributes(extotel.AttrLoopID.Int(l.id)))
		l.logger.Debug("Records spilled to overflow", "count", spilled, "overflow", l.queue.OverflowLen())
	}
	if hadOverflow {
		sleep(ctx, l.config.OverflowBackoff)
		l.queue.Drain(ctx, false)
	}

	if l.queue.OverflowLen() == 0 {
		l.resume(ctx)
	} else {
		sleep(ctx, l.config.ThrottleSleep)
	}

	var filter []kafka.TopicPartition
	if len(assignment) > 0 {
		filter = assignment
	}
	last, counts := kafka.LastPerPartition(records, filter)

	tps := make([]kafka.TopicPartition, 0, len(last))
	for tp := range last {
		tps = append(tps, tp)
	}
	kafka.SortTopicPartitions(tps)

	storeCtx := context.WithoutCancel(ctx)
	for _, tp := range tps {
		next := last[tp].Offset + 1
		owner := l.track(tp, next)
		if err := l.manager.Advance(
			storeCtx, tp, next, offset.AsOwner(owner), offset.WithCount(counts[tp]),
		); err != nil {
			l.logger.Warn("Failed to advance offset", "partition", tp.String(), "offset", next, "error", err)
		}
	}
	l.settle(tps)

	if l.config.Trigger != nil {
		l.config.Trigger.RecordsAdvanced(len(records))
	}
}

// drainOverflow moves what fits of the overflow queue back into processing and
// resumes polling once overflow is empty.
func (l *Loop) drainOverflow(ctx context.Context) {
	if l.queue.OverflowLen() > 0 {
		if moved := l.queue.Drain(ctx, false); moved > 0 {
			l.logger.Debug("Drained overflow", "moved", moved, "remaining", l.queue.OverflowLen())
		}
	}

	if l.State() == StatePausedForBackpressure && l.queue.OverflowLen() == 0 {
		l.resume(ctx)
	}
}

func (l *Loop) pause(ctx context.Context, assignment []kafka.TopicPartition) {
	if len(assignment) > 0 {
		l.consumer.PausePartitions(assignment...)
	}
	l.transition(ctx, StatePausedForBackpressure)
}

func (l *Loop) resume(ctx context.Context) {
	if assignment := l.consumer.Assignment(); len(assignment) > 0 {
		l.consumer.ResumePartitions(assignment...)
	}
	l.transition(ctx, StatePolling)
}

// track records next as the in-flight offset of tp and returns the owner tag
// this loop writes for it.
func (l *Loop) track(tp kafka.TopicPartition, next int64) string {
	l.trackMu.Lock()
	defer l.trackMu.Unlock()

	if next > l.inFlight[tp] {
		l.inFlight[tp] = next
	}
	l.touched[tp] = struct{}{}

	owner, ok := l.owners[tp]
	if !ok {
		owner = offset.Owner(l.manager.Cluster(), l.manager.Group(), tp, l.config.InstanceID, time.Now())
		l.owners[tp] = owner
	}
	return owner
}

// settle forgets the in-flight offsets of tps once they reached the cache.
func (l *Loop) settle(tps []kafka.TopicPartition) {
	l.trackMu.Lock()
	defer l.trackMu.Unlock()

	for _, tp := range tps {
		delete(l.inFlight, tp)
	}
}

// saveLastKnown advances the cache to the offsets of a batch that was cut short,
// then either keeps this loop as owner or releases every partition it owns.
func (l *Loop) saveLastKnown(ctx context.Context, release bool) {
	l.trackMu.Lock()
	offsets := make(map[kafka.TopicPartition]int64, len(l.inFlight))
	owners := make(map[kafka.TopicPartition]string, len(l.owners))
	tps := make([]kafka.TopicPartition, 0, len(l.inFlight))
	for tp, off := range l.inFlight {
		offsets[tp] = off
		tps = append(tps, tp)
	}
	for tp, owner := range l.owners {
		owners[tp] = owner
	}
	l.inFlight = make(map[kafka.TopicPartition]int64)
	l.trackMu.Unlock()

	kafka.SortTopicPartitions(tps)
	for _, tp := range tps {
		if err := l.manager.Advance(ctx, tp, offsets[tp], offset.AsOwner(owners[tp])); err != nil {
			l.logger.Error(
				"Failed to save last known offset", "partition", tp.String(), "offset", offsets[tp], "error", err,
			)
		}
	}

	if !release {
		return
	}

	owned := make([]kafka.TopicPartition, 0, len(owners))
	for tp := range owners {
		owned = append(owned, tp)
	}
	kafka.SortTopicPartitions(owned)
	for _, tp := range owned {
		err := l.manager.Release(ctx, tp, owners[tp])
		if err != nil && !errors.Is(err, offset.ErrNotCached) {
			l.logger.Error("Failed to release partition", "partition", tp.String(), "error", err)
		}
	}
}

func (l *Loop) interrupt(ctx context.Context) {
	l.logger.Info("Consume loop interrupted, saving last known offsets")
	l.saveLastKnown(context.WithoutCancel(ctx), true)
}

func (l *Loop) fail(ctx context.Context, err error) error {
	l.logger.Error("Consume loop failed", "error", err)
	ctx = context.WithoutCancel(ctx)
	l.saveLastKnown(ctx, false)
	l.config.Hooks.OnFatalError(ctx, l, err)
	return err
}

func (l *Loop) sessionTimeout(ctx context.Context) error {
	l.transition(ctx, StateSessionTimeout)
	l.logger.Error("No successful poll within session timeout, stopping", "timeout", l.config.SessionTimeout)
	l.config.Hooks.OnSessionTimeout(context.WithoutCancel(ctx), l)
	return fmt.Errorf("loop %d: %w after %s", l.id, ErrSessionTimeout, l.config.SessionTimeout)
}

func (l *Loop) refreshDeadline() {
	l.deadline = time.Now().Add(l.config.SessionTimeout)
}

// transition moves the loop to next and reports whether the loop is now in next.
func (l *Loop) transition(ctx context.Context, next State) bool {
	l.stateMu.Lock()
	prev := l.state
	if prev == next {
		l.stateMu.Unlock()
		return true
	}
	if !prev.CanTransition(next) {
		l.stateMu.Unlock()
		l.logger.Warn("Ignoring invalid state transition", "from", prev.String(), "to", next.String())
		return false
	}
	l.state = next
	if next == StateStopping {
		l.ceasePolling()
	}
	l.stateMu.Unlock()

	l.config.Telemetry.LoopTransitions.Add(
		ctx, 1, metric.WithAttributes(
			extotel.AttrLoopID.Int(l.id),
			extotel.AttrLoopState.String(next.String()),
		),
	)
	l.logger.Debug("Consume loop state changed", "from", prev.String(), "to", next.String())
	return true
}

// ceasePolling releases Worker.Stop. Safe to call more than once.
func (l *Loop) ceasePolling() {
	l.ceaseOnce.Do(func() { close(l.pollCeased) })
}

func (l *Loop) OnAssigned(_ context.Context, partitions []kafka.TopicPartition) {
	l.logger.Info("Partitions assigned", "partitions", partitionList(partitions))
}

// OnRevoked forgets the revoked partitions and flushes their cached offsets
// before another consumer picks them up.
func (l *Loop) OnRevoked(ctx context.Context, partitions []kafka.TopicPartition) {
	l.logger.Info("Partitions revoked", "partitions", partitionList(partitions))

	l.trackMu.Lock()
	for _, tp := range partitions {
		delete(l.inFlight, tp)
		delete(l.owners, tp)
	}
	l.trackMu.Unlock()

	if err := l.manager.FlushRevoked(context.WithoutCancel(ctx), partitions); err != nil {
		l.logger.Error("Failed to flush revoked partitions", "error", err)
	}
}

func partitionList(partitions []kafka.TopicPartition) []string {
	sorted := append([]kafka.TopicPartition(nil), partitions...)
	kafka.SortTopicPartitions(sorted)

	out := make([]string, len(sorted))
	for i, tp := range sorted {
		out[i] = tp.String()
	}
	return out
}
