package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// replayer: обработчик consumer group. Каждый partition читается до high water mark
// или до паузы idle-timeout; когда все назначенные partition'ы вычитаны или набран
// limit, прогон останавливается через stop.
type replayer struct {
	cfg    config
	sink   replaySink
	report *report
	stop   context.CancelFunc
	now    func() time.Time
	logger *log.Entry

	mu      sync.Mutex
	taken   int
	claimed int
	drained int
	failure error
}

func newReplayer(cfg config, sink replaySink, rep *report, stop context.CancelFunc) *replayer {
	return &replayer{
		cfg:    cfg,
		sink:   sink,
		report: rep,
		stop:   stop,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.WithField("component", "dlq-reprocess"),
	}
}

// run читает DLQ, пока replayer не остановит прогон, и возвращает отчёт даже при ошибке.
func run(ctx context.Context, cfg config, group sarama.ConsumerGroup, sink replaySink) (*report, error) {
	rep := newReport()
	if group == nil {
		return rep, errors.New("consumer group is required")
	}
	if cfg.execute && sink == nil {
		return rep, errors.New("publisher is required in execute mode")
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	r := newReplayer(cfg, sink, rep, stop)

	r.logger.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"group":        cfg.groupID,
		"events":       eventNames(cfg.events),
		"limit":        cfg.limit,
		"execute":      cfg.execute,
	}).Info("starting shop dlq replay")

	for runCtx.Err() == nil {
		if err := group.Consume(runCtx, []string{cfg.sourceTopic}, r); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				break
			}
			return rep, fmt.Errorf("consume %s: %w", cfg.sourceTopic, err)
		}
	}

	if err := r.err(); err != nil {
		return rep, err
	}
	return rep, ctx.Err()
}

func (r *replayer) Setup(session sarama.ConsumerGroupSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.claimed = len(session.Claims()[r.cfg.sourceTopic])
	r.drained = 0
	if r.claimed == 0 {
		r.logger.Info("no dlq partitions assigned")
		r.stop()
	}
	return nil
}

func (r *replayer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (r *replayer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-session.Context().Done():
			return nil
		case <-idle.C:
			r.logger.WithField("partition", claim.Partition()).Debug("partition idle, treating as drained")
			return r.waitAfterDrain(session)
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			if !r.take() {
				<-session.Context().Done()
				return nil
			}
			if err := r.handle(session, msg); err != nil {
				r.abort(err)
				return err
			}
			if msg.Offset+1 >= claim.HighWaterMarkOffset() {
				return r.waitAfterDrain(session)
			}
			idle.Reset(r.cfg.idleTimeout)
		}
	}
}

func (r *replayer) handle(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) error {
	logger := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	dl, err := decodeDeadLetter(msg)
	switch {
	case errors.Is(err, errForeignMessage):
		r.report.record("", outcomeBroken)
		logger.Warn("skip message without shop envelope")
	case err != nil:
		r.report.record(dl.EventType, outcomeBroken)
		logger.WithError(err).WithField("event_type", dl.EventType).Warn("skip broken dead letter")
	case !r.cfg.wants(dl.EventType):
		r.report.record(dl.EventType, outcomeFiltered)
	default:
		topic := dl.topic(r.cfg.targetTopic)
		if r.cfg.execute {
			if err := r.sink.PublishEvent(topic, dl.key(), dl.envelope(r.now()), dl.headers()); err != nil {
				return fmt.Errorf("replay %s %s: %w", dl.EventType, dl.OutboxID, err)
			}
		}
		r.report.record(dl.EventType, outcomeReplayed)
		logger.WithFields(log.Fields{
			"event_type":    dl.EventType,
			"outbox_id":     dl.OutboxID,
			"target_topic":  topic,
			"publish_error": dl.PublishError,
			"dry_run":       !r.cfg.execute,
		}).Info("dead letter replayed")
	}

	if r.cfg.commitOffsets() {
		session.MarkMessage(msg, "")
	}
	return nil
}

// take резервирует место под очередное сообщение в пределах limit.
// Последнее место сразу останавливает прогон.
func (r *replayer) take() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.taken >= r.cfg.limit {
		return false
	}
	r.taken++
	if r.taken == r.cfg.limit {
		r.stop()
	}
	return true
}

func (r *replayer) waitAfterDrain(session sarama.ConsumerGroupSession) error {
	r.mu.Lock()
	r.drained++
	if r.drained >= r.claimed {
		r.stop()
	}
	r.mu.Unlock()

	<-session.Context().Done()
	return nil
}

func (r *replayer) abort(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failure == nil {
		r.failure = err
	}
	r.stop()
}

func (r *replayer) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

var _ sarama.ConsumerGroupHandler = (*replayer)(nil)
