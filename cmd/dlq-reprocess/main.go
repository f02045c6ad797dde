// Команда dlq-reprocess читает shop.dlq и возвращает упавшие события магазина
// в их topics. Без -execute только показывает, что было бы отправлено.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/messaging/kafka"
)

const (
	defaultGroupID     = "shop-dlq-reprocess"
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

var knownEvents = map[string]bool{
	domain.EventOrderCreated:      true,
	domain.EventDiscountGenerated: true,
	domain.EventDiscountRedeemed:  true,
}

type config struct {
	brokers     []string
	groupID     string
	sourceTopic string
	targetTopic string
	// events: какие типы событий переотправлять; пусто означает все.
	events      map[string]bool
	limit       int
	execute     bool
	idleTimeout time.Duration
}

// commitOffsets: смещения группы двигаются только при реальной переотправке всего потока.
func (c config) commitOffsets() bool {
	return c.execute && len(c.events) == 0
}

func (c config) wants(eventType string) bool {
	return len(c.events) == 0 || c.events[eventType]
}

// replaySink: куда уходят восстановленные события. *kafka.Producer подходит как есть.
type replaySink interface {
	PublishEvent(topic, key string, event any, headers map[string]string) error
}

var openKafka = func(cfg config) (sarama.ConsumerGroup, replaySink, func(), error) {
	groupConfig := sarama.NewConfig()
	groupConfig.ClientID = defaultGroupID
	groupConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	groupConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()

	group, err := sarama.NewConsumerGroup(cfg.brokers, cfg.groupID, groupConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create consumer group: %w", err)
	}
	if !cfg.execute {
		return group, nil, func() { _ = group.Close() }, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers, log.WithField("component", "dlq-reprocess"))
	if err != nil {
		_ = group.Close()
		return nil, nil, nil, err
	}
	closeAll := func() {
		_ = producer.Close()
		_ = group.Close()
	}
	return group, producer, closeAll, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, sink, closeKafka, err := openKafka(cfg)
	if err != nil {
		fail("%v", err)
	}
	defer closeKafka()

	rep, err := run(ctx, cfg, group, sink)
	rep.log(cfg)
	if err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func readConfig(args []string, getenv func(string) string) (config, error) {
	var (
		brokersRaw string
		eventsRaw  string
		cfg        config
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers, comma-separated (fallback: KAFKA_BROKERS)")
	fs.StringVar(&cfg.groupID, "group", defaultGroupID, "consumer group used to track replay progress")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "dead letter topic")
	fs.StringVar(&cfg.targetTopic, "target-topic", "", "send every event here instead of its original topic")
	fs.StringVar(&eventsRaw, "events", "", "replay only these event types, comma-separated (order.created, discount.generated, discount.redeemed)")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "stop after this many dead letters")
	fs.BoolVar(&cfg.execute, "execute", false, "publish events; without it the run is a dry-run")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "treat a partition as drained after this long without messages")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv("KAFKA_BROKERS")
	}
	cfg.brokers = splitList(brokersRaw)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	cfg.groupID = strings.TrimSpace(cfg.groupID)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case cfg.sourceTopic == "":
		return config{}, errors.New("source-topic is required")
	case cfg.groupID == "":
		return config{}, errors.New("group is required")
	case cfg.targetTopic == cfg.sourceTopic:
		return config{}, errors.New("target-topic must differ from source-topic")
	case cfg.limit <= 0:
		return config{}, errors.New("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, errors.New("idle-timeout must be > 0")
	}

	for _, event := range splitList(eventsRaw) {
		if !knownEvents[event] {
			return config{}, fmt.Errorf("unknown event type %q", event)
		}
		if cfg.events == nil {
			cfg.events = make(map[string]bool)
		}
		cfg.events[event] = true
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, chunk := range strings.Split(raw, ",") {
		if item := strings.TrimSpace(chunk); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func eventNames(events map[string]bool) []string {
	names := make([]string, 0, len(events))
	for name := range events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
