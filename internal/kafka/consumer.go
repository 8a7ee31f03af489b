// Package kafka consumes video events from Kafka and turns handler decisions
// into offset commits, rewinds and dead-letter records.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"github.com/videoflow/notification/internal/domain"
)

// Config holds the broker settings.
type Config struct {
	Brokers           []string
	Topic             string
	GroupID           string
	DeadLetterTopic   string
	Partitions        int32
	ReplicationFactor int16
	Concurrency       int
	RedeliveryDelay   time.Duration
}

// Handler decides what happens to one message payload.
type Handler interface {
	Handle(ctx context.Context, payload []byte) Decision
}

// DecisionObserver receives every decision, e.g. metrics.Metrics.
type DecisionObserver interface {
	ObserveDecision(decision string)
}

// Consumer wraps the franz-go Kafka client.
type Consumer struct {
	cfg      Config
	client   *kgo.Client
	handler  Handler
	observer DecisionObserver
	close    sync.Once
}

// New creates a Consumer. With a nil handler the client joins no group and
// can only publish and manage topics.
func New(cfg Config, h Handler, observer DecisionObserver) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: no topic configured")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	}
	if h != nil {
		if cfg.GroupID == "" {
			return nil, errors.New("kafka: no consumer group configured")
		}
		opts = append(opts,
			kgo.ConsumerGroup(cfg.GroupID),
			kgo.ConsumeTopics(cfg.Topic),
			kgo.DisableAutoCommit(),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		)
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return &Consumer{cfg: cfg, client: client, handler: h, observer: observer}, nil
}

// EnsureSubscription creates the topic and the dead-letter topic when they are
// missing. Existing topics count as success, so concurrent callers are safe.
// The consumer group itself is created by the broker on first join.
func (c *Consumer) EnsureSubscription(ctx context.Context) error {
	adm := kadm.NewClient(c.client)

	topics := []string{c.cfg.Topic}
	if c.cfg.DeadLetterTopic != "" {
		topics = append(topics, c.cfg.DeadLetterTopic)
	}

	partitions, replicas := c.cfg.Partitions, c.cfg.ReplicationFactor
	if partitions <= 0 {
		partitions = -1 // broker default
	}
	if replicas <= 0 {
		replicas = -1
	}

	resps, err := adm.CreateTopics(ctx, partitions, replicas, nil, topics...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, r := range resps.Sorted() {
		switch {
		case r.Err == nil:
			log.Info().Str("topic", r.Topic).Int32("partitions", r.NumPartitions).Msg("kafka topic created")
		case errors.Is(r.Err, kerr.TopicAlreadyExists):
			log.Debug().Str("topic", r.Topic).Msg("kafka topic already exists")
		default:
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Start begins polling Kafka and processing records. Blocks until ctx is
// cancelled or the client is closed.
func (c *Consumer) Start(ctx context.Context) {
	if c.handler == nil {
		log.Error().Msg("kafka consumer started without a handler")
		return
	}
	log.Info().
		Str("topic", c.cfg.Topic).
		Str("group", c.cfg.GroupID).
		Int("concurrency", c.cfg.Concurrency).
		Msg("kafka consumer started")

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("kafka fetch error")
		})

		var (
			g      errgroup.Group
			mu     sync.Mutex
			nacked []*kgo.Record
		)
		g.SetLimit(c.cfg.Concurrency)
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			if len(p.Records) == 0 {
				return
			}
			g.Go(func() error {
				if r := c.processPartition(ctx, p.Records); r != nil {
					mu.Lock()
					nacked = append(nacked, r)
					mu.Unlock()
				}
				return nil
			})
		})
		_ = g.Wait()

		// Offsets are reset between polls, never concurrently with commits.
		for _, r := range nacked {
			c.rewind(ctx, r)
		}
	}

	log.Info().Msg("kafka consumer stopped")
}

// processPartition handles records of one partition in order. Decided
// records are committed; on the first nack the rest of the batch is dropped
// and the nacked record is returned so the caller can rewind to it.
func (c *Consumer) processPartition(ctx context.Context, records []*kgo.Record) *kgo.Record {
	done := make([]*kgo.Record, 0, len(records))
	for _, r := range records {
		d := c.handler.Handle(ctx, r.Value)

		if d == DecisionDeadLetter {
			if err := c.deadLetter(ctx, r); err != nil {
				log.Error().Err(err).
					Str("topic", r.Topic).
					Int32("partition", r.Partition).
					Int64("offset", r.Offset).
					Msg("dead-letter publish failed")
				d = DecisionNack
			}
		}
		c.observe(d)

		if d == DecisionNack {
			c.commit(ctx, done)
			return r
		}
		done = append(done, r)
	}
	c.commit(ctx, done)
	return nil
}

func (c *Consumer) commit(ctx context.Context, records []*kgo.Record) {
	if len(records) == 0 {
		return
	}
	if err := c.client.CommitRecords(ctx, records...); err != nil {
		log.Error().Err(err).Msg("kafka commit error")
	}
}

// rewind moves the partition cursor back to r. With a redelivery delay the
// partition is paused until the delay passes; other partitions keep flowing.
func (c *Consumer) rewind(ctx context.Context, r *kgo.Record) {
	tp := map[string][]int32{r.Topic: {r.Partition}}
	if c.cfg.RedeliveryDelay > 0 {
		c.client.PauseFetchPartitions(tp)
	}
	c.client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
		r.Topic: {r.Partition: {Epoch: -1, Offset: r.Offset}},
	})
	if c.cfg.RedeliveryDelay > 0 {
		time.AfterFunc(c.cfg.RedeliveryDelay, func() {
			if ctx.Err() == nil {
				c.client.ResumeFetchPartitions(tp)
			}
		})
	}
	log.Debug().
		Str("topic", r.Topic).
		Int32("partition", r.Partition).
		Int64("offset", r.Offset).
		Dur("delay", c.cfg.RedeliveryDelay).
		Msg("kafka partition rewound for redelivery")
}

func (c *Consumer) deadLetter(ctx context.Context, r *kgo.Record) error {
	if c.cfg.DeadLetterTopic == "" {
		log.Warn().Int64("offset", r.Offset).Msg("no dead-letter topic configured, dropping message")
		return nil
	}
	return c.client.ProduceSync(ctx, deadLetterRecord(c.cfg.DeadLetterTopic, r)).FirstErr()
}

// deadLetterRecord copies r for the dead-letter topic, noting where it came from.
func deadLetterRecord(topic string, r *kgo.Record) *kgo.Record {
	headers := make([]kgo.RecordHeader, 0, len(r.Headers)+3)
	headers = append(headers, r.Headers...)
	headers = append(headers,
		kgo.RecordHeader{Key: "x-original-topic", Value: []byte(r.Topic)},
		kgo.RecordHeader{Key: "x-original-partition", Value: []byte(strconv.FormatInt(int64(r.Partition), 10))},
		kgo.RecordHeader{Key: "x-original-offset", Value: []byte(strconv.FormatInt(r.Offset, 10))},
	)
	return &kgo.Record{Topic: topic, Key: r.Key, Value: r.Value, Headers: headers}
}

func (c *Consumer) observe(d Decision) {
	if c.observer != nil {
		c.observer.ObserveDecision(d.String())
	}
}

// Publish produces ev keyed by its video ID, so one video's events share a partition.
func (c *Consumer) Publish(ctx context.Context, ev domain.VideoEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	rec := &kgo.Record{Topic: c.cfg.Topic, Key: []byte(ev.VideoID), Value: value}
	if err := c.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("publish video event: %w", err)
	}
	return nil
}

// Close leaves the group and releases the client. Safe to call more than once.
func (c *Consumer) Close() {
	c.close.Do(c.client.Close)
}
