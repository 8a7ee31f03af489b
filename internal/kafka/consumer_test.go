package kafka

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

const (
	eventsTopic = "video-events"
	dlqTopic    = "video-events-dlq"
	group       = "notification-test"
)

// scriptedHandler records every payload it sees and answers with decide.
// decide receives how many times the payload has been seen, starting at 1.
type scriptedHandler struct {
	mu     sync.Mutex
	seen   []string
	counts map[string]int
	decide func(payload string, n int) Decision
}

func newScriptedHandler(decide func(payload string, n int) Decision) *scriptedHandler {
	return &scriptedHandler{counts: make(map[string]int), decide: decide}
}

func (h *scriptedHandler) Handle(_ context.Context, payload []byte) Decision {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := string(payload)
	h.seen = append(h.seen, p)
	h.counts[p]++
	return h.decide(p, h.counts[p])
}

func (h *scriptedHandler) Seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

func (h *scriptedHandler) Count(payload string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[payload]
}

// nackOnce nacks the first delivery of payload and acks everything else.
func nackOnce(payload string) func(string, int) Decision {
	return func(p string, n int) Decision {
		if p == payload && n == 1 {
			return DecisionNack
		}
		return DecisionAck
	}
}

type decisionCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (d *decisionCounter) ObserveDecision(decision string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.counts == nil {
		d.counts = make(map[string]int)
	}
	d.counts[decision]++
}

func (d *decisionCounter) Get(decision string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[decision]
}

func newCluster(t *testing.T, partitions int32, topics ...string) *kfake.Cluster {
	t.Helper()
	opts := []kfake.Opt{kfake.NumBrokers(1)}
	if len(topics) > 0 {
		opts = append(opts, kfake.SeedTopics(partitions, topics...))
	}
	c, err := kfake.NewCluster(opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func newClient(t *testing.T, c *kfake.Cluster, opts ...kgo.Opt) *kgo.Client {
	t.Helper()
	cl, err := kgo.NewClient(append([]kgo.Opt{kgo.SeedBrokers(c.ListenAddrs()...)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(cl.Close)
	return cl
}

// produce writes values to partition in order.
func produce(t *testing.T, c *kfake.Cluster, partition int32, values ...string) {
	t.Helper()
	cl := newClient(t, c, kgo.RecordPartitioner(kgo.ManualPartitioner()))
	records := make([]*kgo.Record, 0, len(values))
	for _, v := range values {
		records = append(records, &kgo.Record{Topic: eventsTopic, Partition: partition, Value: []byte(v)})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, cl.ProduceSync(ctx, records...).FirstErr())
}

func testConfig(c *kfake.Cluster) Config {
	return Config{
		Brokers:         c.ListenAddrs(),
		Topic:           eventsTopic,
		GroupID:         group,
		DeadLetterTopic: dlqTopic,
		Concurrency:     4,
		RedeliveryDelay: 10 * time.Millisecond,
	}
}

// run starts a consumer and stops it when the test ends.
func run(t *testing.T, cfg Config, h Handler, observer DecisionObserver) *Consumer {
	t.Helper()
	cons, err := New(cfg, h, observer)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		cons.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		cons.Close()
		<-done
	})
	return cons
}

// committedOffset returns the group's committed offset for partition, or -1.
func committedOffset(adm *kadm.Client, partition int32) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	offsets, err := adm.FetchOffsets(ctx, group)
	if err != nil {
		return -1
	}
	o, ok := offsets.Lookup(eventsTopic, partition)
	if !ok || o.Err != nil {
		return -1
	}
	return o.At
}

// readDeadLetters consumes n records from the dead-letter topic.
func readDeadLetters(t *testing.T, c *kfake.Cluster, n int) []*kgo.Record {
	t.Helper()
	cl := newClient(t, c, kgo.ConsumeTopics(dlqTopic), kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var out []*kgo.Record
	for len(out) < n {
		fetches := cl.PollFetches(ctx)
		require.NoError(t, ctx.Err(), "timed out waiting for dead letters")
		out = append(out, fetches.Records()...)
	}
	return out
}

func header(r *kgo.Record, key string) string {
	for _, h := range r.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestConsumer_NackRedeliversFromNackedOffset(t *testing.T) {
	c := newCluster(t, 1, eventsTopic, dlqTopic)
	produce(t, c, 0, "a", "b", "c")

	h := newScriptedHandler(nackOnce("b"))
	decisions := &decisionCounter{}
	run(t, testConfig(c), h, decisions)
	adm := kadm.NewClient(newClient(t, c))

	require.Eventually(t, func() bool { return len(h.Seen()) >= 4 }, 10*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return committedOffset(adm, 0) == 3 }, 10*time.Second, 50*time.Millisecond)

	assert.Equal(t, []string{"a", "b", "b", "c"}, h.Seen())
	assert.Equal(t, 1, decisions.Get("nack"))
	assert.Equal(t, 3, decisions.Get("ack"))
}

func TestConsumer_DeadLetterPublishesAndCommits(t *testing.T) {
	c := newCluster(t, 1, eventsTopic, dlqTopic)
	produce(t, c, 0, "poison", "fine")

	h := newScriptedHandler(func(p string, _ int) Decision {
		if p == "poison" {
			return DecisionDeadLetter
		}
		return DecisionAck
	})
	run(t, testConfig(c), h, nil)
	adm := kadm.NewClient(newClient(t, c))

	require.Eventually(t, func() bool { return committedOffset(adm, 0) == 2 }, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, []string{"poison", "fine"}, h.Seen())

	dead := readDeadLetters(t, c, 1)
	require.Len(t, dead, 1)
	assert.Equal(t, "poison", string(dead[0].Value))
	assert.Equal(t, eventsTopic, header(dead[0], "x-original-topic"))
	assert.Equal(t, "0", header(dead[0], "x-original-partition"))
	assert.Equal(t, "0", header(dead[0], "x-original-offset"))
}

func TestConsumer_FailedDeadLetterPublishIsNacked(t *testing.T) {
	c := newCluster(t, 1, eventsTopic, dlqTopic)
	produce(t, c, 0, "poison")

	// Reject the first dead-letter produce with a non-retriable error.
	var rejected atomic.Int32
	c.ControlKey(int16(kmsg.Produce), func(kreq kmsg.Request) (kmsg.Response, error, bool) {
		rejected.Add(1)
		req := kreq.(*kmsg.ProduceRequest)
		resp := req.ResponseKind().(*kmsg.ProduceResponse)
		for _, rt := range req.Topics {
			st := kmsg.NewProduceResponseTopic()
			st.Topic = rt.Topic
			for _, rp := range rt.Partitions {
				sp := kmsg.NewProduceResponseTopicPartition()
				sp.Partition = rp.Partition
				sp.ErrorCode = kerr.TopicAuthorizationFailed.Code
				st.Partitions = append(st.Partitions, sp)
			}
			resp.Topics = append(resp.Topics, st)
		}
		return resp, nil, true
	})

	h := newScriptedHandler(func(string, int) Decision { return DecisionDeadLetter })
	decisions := &decisionCounter{}
	run(t, testConfig(c), h, decisions)
	adm := kadm.NewClient(newClient(t, c))

	require.Eventually(t, func() bool { return committedOffset(adm, 0) == 1 }, 10*time.Second, 50*time.Millisecond)

	assert.Equal(t, int32(1), rejected.Load())
	assert.Equal(t, []string{"poison", "poison"}, h.Seen())
	assert.Equal(t, 1, decisions.Get("nack"))
	assert.Equal(t, 1, decisions.Get("dead_letter"))

	dead := readDeadLetters(t, c, 1)
	require.Len(t, dead, 1)
	assert.Equal(t, "poison", string(dead[0].Value))
}

func TestConsumer_RedeliveryDelayPausesOnlyNackedPartition(t *testing.T) {
	c := newCluster(t, 2, eventsTopic, dlqTopic)
	produce(t, c, 0, "slow")

	firstSeen := make(chan struct{})
	var once sync.Once
	h := newScriptedHandler(func(p string, n int) Decision {
		if p == "slow" && n == 1 {
			once.Do(func() { close(firstSeen) })
			return DecisionNack
		}
		return DecisionAck
	})
	cfg := testConfig(c)
	cfg.RedeliveryDelay = 2 * time.Second
	run(t, cfg, h, nil)

	select {
	case <-firstSeen:
	case <-time.After(10 * time.Second):
		t.Fatal("first delivery never arrived")
	}
	produce(t, c, 1, "other")

	require.Eventually(t, func() bool { return h.Count("other") == 1 }, cfg.RedeliveryDelay, 10*time.Millisecond)
	assert.Equal(t, 1, h.Count("slow"), "nacked partition should still be paused")

	require.Eventually(t, func() bool { return h.Count("slow") == 2 }, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"slow", "other", "slow"}, h.Seen())
}

func TestEnsureSubscription_Idempotent(t *testing.T) {
	c := newCluster(t, 0)
	cfg := testConfig(c)
	cfg.Partitions = 3
	cfg.ReplicationFactor = 1

	cons, err := New(cfg, nil, nil)
	require.NoError(t, err)
	defer cons.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, cons.EnsureSubscription(ctx))
	require.NoError(t, cons.EnsureSubscription(ctx))

	topics, err := kadm.NewClient(newClient(t, c)).ListTopics(ctx, eventsTopic, dlqTopic)
	require.NoError(t, err)
	for _, name := range []string{eventsTopic, dlqTopic} {
		require.True(t, topics.Has(name), name)
		assert.Len(t, topics[name].Partitions, 3, name)
	}
}
