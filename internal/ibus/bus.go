// Package ibus is the internal message bus: interface up/down, address
// add/remove, route-redistribute subscribe/unsubscribe and
// route-add/remove-to-FIB events that cross daemon boundaries.
//
// Because bgpd/ospfd/ldpd are independent processes, IBUS is a real
// cross-process transport rather than an in-process channel: one Kafka
// topic per event class, partitioned by instance name, so per-source
// event ordering falls out of Kafka's per-partition ordering. Offsets
// are committed only after the caller acks a record, never on fetch;
// routingd acks a record once it has been handed to the IBUS channel of
// every matching instance, before those event loops process it.
package ibus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/holo-routing/routingd/internal/metrics"
)

// EventClass names one of the IBUS topics. Each maps 1:1 to a Kafka
// topic; the instance name becomes the Kafka partition key so that all
// events for one instance retain relative order.
type EventClass string

const (
	ClassInterface     EventClass = "ibus.interface"
	ClassAddress       EventClass = "ibus.address"
	ClassRedistribute  EventClass = "ibus.redistribute"
	ClassRouteToFIB    EventClass = "ibus.route"
)

// InterfaceEvent signals interface up/down.
type InterfaceEvent struct {
	Instance string
	Name     string
	Up       bool
	IfIndex  uint32
}

// AddressEvent signals an address add/remove on an interface.
type AddressEvent struct {
	Instance string
	IfName   string
	Address  string // CIDR
	Added    bool
}

// RedistributeEvent is a subscribe/unsubscribe to a foreign protocol's
// routes for one AFI.
type RedistributeEvent struct {
	Instance string
	Protocol string
	AFI      int
	SAFI     int
	Subscribe bool
}

// RouteEvent is a redistributed route crossing from one protocol's RIB
// into another's, or a withdrawal of one.
type RouteEvent struct {
	Instance  string
	Protocol  string
	Prefix    string
	AFI       int
	NextHop   string
	Metric    uint32
	Withdrawn bool
}

// Producer publishes IBUS events. One Producer is shared by every
// instance in a process; partitioning by instance name is what keeps
// per-source ordering intact across a shared client.
type Producer struct {
	client *kgo.Client
	enc    *zstd.Encoder
	logger *zap.Logger
}

func NewProducer(brokers []string, clientID string, logger *zap.Logger) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.DefaultProduceTopic(string(ClassRouteToFIB)),
	)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		client.Close()
		return nil, err
	}
	return &Producer{client: client, enc: enc, logger: logger}, nil
}

// Publish compresses payload with zstd and produces it to class, keyed
// by instance so a single partition carries every event for that
// instance in order.
func (p *Producer) Publish(ctx context.Context, class EventClass, instance string, payload []byte) error {
	compressed := p.enc.EncodeAll(payload, nil)
	rec := &kgo.Record{
		Topic: string(class),
		Key:   []byte(instance),
		Value: compressed,
	}
	result := p.client.ProduceSync(ctx, rec)
	if err := result.FirstErr(); err != nil {
		return err
	}
	metrics.IBusMessagesTotal.WithLabelValues(string(class), "out").Inc()
	return nil
}

func (p *Producer) Close() {
	p.enc.Close()
	p.client.Close()
}

// Consumer reads one or more IBUS classes for one or more instances and delivers
// decompressed payloads to the caller, committing offsets only after
// the caller has confirmed delivery.
type Consumer struct {
	client *kgo.Client
	dec    *zstd.Decoder
	logger *zap.Logger
	joined atomic.Bool
}

func NewConsumer(brokers []string, groupID string, classes []EventClass, clientID string, logger *zap.Logger) (*Consumer, error) {
	c := &Consumer{logger: logger}

	topics := make([]string, len(classes))
	for i, cl := range classes {
		topics[i] = string(cl)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.ClientID(clientID),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			c.joined.Store(true)
			logger.Info("ibus consumer: partitions assigned")
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, _ map[string][]int32) {
			if err := cl.CommitMarkedOffsets(ctx); err != nil {
				logger.Error("ibus consumer: commit on revoke failed", zap.Error(err))
			}
			c.joined.Store(false)
		}),
		kgo.OnPartitionsLost(func(_ context.Context, _ *kgo.Client, _ map[string][]int32) {
			c.joined.Store(false)
		}),
	)
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		client.Close()
		return nil, err
	}

	c.client = client
	c.dec = dec
	return c, nil
}

// Record is a decompressed IBUS message ready for the instance's IBUS
// channel.
type Record struct {
	Class    EventClass
	Instance string
	Payload  []byte
	raw      *kgo.Record
}

// Run polls for records and delivers them to out; acked must be fed back
// the exact Record values the caller has finished processing so their
// offsets can be committed.
func (c *Consumer) Run(ctx context.Context, out chan<- Record, acked <-chan Record) {
	go func() {
		for rec := range acked {
			c.client.MarkCommitRecords(rec.raw)
			commitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.client.CommitMarkedOffsets(commitCtx); err != nil {
				c.logger.Error("ibus consumer: commit offsets failed", zap.Error(err))
			}
			cancel()
		}
	}()

	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				c.logger.Error("ibus consumer: fetch error",
					zap.String("topic", e.Topic), zap.Error(e.Err))
			}
		}

		var done bool
		fetches.EachRecord(func(r *kgo.Record) {
			if done {
				return
			}
			payload, err := c.dec.DecodeAll(r.Value, nil)
			if err != nil {
				c.logger.Warn("ibus consumer: decompress failed", zap.Error(err))
				return
			}
			rec := Record{Class: EventClass(r.Topic), Instance: string(r.Key), Payload: payload, raw: r}
			select {
			case out <- rec:
				metrics.IBusMessagesTotal.WithLabelValues(r.Topic, "in").Inc()
			case <-ctx.Done():
				done = true
			}
		})
		if done {
			return
		}
	}
}

func (c *Consumer) IsJoined() bool {
	return c.joined.Load()
}

func (c *Consumer) Close() {
	c.dec.Close()
	c.client.Close()
}
