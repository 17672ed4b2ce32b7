// Package messaging publishes verification results and alerts to Kafka and
// reads them back for tailing.
package messaging

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bardlex/poolverify/internal/verify"
	"github.com/bardlex/poolverify/pkg/circuit"
	"github.com/bardlex/poolverify/pkg/errors"
	"github.com/bardlex/poolverify/pkg/log"
	"github.com/bardlex/poolverify/pkg/retry"
)

// KafkaClient publishes and consumes verification events. Writers and readers
// are created lazily and reused per topic (and group, for readers).
type KafkaClient struct {
	brokers []string
	logger  *log.Logger
	writers *handles[*kafka.Writer]
	readers *handles[*kafka.Reader]
	breaker *circuit.Breaker
	retry   *retry.Config
}

// handles caches one kafka handle per key
type handles[T io.Closer] struct {
	mu sync.RWMutex
	m  map[string]T
}

func newHandles[T io.Closer]() *handles[T] {
	return &handles[T]{m: make(map[string]T)}
}

func (h *handles[T]) get(key string, create func() T) (T, bool) {
	h.mu.RLock()
	v, ok := h.m[key]
	h.mu.RUnlock()
	if ok {
		return v, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.m[key]; ok {
		return v, false
	}
	v = create()
	h.m[key] = v
	return v, true
}

func (h *handles[T]) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.m)
}

// closeAll closes and forgets every handle
func (h *handles[T]) closeAll(logger *log.Logger, kind string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for key, v := range h.m {
		if err := v.Close(); err != nil {
			logger.Error("failed to close "+kind, "key", key, "error", err)
			errs = append(errs, err)
		}
	}
	h.m = make(map[string]T)
	return stderrors.Join(errs...)
}

// NewKafkaClient creates a client for brokers. Nothing connects until the
// first publish or consume.
func NewKafkaClient(brokers []string, logger *log.Logger) *KafkaClient {
	if logger == nil {
		logger = log.Discard()
	}

	return &KafkaClient{
		brokers: brokers,
		logger:  logger.WithComponent("kafka"),
		writers: newHandles[*kafka.Writer](),
		readers: newHandles[*kafka.Reader](),
		breaker: circuit.New(&circuit.Config{
			Name:            "kafka",
			MaxFailures:     5,
			SuccessRequired: 3,
			Timeout:         15 * time.Second,
			ResetTimeout:    60 * time.Second,
		}),
		retry: retry.NetworkConfig(),
	}
}

// GetProducer returns the writer for topic
func (k *KafkaClient) GetProducer(topic string) *kafka.Writer {
	writer, created := k.writers.get(topic, func() *kafka.Writer {
		return &kafka.Writer{
			Addr:     kafka.TCP(k.brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
			// results are small and infrequent; flush quickly
			RequiredAcks:           kafka.RequireOne,
			BatchSize:              10,
			BatchTimeout:           20 * time.Millisecond,
			Compression:            kafka.Snappy,
			AllowAutoTopicCreation: true,
		}
	})
	if created {
		k.logger.Info("created Kafka producer", "topic", topic)
	}
	return writer
}

// GetConsumer returns the reader for topic in groupID
func (k *KafkaClient) GetConsumer(topic, groupID string) *kafka.Reader {
	reader, created := k.readers.get(topic+"/"+groupID, func() *kafka.Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     k.brokers,
			Topic:       topic,
			GroupID:     groupID,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    1 << 20,
			MaxWait:     500 * time.Millisecond,
		})
	})
	if created {
		k.logger.Info("created Kafka consumer", "topic", topic, "group_id", groupID)
	}
	return reader
}

func (k *KafkaClient) publish(ctx context.Context, op, topic, key string, data []byte) error {
	return k.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, k.retry, func() error {
			err := k.GetProducer(topic).WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: data, Time: time.Now()})
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeKafka, op, "failed to publish to "+topic).
					WithContext("key", key).
					WithContext("size", len(data))
			}
			k.logger.Debug("published", "topic", topic, "key", key, "size", len(data))
			return nil
		})
	})
}

// PublishProto publishes a protobuf message to Kafka
func (k *KafkaClient) PublishProto(ctx context.Context, topic, key string, msg proto.Message) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "protobuf_marshal",
			"failed to marshal protobuf message").
			WithContext("topic", topic).
			WithContext("key", key)
	}
	return k.publish(ctx, "publish_proto", topic, key, data)
}

// PublishJSON publishes a JSON-encodable value to Kafka
func (k *KafkaClient) PublishJSON(ctx context.Context, topic, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "json_marshal",
			"failed to marshal JSON message").
			WithContext("topic", topic).
			WithContext("key", key)
	}
	return k.publish(ctx, "publish_json", topic, key, data)
}

// PublishResult sends res as a protobuf Struct to TopicResults
func (k *KafkaClient) PublishResult(ctx context.Context, miner string, slot int, res *verify.Result) error {
	event, err := NewResultEvent(miner, slot, res)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "result_event", "failed to build result event")
	}
	return k.PublishProto(ctx, TopicResults, MessageKey(miner, slot), event)
}

// PublishAlert sends alert as JSON to TopicAlerts
func (k *KafkaClient) PublishAlert(ctx context.Context, alert *AlertMessage) error {
	return k.PublishJSON(ctx, TopicAlerts, MessageKey(alert.Miner, alert.Slot), alert)
}

// ConsumeProto consumes and unmarshals protobuf messages from Kafka
func (k *KafkaClient) ConsumeProto(ctx context.Context, reader *kafka.Reader, msg proto.Message) (string, error) {
	return circuit.ExecuteWithResult(ctx, k.breaker, func() (string, error) {
		return retry.DoWithResult(ctx, k.retry, func() (string, error) {
			kafkaMsg, err := reader.ReadMessage(ctx)
			if err != nil {
				return "", errors.Wrap(err, errors.ErrorTypeKafka, "read_message",
					"failed to read message from Kafka")
			}

			if err := proto.Unmarshal(kafkaMsg.Value, msg); err != nil {
				return "", errors.Wrap(err, errors.ErrorTypeValidation, "protobuf_unmarshal",
					"failed to unmarshal protobuf message").
					WithContext("topic", kafkaMsg.Topic).
					WithContext("message_size", len(kafkaMsg.Value))
			}

			key := string(kafkaMsg.Key)
			k.logger.Debug("consumed message", "topic", kafkaMsg.Topic, "key", key, "size", len(kafkaMsg.Value))
			return key, nil
		})
	})
}

// MessageHandler defines the interface for handling Kafka messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, key string, msg proto.Message) error
}

// HandlerFunc adapts a function to MessageHandler
type HandlerFunc func(ctx context.Context, key string, msg proto.Message) error

// HandleMessage calls f
func (f HandlerFunc) HandleMessage(ctx context.Context, key string, msg proto.Message) error {
	return f(ctx, key, msg)
}

// StartResultConsumer tails TopicResults until ctx is done
func (k *KafkaClient) StartResultConsumer(ctx context.Context, groupID string, handler MessageHandler) error {
	return k.StartConsumer(ctx, TopicResults, groupID, func() proto.Message { return &structpb.Struct{} }, handler)
}

// StartConsumer starts a consumer loop for a topic
func (k *KafkaClient) StartConsumer(ctx context.Context, topic, groupID string, msgFactory func() proto.Message, handler MessageHandler) error {
	reader := k.GetConsumer(topic, groupID)

	k.logger.Info("starting consumer", "topic", topic, "group_id", groupID)

	for {
		select {
		case <-ctx.Done():
			k.logger.Info("consumer stopping", "topic", topic)
			return ctx.Err()
		default:
		}

		msg := msgFactory()
		key, err := k.ConsumeProto(ctx, reader, msg)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			k.logger.Error("failed to consume message", "topic", topic, "error", err)
			continue
		}

		if err := handler.HandleMessage(ctx, key, msg); err != nil {
			k.logger.Error("failed to handle message", "topic", topic, "key", key, "error", err)
		}
	}
}

// Close closes every writer and reader the client opened
func (k *KafkaClient) Close() error {
	return stderrors.Join(
		k.writers.closeAll(k.logger, "producer"),
		k.readers.closeAll(k.logger, "consumer"),
	)
}
