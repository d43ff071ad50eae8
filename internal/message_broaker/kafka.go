package message_broaker

import (
	"context"
	"errors"
	kafka "github.com/segmentio/kafka-go"
	"log"
	"sync"
	"time"
)

const kafkaWriteTimeout = 3 * time.Second

// Kafka publishes to one topic. Consume joins groupID; it needs a non-empty group.
type Kafka struct {
	brokers []string
	topic   string
	groupID string
	writer  *kafka.Writer

	mu     sync.Mutex
	reader *kafka.Reader
}

func NewKafka(brokers []string, topic, groupID string) (*Kafka, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka: brokers and topic are required")
	}
	return &Kafka{
		brokers: brokers,
		topic:   topic,
		groupID: groupID,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}, nil
}

// Publish keys messages so events of one task land on one partition in order.
func (k *Kafka) Publish(ctx context.Context, key string, message []byte) error {
	cctx, cancel := context.WithTimeout(ctx, kafkaWriteTimeout)
	defer cancel()

	return k.writer.WriteMessages(cctx, kafka.Message{
		Key:   []byte(key),
		Value: message,
		Time:  time.Now(),
	})
}

func (k *Kafka) Consume(ctx context.Context) (<-chan []byte, error) {
	if k.groupID == "" {
		return nil, errors.New("kafka: consuming needs a group id")
	}
	k.mu.Lock()
	if k.reader == nil {
		k.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  k.brokers,
			Topic:    k.topic,
			GroupID:  k.groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}
	reader := k.reader
	k.mu.Unlock()

	out := make(chan []byte, 1000)
	go func() {
		defer close(out)
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("kafka: read from %s: %v", k.topic, err)
				}
				return
			}
			select {
			case out <- m.Value:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (k *Kafka) Close() error {
	err := k.writer.Close()
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.reader != nil {
		if rerr := k.reader.Close(); err == nil {
			err = rerr
		}
	}
	return err
}
