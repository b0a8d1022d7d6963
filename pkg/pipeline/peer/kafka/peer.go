package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/restless/pkg/pipeline"
	"github.com/edgeflare/restless/pkg/pipeline/cdc"
	"go.uber.org/zap"
)

// PeerKafka implements the sink for Kafka
type PeerKafka struct {
	producer sarama.SyncProducer
	admin    sarama.ClusterAdmin
	config   Config
	logger   *zap.Logger

	mu     sync.Mutex
	topics map[string]bool // known to exist
}

func (p *PeerKafka) Connect(config map[string]any) error {
	var cfg Config
	if err := pipeline.DecodeConfig(config, &cfg); err != nil {
		return err
	}
	cfg.setDefaults()

	saramaConfig, err := cfg.ToSaramaConfig()
	if err != nil {
		return err
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	var admin sarama.ClusterAdmin
	if cfg.CreateTopics {
		if admin, err = sarama.NewClusterAdmin(cfg.Brokers, saramaConfig); err != nil {
			producer.Close()
			return fmt.Errorf("failed to create cluster admin: %w", err)
		}
	}

	p.init(cfg, producer, admin)
	return nil
}

func (p *PeerKafka) init(cfg Config, producer sarama.SyncProducer, admin sarama.ClusterAdmin) {
	p.config = cfg
	p.producer = producer
	p.admin = admin
	p.topics = make(map[string]bool)
	p.logger = zap.L().Named(pipeline.ConnectorKafka)
}

func (p *PeerKafka) Pub(_ context.Context, event cdc.Event) error {
	if p.producer == nil {
		return pipeline.ErrNotConnected
	}

	topic := event.Topic(p.config.TopicPrefix, ".")
	if err := p.ensureTopic(topic); err != nil {
		return err
	}

	msg, err := p.message(topic, event)
	if err != nil {
		return backoff.Permanent(err)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("published message",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (p *PeerKafka) message(topic string, event cdc.Event) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CDC event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("op"), Value: []byte(event.Payload.Op)},
			{Key: []byte("ts_ms"), Value: []byte(strconv.FormatInt(event.Payload.TsMs, 10))},
		},
	}
	if key := event.Key(p.config.KeyColumn); key != nil {
		msg.Key = sarama.ByteEncoder(key)
	}
	if tx := event.Payload.Transaction; tx != nil {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte("tx"), Value: []byte(tx.ID)})
	}
	return msg, nil
}

// ensureTopic creates the topic the first time it is seen when CreateTopics is set.
func (p *PeerKafka) ensureTopic(topic string) error {
	if p.admin == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.topics[topic] {
		return nil
	}

	topics, err := p.admin.ListTopics()
	if err != nil {
		return fmt.Errorf("failed to list topics: %w", err)
	}
	if _, exists := topics[topic]; !exists {
		retention := strconv.FormatInt(p.config.Retention.Milliseconds(), 10)
		detail := &sarama.TopicDetail{
			NumPartitions:     p.config.Partitions,
			ReplicationFactor: p.config.Replicas,
			ConfigEntries:     map[string]*string{"retention.ms": &retention},
		}
		if err := p.admin.CreateTopic(topic, detail, false); err != nil {
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		}
		p.logger.Info("created topic", zap.String("topic", topic))
	}
	p.topics[topic] = true
	return nil
}

func (p *PeerKafka) Disconnect() error {
	var err error
	if p.admin != nil {
		err = p.admin.Close()
	}
	if p.producer != nil {
		if perr := p.producer.Close(); perr != nil {
			err = perr
		}
	}
	return err
}

func init() {
	pipeline.MustRegisterConnector(pipeline.ConnectorKafka, func() pipeline.Connector { return &PeerKafka{} })
}
