// Package events publishes "datacube ready" notifications to Kafka.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

type ReadyEvent struct {
	RunID            string    `json:"run_id"`
	EntityID         string    `json:"entity_id,omitempty"`
	Fingerprint      string    `json:"request_fingerprint,omitempty"`
	Provider         string    `json:"provider"`
	StorageLink      string    `json:"storage_link"`
	Indicators       []string  `json:"indicators"`
	FailedIndicators []string  `json:"failed_indicators,omitempty"`
	H3Resolution     int       `json:"h3_resolution,omitempty"`
	H3Cells          []string  `json:"h3_cells,omitempty"`
	TS               time.Time `json:"ts"`
}

// key groups events of the same request on one partition.
func (e ReadyEvent) key() string {
	if e.Fingerprint != "" {
		return e.Fingerprint
	}
	return e.RunID
}

type Publisher struct {
	topic   string
	events  chan ReadyEvent
	prod    sarama.AsyncProducer
	logger  *slog.Logger
	mu      sync.RWMutex
	closed  bool
	stopped chan struct{}
	errDone chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return newPublisher(prod, topic, queueSize, logger), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Publisher{
		topic:   topic,
		events:  make(chan ReadyEvent, queueSize),
		prod:    prod,
		logger:  logger,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Error("events: marshal", "run_id", ev.RunID, "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.key()),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Error("events: producer error", "topic", p.topic, "err", err)
			}
		}
	}()

	return p
}

// Publish enqueues ev without blocking; a full queue drops the event.
func (p *Publisher) Publish(ev ReadyEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("events: queue full, dropping ready event", "run_id", ev.RunID)
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped
	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
