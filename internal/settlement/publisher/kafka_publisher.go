package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	skafka "github.com/radieske/prize-settlement/internal/shared/kafka"
	"github.com/radieske/prize-settlement/pkg/contracts/events"
)

// MessageWriter é o subconjunto do *kafka.Writer usado aqui
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publica pernas e resumos de liquidação, chaveados pelo run id
// para manter a ordem de uma execução na mesma partição.
type KafkaPublisher struct {
	legs      MessageWriter
	completed MessageWriter
	log       *zap.Logger
	now       func() time.Time
}

func NewKafkaPublisher(legs, completed MessageWriter, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{legs: legs, completed: completed, log: log, now: time.Now}
}

// PublishLegs envia todas as pernas em um único lote
func (p *KafkaPublisher) PublishLegs(ctx context.Context, legs []events.SettlementLeg) error {
	if len(legs) == 0 {
		return nil
	}
	ts := p.now().UnixMilli()
	msgs := make([]kafka.Message, 0, len(legs))
	for _, l := range legs {
		l.TsUnixMs = ts
		value, err := json.Marshal(l)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{Key: []byte(l.RunID), Value: value, Time: p.now()})
	}

	if err := p.legs.WriteMessages(ctx, msgs...); err != nil {
		p.log.Error("failed to publish settlement legs", zap.Int("count", len(msgs)), zap.Error(err))
		return err
	}
	p.log.Debug("published settlement legs", zap.Int("count", len(msgs)))
	return nil
}

func (p *KafkaPublisher) PublishCompleted(ctx context.Context, e events.SettlementCompleted) error {
	e.TsUnixMs = p.now().UnixMilli()
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := skafka.WriteJSON(ctx, p.completed, e.RunID, value); err != nil {
		p.log.Error("failed to publish settlement summary", zap.String("run_id", e.RunID), zap.Error(err))
		return err
	}
	p.log.Debug("published settlement summary", zap.String("run_id", e.RunID))
	return nil
}

// Close finaliza os writers e libera recursos associados.
func (p *KafkaPublisher) Close() error {
	err := p.legs.Close()
	if cerr := p.completed.Close(); err == nil {
		err = cerr
	}
	return err
}
