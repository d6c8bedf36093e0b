package events

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaTradeSink mirrors executed trades onto a Kafka topic for durable
// downstream consumers. Depth snapshots and order updates are not mirrored;
// the topic carries the trade tape only.
type KafkaTradeSink struct {
	writer *kafka.Writer
	log    *zap.Logger
}

func NewKafkaTradeSink(brokers []string, topic string, log *zap.Logger) *KafkaTradeSink {
	return &KafkaTradeSink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
		log: log,
	}
}

func (s *KafkaTradeSink) TradeExecuted(ctx context.Context, trade Trade) {
	raw, err := json.Marshal(trade)
	if err != nil {
		s.log.Error("marshal kafka trade", zap.Error(err))
		return
	}
	msg := kafka.Message{
		// Keyed by market so one market's tape stays ordered per partition.
		Key:   []byte(trade.Market),
		Value: raw,
		Headers: []kafka.Header{
			{Key: "trade_id", Value: []byte(strconv.FormatInt(trade.TradeID, 10))},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.log.Warn("write kafka trade",
			zap.String("market", trade.Market),
			zap.Int64("trade_id", trade.TradeID),
			zap.Error(err))
	}
}

func (s *KafkaTradeSink) DepthChanged(context.Context, DepthEvent)  {}
func (s *KafkaTradeSink) OrderUpdated(context.Context, OrderUpdate) {}

// Close flushes and closes the underlying writer.
func (s *KafkaTradeSink) Close() error {
	return s.writer.Close()
}
