/*
 * @module service/notify/kafka_notifier
 * @description 运行结果通知器，将每次 ETL 的 RunSummary 以 JSON 消息发布到 Kafka
 * @architecture 适配器模式 - 封装 kafka-go 生产者
 * @documentReference DESIGN.md
 * @stateFlow 运行结束 -> 序列化 RunSummary -> 发送消息 -> 关闭生产者
 * @rules 消息 key 为 run_id；通知失败只记录日志，不影响运行结果
 * @dependencies github.com/segmentio/kafka-go, encoding/json
 * @refs main.go, service/etl/pipeline.go
 */

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"microbiome-etl/service/config"
	"microbiome-etl/service/etl"
)

const (
	headerEventType  = "event_type"
	eventRunFinished = "etl.run.finished"
	sendTimeout      = 10 * time.Second
)

// messageWriter kafka.Writer 中通知器用到的部分
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RunNotifier 运行结果通知接口
type RunNotifier interface {
	Notify(ctx context.Context, summary *etl.RunSummary) error
	Close() error
}

// KafkaNotifier 基于 Kafka 的运行结果通知器
type KafkaNotifier struct {
	writer messageWriter
	topic  string
}

// NewKafkaNotifier 创建通知器，未配置 broker 时返回 nil
func NewKafkaNotifier(settings config.NotifySettings) *KafkaNotifier {
	if len(settings.Brokers) == 0 || settings.Topic == "" {
		return nil
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(settings.Brokers...),
		Topic:        settings.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}

	slog.Info("Kafka通知器已创建", "brokers", settings.Brokers, "topic", settings.Topic)
	return &KafkaNotifier{writer: writer, topic: settings.Topic}
}

// Notify 发送运行结果
func (n *KafkaNotifier) Notify(ctx context.Context, summary *etl.RunSummary) error {
	if n == nil || summary == nil {
		return nil
	}

	msg, err := buildMessage(summary)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := n.writer.WriteMessages(sendCtx, msg); err != nil {
		return fmt.Errorf("发送运行结果消息失败: %w", err)
	}

	slog.Info("运行结果已发送", "topic", n.topic, "run_id", summary.RunID, "status", summary.Status)
	return nil
}

// Close 关闭生产者
func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}

// buildMessage 序列化运行结果为 Kafka 消息
func buildMessage(summary *etl.RunSummary) (kafka.Message, error) {
	value, err := json.Marshal(summary)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("序列化运行结果失败: %w", err)
	}

	return kafka.Message{
		Key:   []byte(summary.RunID),
		Value: value,
		Time:  summary.FinishedAt,
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(eventRunFinished)},
		},
	}, nil
}
