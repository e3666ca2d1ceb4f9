package messaging

import (
	"context"
	"strconv"

	"github.com/wyfcoding/txengine/internal/account/domain"
)

// Producer pkg/mq.KafkaProducer 的抽象
type Producer interface {
	SendMessage(ctx context.Context, topic string, key string, value any) error
	Close() error
}

// SnapshotEvent 发布到 Kafka 的账户快照
type SnapshotEvent struct {
	Client    uint16 `json:"client"`
	Available string `json:"available"`
	Held      string `json:"held"`
	Total     string `json:"total"`
	Locked    bool   `json:"locked"`
	RunID     string `json:"run_id,omitempty"`
}

// SnapshotPublisher 将最终快照发布到 Kafka，以客户 ID 作为消息 key
type SnapshotPublisher struct {
	producer Producer
	topic    string
	runID    string
}

// NewSnapshotPublisher 创建快照发布器
func NewSnapshotPublisher(producer Producer, topic, runID string) *SnapshotPublisher {
	return &SnapshotPublisher{producer: producer, topic: topic, runID: runID}
}

// Write 发布一条快照
func (p *SnapshotPublisher) Write(ctx context.Context, snap domain.Snapshot) error {
	event := SnapshotEvent{
		Client:    uint16(snap.Client),
		Available: snap.Available.StringFixed(domain.AmountScale),
		Held:      snap.Held.StringFixed(domain.AmountScale),
		Total:     snap.Total.StringFixed(domain.AmountScale),
		Locked:    snap.Locked,
		RunID:     p.runID,
	}
	return p.producer.SendMessage(ctx, p.topic, strconv.FormatUint(uint64(snap.Client), 10), event)
}

// Flush 每条消息都同步写出，无需刷新。生产者由创建方负责关闭
func (p *SnapshotPublisher) Flush() error {
	return nil
}
