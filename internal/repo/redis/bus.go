/**
 * 总线仓库层:Redis事件广播
 * @description: 将总线事件 PUBLISH 到 Redis 频道(适合多实例/外部面板订阅)
 * @note: 单纯数据访问,不包含业务逻辑;发布失败由 Hub 记日志并吞掉，不影响核心流程
 */
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"reachmaster/internal/service/orchestrator/eventbus"

	"github.com/go-redis/redis/v8"
)

// BusPublisher Redis事件广播器
// 频道命名: <prefix>:<topic>，如 neoreach:events:mission.stateChanged
type BusPublisher struct {
	client *redis.Client
	prefix string
}

// NewBusPublisher 创建Redis事件广播器实例
func NewBusPublisher(client *redis.Client, prefix string) *BusPublisher {
	if prefix == "" {
		prefix = "neoreach:events"
	}
	return &BusPublisher{
		client: client,
		prefix: prefix,
	}
}

// Forward 将事件序列化后发布到对应频道
func (p *BusPublisher) Forward(ctx context.Context, event eventbus.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := fmt.Sprintf("%s:%s", p.prefix, event.Topic)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", channel, err)
	}
	return nil
}
