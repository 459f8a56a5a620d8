package redis

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// SubscriptionStream carries subscribe/unsubscribe events from the bot
// front end. Each entry has fields action, recipient and pair.
const SubscriptionStream = "subscriptions:events"

// SubscriptionStore applies subscription changes.
type SubscriptionStore interface {
	Subscribe(ctx context.Context, recipient, pair string) error
	Unsubscribe(ctx context.Context, recipient, pair string) error
}

// SubscriptionEvent is one decoded stream entry.
type SubscriptionEvent struct {
	Action    string
	Recipient string
	Pair      string
}

// ParseSubscriptionEvent validates the fields of a stream entry.
func ParseSubscriptionEvent(values map[string]interface{}) (SubscriptionEvent, error) {
	get := func(k string) string {
		s, _ := values[k].(string)
		return strings.TrimSpace(s)
	}
	ev := SubscriptionEvent{
		Action:    strings.ToLower(get("action")),
		Recipient: get("recipient"),
		Pair:      strings.ToUpper(get("pair")),
	}
	if ev.Action != "subscribe" && ev.Action != "unsubscribe" {
		return ev, fmt.Errorf("unknown action %q", ev.Action)
	}
	if ev.Recipient == "" || ev.Pair == "" {
		return ev, fmt.Errorf("missing recipient or pair")
	}
	return ev, nil
}

// Consumer reads the subscription stream through a consumer group so several
// engine replicas can share it.
type Consumer struct {
	client   *goredis.Client
	group    string
	consumer string
}

// NewConsumer creates a consumer. Empty names fall back to defaults.
func NewConsumer(client *goredis.Client, group, consumer string) *Consumer {
	if group == "" {
		group = "signalengine"
	}
	if consumer == "" {
		consumer = "worker-1"
	}
	return &Consumer{client: client, group: group, consumer: consumer}
}

// EnsureGroup creates the consumer group from the start of the stream if it
// does not exist yet.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, SubscriptionStream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create %s: %w", SubscriptionStream, err)
	}
	return nil
}

// Run applies subscription events to store until ctx is cancelled.
// Malformed events are acknowledged and skipped; events whose store write
// failed stay pending and are retried on restart.
func (c *Consumer) Run(ctx context.Context, store SubscriptionStore) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		results, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{SubscriptionStream, ">"},
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[redis-subs] xreadgroup error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			for _, msg := range stream.Messages {
				c.apply(ctx, store, msg)
			}
		}
	}
}

func (c *Consumer) apply(ctx context.Context, store SubscriptionStore, msg goredis.XMessage) {
	ev, err := ParseSubscriptionEvent(msg.Values)
	if err != nil {
		log.Printf("[redis-subs] skip %s: %v", msg.ID, err)
		c.client.XAck(ctx, SubscriptionStream, c.group, msg.ID)
		return
	}

	if ev.Action == "subscribe" {
		err = store.Subscribe(ctx, ev.Recipient, ev.Pair)
	} else {
		err = store.Unsubscribe(ctx, ev.Recipient, ev.Pair)
	}
	if err != nil {
		log.Printf("[redis-subs] %s %s/%s: %v", ev.Action, ev.Recipient, ev.Pair, err)
		return
	}
	c.client.XAck(ctx, SubscriptionStream, c.group, msg.ID)
}
