package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/hotplate/takeaway/internal/config"
	"github.com/hotplate/takeaway/internal/events"
	kafkax "github.com/hotplate/takeaway/internal/kafka"
	"github.com/hotplate/takeaway/internal/redisx"
	"github.com/hotplate/takeaway/pkg/logger"
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

// notifier turns order events into customer notifications. Delivery here
// is a structured log line; swapping in email or push only changes notify().
type notifier struct {
	redis   *redis.Client
	log     *slog.Logger
	service string
}

func (n *notifier) handle(ctx context.Context, m kafkago.Message) error {
	var ev events.Envelope
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		n.log.Error("bad envelope, dropping", "err", err)
		return nil
	}

	// At-least-once delivery upstream; dedup on event id.
	key := fmt.Sprintf(redisx.KeyDedup, n.service, ev.EventID)
	fresh, err := redisx.SetIfAbsent(ctx, n.redis, key, "1", redisx.TTLDedup)
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}

	switch ev.EventType {
	case events.EventOrderPlaced:
		p, err := kafkax.UnwrapPayload[events.OrderPlacedPayload](ev.Payload)
		if err != nil {
			return err
		}
		n.notify(p.CustomerID, "order received", "order", p.OrderID, "total_cents", p.TotalCents)
	case events.EventStatusChanged:
		p, err := kafkax.UnwrapPayload[events.StatusChangedPayload](ev.Payload)
		if err != nil {
			return err
		}
		n.notify("", "order update", "order", p.OrderID, "status", p.To)
	case events.EventRefundIssued:
		p, err := kafkax.UnwrapPayload[events.RefundIssuedPayload](ev.Payload)
		if err != nil {
			return err
		}
		n.notify("", "refund issued", "order", p.OrderID, "amount_cents", p.AmountCents)
	case events.EventReservationReleased:
		// internal bookkeeping, no customer notification
	default:
		n.log.Warn("unknown event type", "type", ev.EventType)
	}
	return nil
}

func (n *notifier) notify(customerID, msg string, args ...any) {
	if customerID != "" {
		args = append(args, "customer", customerID)
	}
	n.log.Info(msg, args...)
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(cfg.ServiceName + "-notifier")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	n := &notifier{redis: rdb, log: log, service: "notifier"}

	group := getenv("NOTIFIER_GROUP", "notifier-svc")
	workers := mustAtoi(os.Getenv("NOTIFIER_WORKERS"), "4")

	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range []string{
		events.TopicOrderPlaced,
		events.TopicStatusChanged,
		events.TopicRefundIssued,
	} {
		topic := topic
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, topic, workers, log)
		g.Go(func() error {
			log.Info("consumer started", "group", group, "topic", topic, "workers", workers)
			return cons.Start(gctx, n.handle)
		})
	}

	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sig:
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("notifier exit", "err", err)
	}
	log.Info("shutdown complete")
}
