/*
Package watcher consumes confirmed on-chain transfer events from Kafka
and feeds them to the deposit reconciler.

PURPOSE
  The chain watcher is the asynchronous ingestion path for deposits.
  Each message is a JSON-encoded funding.ConfirmedTransfer. Delivery is
  at-least-once; the reconciler's tx-hash idempotency makes redelivery
  harmless, so offsets are marked after every processed message.

INVARIANTS
  - A message is marked consumed whether it credited a deposit, was a
    duplicate, or was malformed. Only transient errors (store outage)
    leave the offset unmarked so the message is retried.
*/
package watcher

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/warp/yield-engine/funding"
	"github.com/warp/yield-engine/ledger"
)

type Watcher struct {
	group      sarama.ConsumerGroup
	topic      string
	reconciler *funding.Reconciler
	log        *zap.SugaredLogger
}

func New(brokers []string, group, topic string, rec *funding.Reconciler, log *zap.SugaredLogger) (*Watcher, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	cg, err := sarama.NewConsumerGroup(brokers, group, cfg)
	if err != nil {
		return nil, err
	}
	return &Watcher{group: cg, topic: topic, reconciler: rec, log: log}, nil
}

// Run consumes until ctx is cancelled. Blocking; call in a goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	go func() {
		for err := range w.group.Errors() {
			w.log.Warnw("kafka consumer error", "error", err)
		}
	}()

	handler := &transferHandler{reconciler: w.reconciler, log: w.log}
	for {
		if err := w.group.Consume(ctx, []string{w.topic}, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warnw("kafka consume session ended", "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (w *Watcher) Close() error {
	return w.group.Close()
}

// =====================================================================
// Consumer group handler
// =====================================================================

type transferHandler struct {
	reconciler *funding.Reconciler
	log        *zap.SugaredLogger
}

func (h *transferHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *transferHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *transferHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var ev funding.ConfirmedTransfer
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			h.log.Warnw("dropping malformed transfer event",
				"topic", msg.Topic, "offset", msg.Offset, "error", err)
			sess.MarkMessage(msg, "")
			continue
		}

		_, err := h.reconciler.OnConfirmedTransfer(sess.Context(), ev)
		switch {
		case err == nil:
			sess.MarkMessage(msg, "")
		case ledger.IsClientError(err) || ledger.IsNotFound(err):
			// Bad account or bad amount will never succeed on retry.
			h.log.Warnw("dropping unprocessable transfer event",
				"tx_hash", ev.TxHash, "account", ev.AccountID, "error", err)
			sess.MarkMessage(msg, "")
		default:
			// Transient failure. Leave the offset so the event is
			// redelivered; idempotency absorbs duplicates.
			h.log.Errorw("transfer event failed, will retry",
				"tx_hash", ev.TxHash, "error", err)
		}
	}
	return nil
}
