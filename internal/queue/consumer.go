package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Consumer appends one line per booking engine event to <LogDir>/booking.log.
type Consumer struct {
	URL    string
	LogDir string
}

// Run connects to RabbitMQ, declares every event queue and consumes them
// until ctx is cancelled. Connection failures are retried with an
// exponential backoff capped at 30s. A message that cannot be handled is
// rejected without requeue so a poison message never loops.
func (c *Consumer) Run(ctx context.Context) error {
	url := c.URL
	if url == "" {
		url = DefaultURL
	}
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			logrus.WithFields(logrus.Fields{"error": err, "retry_in": backoff.String()}).Warn("booking-consumer: failed to dial broker")
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logrus.WithError(err).Warn("booking-consumer: consume loop ended, reconnecting")
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

type delivery struct {
	queue string
	msg   amqp.Delivery
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		logrus.WithError(err).Warn("booking-consumer: set QoS failed")
	}

	merged := make(chan delivery)
	done := make(chan struct{})
	defer close(done)
	for _, q := range Queues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", q, err)
		}
		msgs, err := ch.Consume(q, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", q, err)
		}
		go func(q string, msgs <-chan amqp.Delivery) {
			for m := range msgs {
				select {
				case merged <- delivery{queue: q, msg: m}:
				case <-done:
					return
				}
			}
		}(q, msgs)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr != nil {
				return amqpErr
			}
			return errors.New("channel closed")
		case d := <-merged:
			if err := c.handle(d.queue, d.msg.Body); err != nil {
				logrus.WithFields(logrus.Fields{"queue": d.queue, "error": err}).Error("booking-consumer: handle message failed")
				_ = d.msg.Nack(false, false)
				continue
			}
			_ = d.msg.Ack(false)
		}
	}
}

func (c *Consumer) handle(queue string, body []byte) error {
	line, err := FormatLine(queue, body)
	if err != nil {
		return err
	}
	dir := c.LogDir
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "booking.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatLine renders an event body from queue as a single log line ending
// in a newline.
func FormatLine(queue string, body []byte) (string, error) {
	switch queue {
	case QueueBookingConfirmed:
		var ev BookingConfirmedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Booking confirmed | booking=%s | user_id=%d | trip=%s | route=\"%s -> %s\" | departs=%s | total=%s %s | txn=%s | seats=%s\n",
			ev.ConfirmedAt, ev.Reference, ev.UserID, ev.TripNumber, ev.Origin, ev.Destination, ev.DepartureTime,
			ev.TotalAmount, ev.Currency, ev.TransactionID, seatList(ev.Seats)), nil
	case QueueBookingCancelled:
		var ev BookingCancelledEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Booking cancelled | booking=%s | user_id=%d | trip_id=%d | refunded=%t | reason=\"%s\" | seats=%s\n",
			ev.CancelledAt, ev.Reference, ev.UserID, ev.TripID, ev.Refunded, ev.Reason, seatList(ev.Seats)), nil
	case QueuePaymentRefunded:
		var ev PaymentRefundedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Payment refunded | booking=%s | user_id=%d | txn=%s | refund=%s | amount=%s %s | reason=\"%s\"\n",
			ev.RefundedAt, ev.Reference, ev.UserID, ev.TransactionID, ev.RefundTransactionID, ev.RefundAmount,
			ev.Currency, ev.Reason), nil
	}
	return "", fmt.Errorf("unknown queue %q", queue)
}

func seatList(seats []int) string {
	parts := make([]string, len(seats))
	for i, s := range seats {
		parts[i] = strconv.Itoa(s)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
