package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/dravenops/hashhive/backend/pkg/debug"
)

const (
	amqpPrefetch      = 4
	amqpMaxReconnects = 5
	amqpReconnectWait = 5 * time.Second
)

// AMQP is a Runner backed by a durable RabbitMQ work queue, for
// deployments running more than one coordinator. Messages are published
// persistent and acked only after the handler succeeds.
type AMQP struct {
	url   string
	queue string
	mux   *Mux

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQP dials the broker and declares the durable job queue.
func NewAMQP(url, queue string, mux *Mux) (*AMQP, error) {
	a := &AMQP{url: url, queue: queue, mux: mux}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}
	a.conn = conn
	if err := a.openChannel(); err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

// openChannel creates a channel, declares the queue and sets QoS.
// Caller holds no lock; the channel swap is done under a.mu.
func (a *AMQP) openChannel() error {
	ch, err := a.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	if _, err := ch.QueueDeclare(a.queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare queue %s: %w", a.queue, err)
	}
	if err := ch.Qos(amqpPrefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("failed to set QoS on queue %s: %w", a.queue, err)
	}
	a.mu.Lock()
	a.ch = ch
	a.mu.Unlock()
	return nil
}

// reconnect restores the connection and channel after a broker failure.
func (a *AMQP) reconnect() error {
	if a.conn.IsClosed() {
		var lastErr error
		for i := 1; i <= amqpMaxReconnects; i++ {
			conn, err := amqp.Dial(a.url)
			if err != nil {
				lastErr = err
				debug.Warning("AMQP reconnect attempt %d/%d failed: %v", i, amqpMaxReconnects, err)
				time.Sleep(amqpReconnectWait)
				continue
			}
			a.conn = conn
			debug.Info("AMQP connection restored")
			lastErr = nil
			break
		}
		if lastErr != nil {
			return fmt.Errorf("failed to restore AMQP connection: %w", lastErr)
		}
	}
	return a.openChannel()
}

// Enqueue publishes a persistent job message. On a publish failure it
// reconnects once and retries before giving up.
func (a *AMQP) Enqueue(ctx context.Context, jobType Type, payload string) error {
	data, err := json.Marshal(Job{Type: jobType, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal %s job: %w", jobType, err)
	}
	if err := a.publish(data); err != nil {
		debug.Warning("AMQP publish failed, reconnecting: %v", err)
		if recErr := a.reconnect(); recErr != nil {
			return fmt.Errorf("failed to publish %s job: %w", jobType, recErr)
		}
		if err := a.publish(data); err != nil {
			return fmt.Errorf("failed to publish %s job: %w", jobType, err)
		}
	}
	return nil
}

func (a *AMQP) publish(data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ch.Publish(
		"",
		a.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp.Persistent,
		},
	)
}

// Consume registers a consumer and dispatches deliveries until the
// context is cancelled. Handler failures on a first delivery requeue the
// message; a failed redelivery is dropped so a poison job cannot wedge
// the queue.
func (a *AMQP) Consume(ctx context.Context) error {
	for {
		a.mu.Lock()
		ch := a.ch
		a.mu.Unlock()

		msgs, err := ch.Consume(a.queue, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("failed to register consumer on %s: %w", a.queue, err)
		}
		debug.Info("AMQP consumer registered on queue %s", a.queue)

		var wg sync.WaitGroup
		sem := make(chan struct{}, amqpPrefetch)

	deliveries:
		for {
			select {
			case <-ctx.Done():
				wg.Wait()
				return ctx.Err()
			case d, ok := <-msgs:
				if !ok {
					break deliveries
				}
				sem <- struct{}{}
				wg.Add(1)
				go func(d amqp.Delivery) {
					defer wg.Done()
					defer func() { <-sem }()
					a.handle(ctx, d)
				}(d)
			}
		}
		wg.Wait()

		// Channel closed under us. Reconnect and resume consuming.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		debug.Warning("AMQP channel closed, reconnecting in %v", amqpReconnectWait)
		time.Sleep(amqpReconnectWait)
		if err := a.reconnect(); err != nil {
			return err
		}
	}
}

func (a *AMQP) handle(ctx context.Context, d amqp.Delivery) {
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		debug.Error("Dropping undecodable job message: %v", err)
		d.Nack(false, false)
		return
	}
	if err := a.mux.Dispatch(ctx, job); err != nil {
		if d.Redelivered {
			debug.Error("Job %s (%s) failed on redelivery, dropping: %v", job.Type, job.Payload, err)
			d.Nack(false, false)
			return
		}
		debug.Warning("Job %s (%s) failed, requeueing: %v", job.Type, job.Payload, err)
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

// Close shuts down the channel and connection.
func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ch != nil {
		a.ch.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
