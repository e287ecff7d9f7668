// Package queue implements a one-queue-per-stage message backbone backed
// by NATS (github.com/nats-io/nats.go) queue subscriptions so multiple
// worker processes can share a stage's subject with at-most-one-delivery
// per message, the same distribution other broker-backed services get,
// rather than an in-process channel shared as a global.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Stage names one of the five stage subjects.
type Stage string

const (
	StageClassify       Stage = "payee.classify"
	StageSupplierMatch  Stage = "payee.supplier_match"
	StageAddressValidate Stage = "payee.address_validate"
	StageMerchantEnrich  Stage = "payee.merchant_enrich"
	StagePredict         Stage = "payee.predict"
)

// Job is the envelope dispatched onto a stage subject.
type Job struct {
	BatchID  string `json:"batchId"`
	RecordID string `json:"recordId"`
}

// Bus wraps a NATS connection with typed publish/subscribe helpers for the
// pipeline's five stage subjects.
type Bus struct {
	conn *nats.Conn
	// queueGroup is the NATS queue group name; subscribers sharing a queue
	// group receive each message exactly once among the group, giving each
	// stage's worker pool competing-consumer semantics.
	queueGroup string
}

// Connect dials the NATS server at url.
func Connect(url string) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Bus{conn: conn, queueGroup: "payee-workers"}, nil
}

// Publish enqueues job onto stage's subject.
func (b *Bus) Publish(stage Stage, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return b.conn.Publish(string(stage), data)
}

// Subscribe registers handler as a queue-group competing consumer for
// stage. Each worker pool process calls Subscribe once per stage it owns;
// NATS fans messages out across every process in the group so concurrency
// is bounded by however many processes (and in-process goroutines via the
// worker pool's own semaphore) are subscribed, not by the queue itself.
func (b *Bus) Subscribe(stage Stage, handler func(Job)) (*nats.Subscription, error) {
	return b.conn.QueueSubscribe(string(stage), b.queueGroup, func(msg *nats.Msg) {
		var job Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			return
		}
		handler(job)
	})
}

// Close drains and closes the underlying connection.
func (b *Bus) Close() {
	b.conn.Drain()
}
