// Package orphan records storage paths that were written by a pipeline but
// whose owning catalogue commit never landed (§9's "open question": the
// core never deletes these itself, only reports them for an out-of-band
// collector to reconcile).
//
// Broker is a buffered-channel, fan-out-to-subscribers pub/sub, specialised
// to this one report type rather than a general event taxonomy.
package orphan

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/dataplane/pkg/metrics"
)

// Report names one path dataplane.Service wrote but could not commit.
type Report struct {
	Tenant      string
	StorageKey  string
	StoragePath string
	Timestamp   time.Time
}

// Subscriber is a channel an out-of-band collector reads Reports from.
type Subscriber chan Report

// Broker fans ReportOrphan calls out to every subscribed collector. It
// implements dataplane.OrphanReporter directly, so a *Broker can be passed
// to dataplane.New without an adapter.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	reportCh    chan Report
	stopCh      chan struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		reportCh:    make(chan Report, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop; Stop ends it.
func (b *Broker) Start() { go b.run() }

func (b *Broker) Stop() { close(b.stopCh) }

// Subscribe registers a new collector channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a collector channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// ReportOrphan satisfies dataplane.OrphanReporter: it never deletes
// storagePath, it only records the report and counts it.
func (b *Broker) ReportOrphan(ctx context.Context, tenant, storageKey, storagePath string) {
	metrics.OrphanedPathsTotal.Inc()
	report := Report{Tenant: tenant, StorageKey: storageKey, StoragePath: storagePath, Timestamp: time.Now()}
	select {
	case b.reportCh <- report:
	case <-b.stopCh:
	case <-ctx.Done():
	}
}

func (b *Broker) run() {
	for {
		select {
		case report := <-b.reportCh:
			b.broadcast(report)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(report Report) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- report:
		default:
			// collector buffer full, drop; a missed report still leaves the
			// path on disk for the next reconciliation sweep to find.
		}
	}
}

// SubscriberCount reports how many collectors are currently attached.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
