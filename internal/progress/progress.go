// Package progress fans fetch progress events out to any number of
// independent subscribers, keyed by account id. Events are delivered
// synchronously and never buffered: once the last subscriber for an account
// detaches, nothing is retained.
package progress

import (
	"sync"

	"github.com/ksred/folio-api/internal/types"
)

// Callback receives one progress event.
type Callback func(event types.FetchProgressEvent)

// Reporter is a per-account-keyed publish/subscribe channel.
type Reporter struct {
	mu     sync.RWMutex
	nextID int
	byAcct map[string]map[int]Callback
	global map[int]Callback
}

// NewReporter creates an empty reporter.
func NewReporter() *Reporter {
	return &Reporter{
		byAcct: make(map[string]map[int]Callback),
		global: make(map[int]Callback),
	}
}

// Subscribe registers a callback for one account's events. The returned
// function removes the subscription; other subscribers are unaffected.
func (r *Reporter) Subscribe(accountID string, cb Callback) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++

	subs, exists := r.byAcct[accountID]
	if !exists {
		subs = make(map[int]Callback)
		r.byAcct[accountID] = subs
	}
	subs[id] = cb

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(subs, id)
		if len(subs) == 0 {
			delete(r.byAcct, accountID)
		}
	}
}

// SubscribeAll registers a callback for every account's events.
func (r *Reporter) SubscribeAll(cb Callback) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.global[id] = cb

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.global, id)
	}
}

// Publish delivers the event to every subscriber for its account plus all
// global subscribers. Delivery is synchronous and fire-and-forget.
func (r *Reporter) Publish(event types.FetchProgressEvent) {
	r.mu.RLock()
	callbacks := make([]Callback, 0, len(r.byAcct[event.AccountID])+len(r.global))
	for _, cb := range r.byAcct[event.AccountID] {
		callbacks = append(callbacks, cb)
	}
	for _, cb := range r.global {
		callbacks = append(callbacks, cb)
	}
	r.mu.RUnlock()

	for _, cb := range callbacks {
		cb(event)
	}
}

// SubscriberCount reports how many subscribers an account currently has.
func (r *Reporter) SubscriberCount(accountID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAcct[accountID])
}
