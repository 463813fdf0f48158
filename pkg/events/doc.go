/*
Package events provides an in-memory event broker for manifold's pub/sub
notifications.

The events package implements a lightweight event bus for broadcasting
workspace and merge-pipeline lifecycle events to interested subscribers —
a CLI watch command, a metrics collector, a future webhook forwarder. It
supports buffered, non-blocking delivery so a slow subscriber cannot stall
the publisher.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&events.Event{
		Type:    events.EventMergeCommitted,
		Message: "merged epoch-7 into main",
	})

# Delivery semantics

Publish enqueues onto a single buffered channel (100 events) drained by one
broadcast goroutine; broadcast fans out to each subscriber's own buffered
channel (50 events) and drops the event for any subscriber whose buffer is
full rather than blocking the broker.
*/
package events
