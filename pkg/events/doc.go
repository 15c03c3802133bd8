/*
Package events provides an in-memory event broker for hutch's pub/sub
messaging.

The broker broadcasts control-plane events (instance lifecycle, user
activity, session sweeps) to interested subscribers: the SSE endpoint
streams them to admin clients, and tests subscribe to observe lifecycle
transitions.

# Architecture

	┌──────────────────── EVENT BROKER ─────────────────────┐
	│                                                         │
	│  Publisher → Event Channel (buffer: 100)                │
	│       ↓                                                 │
	│  Broadcast Loop                                         │
	│       ↓                                                 │
	│  Subscriber Channels (buffer: 50 each)                  │
	│                                                         │
	│  Instance events:                                       │
	│    instance.created / started / stopped                 │
	│    instance.crashed / unhealthy / deleted               │
	│  User events:                                           │
	│    user.registered / login / logout                     │
	│    user.assigned / unassigned                           │
	│  Housekeeping:                                          │
	│    sessions.expired, agent.configured                   │
	└──────────────────────────────────────────────────────┘

# Delivery Semantics

Publishing is non-blocking and delivery is best effort. A subscriber whose
buffer is full skips events; nothing in the control plane depends on event
delivery for correctness. Events exist for observation, not coordination.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("[%s] %s\n", event.Type, event.Message)
		}
	}()

	broker.Publish(events.New(events.EventInstanceStarted,
		"instance 'dev' is running",
		map[string]string{"instance_id": instance.ID}))

# See Also

  - pkg/api for the /events SSE stream
  - pkg/supervisor and pkg/users for the publishers
*/
package events
