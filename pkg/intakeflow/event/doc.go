// Package event publishes session lifecycle events.
//
// The runtime emits one Event per durable change to a session: when it
// starts, after every step, and when it completes or escalates. Consumers
// subscribe to a Bus to feed CRMs, dashboards or notification services
// without the engine knowing about them.
//
// # Delivery
//
// LocalBus delivers in memory. Each subscription has its own buffered
// channel and goroutine, so a slow subscriber never delays another, and
// events for one subscription arrive in publish order. Publish blocks when a
// buffer is full unless the bus is NonBlocking, in which case the event is
// dropped for that subscriber and OnDrop is called.
//
// # Example
//
//	bus := event.NewBus(event.BusConfig{})
//	defer bus.Close()
//
//	bus.Subscribe([]string{event.TypeSessionEscalated}, event.HandlerFunc(
//	    func(ctx context.Context, evt event.Event) error {
//	        return pager.Notify(ctx, evt.SessionID)
//	    }))
//
//	engine := runtime.NewEngine(store, runtime.WithEvents(bus))
package event
