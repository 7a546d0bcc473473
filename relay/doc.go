// Package relay carries lifecycle events between processes that share a
// Redis server.
//
// A [Publisher] subscribes to the firehose of a local stream.Broker and
// appends each locally raised event, msgpack-encoded, to a Redis stream.
// A [Listener] tails that stream and republishes the events into its own
// Broker, so a process that runs no workers can still watch jobs finish:
//
//	broker := stream.NewBroker(logger)
//	eng, _ := engine.Build(d, engine.WithExtension(broker))
//	pub := relay.NewPublisher(rdb, broker, relay.WithNode("worker-1"))
//	_ = pub.Start(ctx)
//
//	// elsewhere
//	lis := relay.NewListener(rdb, stream.NewBroker(logger))
//	_ = lis.Start(ctx)
//
// Events carry the Publisher's node name in Origin. A Publisher never
// re-appends relayed events and a Listener drops events from its own
// node, so both can run in one process without echo.
package relay
