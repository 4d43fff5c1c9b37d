// Package redis relays broadcasts between nodes over Redis pub/sub.
//
// Every node publishes the payload of its non-local broadcasts on one shared
// channel and listens on it, replaying messages from other nodes through
// Broadcaster.BroadcastLocal so they are not forwarded again. A node ignores
// its own envelopes and topics it has no broadcaster for. Publishes go
// through a circuit breaker so an unreachable Redis does not slow down local
// delivery.
//
// # Usage
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	transport, err := redis.NewTransportFromConfig(client, cfg,
//		redis.WithLogger(log),
//		redis.WithMetrics(metrics.NewClusterMetrics(promRegistry)),
//	)
//	if err != nil {
//		return err
//	}
//
//	reg, err := broadcast.NewRegistry(broadcast.WithClusterTransport(transport))
//	if err != nil {
//		return err
//	}
//
//	g.Go(transport.Run(ctx, reg))
//
// # Configuration
//
// Config is loaded from the environment:
//
//	REDIS_URL                     connection URL (redis://localhost:6379/0)
//	REDIS_RETRY_ATTEMPTS          ping attempts on connect (3)
//	REDIS_RETRY_INTERVAL          first retry delay, doubled each attempt (5s)
//	REDIS_CONNECT_TIMEOUT         overall connect deadline (30s)
//	CLUSTER_CHANNEL               pub/sub channel (comet:broadcast)
//	CLUSTER_NODE_ID               node identifier (random when empty)
//	CLUSTER_BREAKER_MAX_FAILURES  consecutive failures before opening (5)
//	CLUSTER_BREAKER_TIMEOUT       open state duration before probing (30s)
//
// Payloads keep their shape across nodes for strings and byte slices. Other
// values travel as JSON and arrive as json.RawMessage.
package redis
