// Package metrics exposes Prometheus instrumentation for the broadcast
// engine, its HTTP surface and the cluster transport.
//
// Collectors register on an explicit prometheus.Registerer so tests can use
// a private registry:
//
//	reg := metrics.NewRegistry()
//	observer := metrics.NewBroadcastMetrics(reg)
//	registry, _ := broadcast.NewRegistry(broadcast.WithObserver(observer))
//	mux.Handle("/metrics", metrics.Handler(reg))
//
// Topics are deliberately absent from labels: request-scoped topics are
// unbounded.
package metrics
