// Package server provides an HTTP server with graceful shutdown, configurable
// timeouts and errgroup-friendly lifecycle management.
//
// The write timeout defaults to zero because handlers that suspend keep their
// response open until a broadcast, timeout or explicit resume ends it. Sinks
// set per-write deadlines instead. Once the shutdown timeout elapses, open
// connections are closed so suspended clients observe a disconnect.
//
// # Basic Usage
//
//	srv := server.New(":8080",
//		server.WithShutdownTimeout(10*time.Second),
//		server.WithLogger(log),
//	)
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(srv.Run(ctx, handler))
//	if err := g.Wait(); err != nil {
//		log.Error("server failed", logger.Error(err))
//	}
//
// # Configuration
//
// Config is loaded from the environment:
//
//	SERVER_ADDR              listen address (:8080)
//	SERVER_READ_TIMEOUT      request read timeout (15s)
//	SERVER_WRITE_TIMEOUT     response write timeout, zero disables (0s)
//	SERVER_IDLE_TIMEOUT      keep-alive idle timeout (60s)
//	SERVER_SHUTDOWN_TIMEOUT  graceful shutdown limit (30s)
//	SERVER_MAX_HEADER_BYTES  request header limit (1MB)
//
// Use NewFromConfig to build a server from it; options passed after the
// config override its values.
//
// # Listening Address
//
// A zero port picks a free one. Wait on Ready and read Addr to learn it:
//
//	srv := server.New("127.0.0.1:0")
//	go srv.Run(ctx, handler)()
//	<-srv.Ready()
//	url := "http://" + srv.Addr().String()
package server
