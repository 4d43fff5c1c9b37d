// Package pubsub serves a topic resource on top of a broadcast registry.
//
// Clients suspend with GET requests on /:topic and its sub-routes, and
// publishers POST a "message" form value to broadcast, delay or schedule it.
// Every period, delay and timeout is expressed in units of Config.TimeUnit.
//
// Suspending routes:
//
//	GET /:topic                          stay 5 units; "resume" is broadcast to the topic
//	GET /:topic/scope                    broadcast "foo", then suspend on a private broadcaster that sends "bar"
//	GET /:topic/withComments             stay 5 units behind a padding comment
//	GET /:topic/forever                  stay with a padding comment
//	GET /:topic/foreverWithoutComments   stay
//	GET /:topic/subscribeAndUsingExternalThread
//	                                     write "foo"; "Echo: <topic>" is broadcast after 5 units
//	GET /:topic/suspendAndResume         write "suspend"; id in X-Subscription-Id
//	GET /:topic/subscribeAndResume       resume on the first broadcast
//	GET /:topic/ws                       websocket subscriber
//
// Publishing routes:
//
//	GET    /:topic/suspendAndResume/:uuid  broadcast "resume", then resume :uuid
//	POST   /:topic                         broadcast
//	POST   /:topic/publishAndResume        broadcast and wait for delivery
//	POST   /:topic/filter                  broadcast through the xss filter
//	POST   /:topic/aggregate               broadcast through the shared aggregator
//	POST   /:topic/scheduleAndResume       every 5 units after 5, resuming
//	POST   /:topic/delaySchedule           every 10 units after 5
//	POST   /:topic/schedule                every 5 units
//	POST   /:topic/delay                   hold until the next broadcast
//	POST   /:topic/delayAndResume          broadcast after 5 units
//	POST   /:topic/programmaticDelayBroadcast  hold until the next broadcast, no newline
//	DELETE /:topic                         remove the topic, terminating its clients
//
// Responses are text/plain in ISO-8859-1.
//
// Usage:
//
//	app, err := pubsub.NewFromConfig(registry, cfg, pubsub.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	g.Go(app.Run(ctx))
//	g.Go(srv.Run(ctx, app.Handler()))
package pubsub
