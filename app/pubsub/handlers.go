package pubsub

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/dmitrymomot/comet/core/broadcast"
	"github.com/dmitrymomot/comet/core/filter"
	"github.com/dmitrymomot/comet/core/logger"
	"github.com/dmitrymomot/comet/core/sink"
)

// Response headers set by the resource.
const (
	HeaderSubscriptionID = "X-Subscription-Id"
	HeaderTaskID         = "X-Task-Id"
	HeaderDelivered      = "X-Delivered"
)

func topicParam(r *http.Request) string {
	return httprouter.ParamsFromContext(r.Context()).ByName("topic")
}

func message(r *http.Request) (string, error) {
	if err := r.ParseForm(); err != nil {
		return "", errors.Join(ErrMissingMessage, err)
	}
	if !r.PostForm.Has("message") {
		return "", ErrMissingMessage
	}
	return r.PostForm.Get("message"), nil
}

// suspension describes a suspending GET route.
type suspension struct {
	opts     broadcast.SuspendOptions
	comment  bool   // write a padding comment once suspended
	preamble string // written once suspended
	announce string // broadcast to the topic once suspended
	expose   bool   // send the subscription id in HeaderSubscriptionID
}

func (a *App) suspend(s suspension) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		opts := s.opts
		if s.expose {
			opts.ID = uuid.NewString()
			w.Header().Set(HeaderSubscriptionID, opts.ID)
		}

		stream, sub, err := a.open(w, r, topicParam(r), opts)
		if err != nil {
			writeError(w, err)
			return
		}
		if s.comment {
			_ = stream.WritePadding(a.padding)
		}
		if s.preamble != "" {
			_, _ = stream.Write([]byte(s.preamble))
		}
		if s.announce != "" {
			a.announce(r.Context(), sub.Broadcaster(), s.announce)
		}
		a.wait(r.Context(), stream, sub)
	})
}

// suspendScopeRequest broadcasts to the shared topic, then suspends on a
// broadcaster private to this request and resumes through it.
func (a *App) suspendScopeRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	b, err := a.registry.LookupOrCreate(topicParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	fut, err := b.Broadcast(ctx, "foo")
	if err != nil {
		writeError(w, err)
		return
	}
	_, _ = fut.Await()

	stream, sub, err := a.open(w, r, b.Topic(), broadcast.SuspendOptions{
		Timeout:           a.units(5),
		ResumeOnBroadcast: true,
		Scope:             broadcast.ScopeRequest,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	a.announce(ctx, sub.Broadcaster(), "bar")
	a.wait(ctx, stream, sub)
}

// subscribeExternalThread suspends until the first broadcast, which a
// background goroutine sends after five units unless someone else is first.
func (a *App) subscribeExternalThread(w http.ResponseWriter, r *http.Request) {
	topic := topicParam(r)

	stream, sub, err := a.open(w, r, topic, broadcast.SuspendOptions{ResumeOnBroadcast: true})
	if err != nil {
		writeError(w, err)
		return
	}
	_, _ = stream.Write([]byte("foo"))

	a.bg.Add(1)
	go func() {
		defer a.bg.Done()

		select {
		case <-a.clock.After(a.units(5)):
		case <-a.stop:
			return
		}

		// Lookup only: the topic may be gone by now and must not come back.
		b, err := a.registry.Lookup(topic)
		if err != nil {
			a.logger.Debug("echo skipped", logger.Topic(topic), logger.Error(err))
			return
		}
		if _, err := b.Broadcast(context.Background(), "Echo: "+topic); err != nil {
			a.logger.Warn("echo failed", logger.Topic(topic), logger.Error(err))
		}
	}()

	a.wait(r.Context(), stream, sub)
}

// resume broadcasts "resume" and then resumes the given subscription.
func (a *App) resume(w http.ResponseWriter, r *http.Request) {
	params := httprouter.ParamsFromContext(r.Context())

	b, err := a.registry.Lookup(params.ByName("topic"))
	if err != nil {
		writeError(w, err)
		return
	}
	fut, err := b.Broadcast(r.Context(), "resume")
	if err != nil {
		writeError(w, err)
		return
	}
	_, _ = fut.Await()

	if err := b.Resume(params.ByName("uuid")); err != nil {
		writeError(w, err)
		return
	}
	writeText(w, http.StatusOK, "resumed")
}

func (a *App) subscribeWebSocket(w http.ResponseWriter, r *http.Request) {
	topic := topicParam(r)

	conn, err := sink.Upgrade(w, r, a.upgrade...)
	if err != nil {
		// The upgrader has already answered the request.
		a.logger.DebugContext(r.Context(), "websocket upgrade failed", logger.Topic(topic), logger.Error(err))
		return
	}
	defer conn.Close()

	ws, err := sink.NewWebSocket(conn)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := a.registry.Suspend(ctx, topic, ws, broadcast.SuspendOptions{})
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, http.StatusText(statusFor(err))))
		return
	}

	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		defer cancel()
		_ = ws.ReadPump(ctx)
	}()

	<-ws.Done()
	a.logOutcome(ctx, sub)
	cancel()
	_ = conn.Close()
	<-pumped
}

// publication describes a broadcasting POST route.
type publication struct {
	wait    bool // answer once delivery completed
	filters []filter.Filter
}

func (a *App) publish(p publication) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		msg, err := message(r)
		if err != nil {
			writeError(w, err)
			return
		}
		b, err := a.registry.LookupOrCreate(topicParam(r))
		if err != nil {
			writeError(w, err)
			return
		}

		fut, err := b.Broadcast(r.Context(), msg+"\n", p.filters...)
		if err != nil {
			writeError(w, err)
			return
		}
		if p.wait {
			n, _ := fut.Await()
			w.Header().Set(HeaderDelivered, strconv.Itoa(n))
		}
		writeText(w, http.StatusOK, msg+"\n")
	})
}

func (a *App) schedule(period, waitFor int, resume bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		msg, err := message(r)
		if err != nil {
			writeError(w, err)
			return
		}
		b, err := a.registry.LookupOrCreate(topicParam(r))
		if err != nil {
			writeError(w, err)
			return
		}

		task, err := b.Schedule(broadcast.ScheduleOptions{
			Period:            a.units(period),
			WaitFor:           a.units(waitFor),
			ResumeOnBroadcast: resume,
			Message:           msg + "\n",
		})
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set(HeaderTaskID, task.ID())
		writeText(w, http.StatusOK, msg+"\n")
	})
}

// deferred holds the message until the topic's next broadcast.
func (a *App) deferred(suffix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		msg, err := message(r)
		if err != nil {
			writeError(w, err)
			return
		}
		b, err := a.registry.LookupOrCreate(topicParam(r))
		if err != nil {
			writeError(w, err)
			return
		}
		if err := b.Defer(msg + suffix); err != nil {
			writeError(w, err)
			return
		}
		writeText(w, http.StatusOK, msg+suffix)
	})
}

func (a *App) delayed(w http.ResponseWriter, r *http.Request) {
	msg, err := message(r)
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := a.registry.LookupOrCreate(topicParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := b.DelayBroadcast(msg+"\n", a.units(5)); err != nil {
		writeError(w, err)
		return
	}
	writeText(w, http.StatusOK, msg+"\n")
}

func (a *App) remove(w http.ResponseWriter, r *http.Request) {
	if err := a.registry.Remove(topicParam(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// open suspends a stream over w. Headers set on w before the call are sent
// with the response.
func (a *App) open(w http.ResponseWriter, r *http.Request, topic string, opts broadcast.SuspendOptions) (*sink.Stream, *broadcast.Subscription, error) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")

	stream := sink.NewStream(latin1Writer{w})
	sub, err := a.registry.Suspend(r.Context(), topic, stream, opts)
	if err != nil {
		return nil, nil, err
	}

	// Commit the headers so the client sees the response start.
	_, _ = stream.Write(nil)
	return stream, sub, nil
}

func (a *App) announce(ctx context.Context, b *broadcast.Broadcaster, msg string) {
	if _, err := b.Broadcast(ctx, msg); err != nil {
		a.logger.WarnContext(ctx, "announce failed", logger.Topic(b.Topic()), logger.Error(err))
	}
}

// wait blocks until the subscription ends; the response must stay open
// until then.
func (a *App) wait(ctx context.Context, stream *sink.Stream, sub *broadcast.Subscription) {
	<-stream.Done()
	a.logOutcome(ctx, sub)
}

func (a *App) logOutcome(ctx context.Context, sub *broadcast.Subscription) {
	outcome, _ := sub.Outcome()
	a.logger.DebugContext(ctx, "client resumed",
		logger.Topic(sub.Broadcaster().Topic()),
		logger.SubscriptionID(sub.ID()),
		logger.Outcome(string(outcome)))
}
