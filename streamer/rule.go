package streamer

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/message"
	"github.com/c360/ustreamer/metric"
	"github.com/c360/ustreamer/pkg/buffer"
	"github.com/c360/ustreamer/pkg/retry"
	"github.com/c360/ustreamer/transport"
)

// rule is one active (source, destination) forwarding pair.
type rule struct {
	id      uint64
	key     ruleKey
	name    string
	src     Endpoint
	dst     Endpoint
	router  *Router
	reg     transport.Registration
	queue   buffer.Buffer[*message.Message]
	cancel  context.CancelFunc
	done    chan struct{}
	created time.Time
}

// OnReceive runs on the source transport's goroutine and never blocks.
func (rl *rule) OnReceive(m *message.Message) {
	if m == nil {
		return
	}
	rl.router.observer.Observe(newEvent(EventReceived, rl.name, m))
	if err := rl.queue.Write(m); err != nil {
		if stderrors.Is(err, errors.ErrAlreadyStopped) {
			rl.drop(m, metric.ReasonRemoved, err)
			return
		}
		rl.drop(m, metric.ReasonBackpressure, err)
	}
}

func (rl *rule) onOverflow(m *message.Message) {
	rl.router.observer.Observe(newEvent(EventBackpressure, rl.name, m))
}

// run is the dispatch loop. Cancellation is seen at the top of each
// iteration and at the wait point, so within one wait timeout.
func (rl *rule) run(ctx context.Context) {
	defer close(rl.done)

	wait := rl.router.cfg.WaitTimeout
	for {
		if ctx.Err() != nil {
			return
		}

		waitCtx, cancel := context.WithTimeout(ctx, wait)
		m, err := rl.queue.ReadContext(waitCtx)
		cancel()
		if err != nil {
			if stderrors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return
		}
		if ctx.Err() != nil {
			rl.drop(m, metric.ReasonRemoved, ctx.Err())
			return
		}

		rl.dispatch(ctx, m)
	}
}

func (rl *rule) dispatch(ctx context.Context, m *message.Message) {
	r := rl.router
	start := time.Now()

	if err := m.Validate(); err != nil {
		rl.drop(m, metric.ReasonInvalid, err)
		return
	}
	if m.Expired(start) {
		rl.drop(m, metric.ReasonExpired, errors.ErrExpired)
		return
	}
	if m.Source.Authority == rl.dst.Authority {
		rl.drop(m, metric.ReasonLoop, nil)
		return
	}
	if r.echo.Contains(echoKey{m.ID, rl.src.Name}) {
		rl.drop(m, metric.ReasonEcho, nil)
		return
	}

	switch m.Kind {
	case message.KindPublish:
		if !r.reachable(m.Source, rl.dst.Authority) {
			rl.drop(m, metric.ReasonNoSubscribers, nil)
			return
		}
	case message.KindNotification:
		if m.Sink.Authority != rl.dst.Authority {
			if !r.reachable(m.Source, rl.dst.Authority) {
				rl.drop(m, metric.ReasonNoSubscribers, nil)
				return
			}
		}
	}

	out := m
	if rl.dst.RewriteAuthority {
		out = m.Clone()
		out.Source = out.Source.WithAuthority(rl.dst.Authority)
	}

	// Recorded before sending: a transport may hand the message straight
	// back to a listener on the destination.
	r.echo.Add(echoKey{m.ID, rl.dst.Name}, struct{}{})

	if err := rl.send(ctx, out); err != nil {
		rl.drop(m, metric.ReasonSendFailed, err)
		return
	}

	e := newEvent(EventForwarded, rl.name, m)
	e.Duration = time.Since(start)
	r.observer.Observe(e)
}

// send delivers out with the configured retry policy. The send itself is not
// interrupted by rule removal; backoff sleeps are.
func (rl *rule) send(ctx context.Context, out *message.Message) error {
	sendCtx := context.WithoutCancel(ctx)
	cfg := rl.router.cfg.Retry.ToRetryConfig()

	return retry.DoNotify(ctx, cfg, func() error {
		err := rl.dst.Transport.Send(sendCtx, out)
		if err != nil && errors.Classify(err) != errors.ErrorTransient {
			return retry.NonRetryable(err)
		}
		return err
	}, func(attempt int, err error, _ time.Duration) {
		e := newEvent(EventSendRetry, rl.name, out)
		e.Attempt = attempt
		e.Err = err
		rl.router.observer.Observe(e)
	})
}

func (rl *rule) drop(m *message.Message, reason string, err error) {
	e := newEvent(EventDropped, rl.name, m)
	e.Reason = reason
	e.Err = err
	rl.router.observer.Observe(e)
}

// detach cancels the loop and closes the queue so the rule's pair and metric
// names can be reused at once. It never blocks.
func (rl *rule) detach() {
	rl.cancel()
	_ = rl.queue.Close()
}

// stop unregisters the listener and waits for the loop to finish its
// in-flight forward. The rule must already be detached.
func (rl *rule) stop(ctx context.Context) error {
	unregErr := rl.src.Transport.UnregisterListener(ctx, rl.reg)

	var waitErr error
	select {
	case <-rl.done:
	case <-ctx.Done():
		waitErr = errors.Wrap(ctx.Err(), "Router", "RemoveForwardingRule", "wait for "+rl.name)
	}

	rl.router.observer.Observe(newEvent(EventRuleRemoved, rl.name, nil))
	if waitErr != nil {
		return waitErr
	}
	if unregErr != nil {
		return errors.Wrap(unregErr, "Router", "RemoveForwardingRule", "unregister listener on "+rl.src.Name)
	}
	return nil
}
