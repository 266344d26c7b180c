// Package telemetry exports widget state machine activity as Prometheus
// metrics.
package telemetry

import (
	"context"
	"sync"

	"github.com/goliatone/go-auth-client"
	"github.com/goliatone/go-auth-client/activitymap"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "auth_client"

// Collector counts dispatched actions and session events per widget instance.
type Collector struct {
	actions       *prometheus.CounterVec
	events        *prometheus.CounterVec
	authenticated *prometheus.GaugeVec
}

// NewCollector creates the metric vectors and registers them with reg. A nil
// reg uses prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "State machine actions dispatched, by widget instance and action type.",
		}, []string{"instance", "action"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Session activity events, by widget instance and event type.",
		}, []string{"instance", "event"}),
		authenticated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "authenticated",
			Help:      "Authenticated sessions held by the widget instance.",
		}, []string{"instance"}),
	}

	for _, col := range []prometheus.Collector{c.actions, c.events, c.authenticated} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Listener returns a listener for one Machine of instance. It counts actions
// and keeps the authenticated gauge at the number of signed in machines. Call
// release when the machine is dropped.
func (c *Collector) Listener(instance string) (listener authclient.Listener, release func()) {
	gauge := c.authenticated.WithLabelValues(instance)
	gauge.Add(0)

	var mu sync.Mutex
	var signedIn, released bool

	listener = func(action authclient.Action, state authclient.State) {
		c.actions.WithLabelValues(instance, string(action.Type())).Inc()

		mu.Lock()
		defer mu.Unlock()
		if released || state.IsAuthenticated() == signedIn {
			return
		}
		signedIn = state.IsAuthenticated()
		if signedIn {
			gauge.Inc()
		} else {
			gauge.Dec()
		}
	}

	release = func() {
		mu.Lock()
		defer mu.Unlock()
		if !released && signedIn {
			gauge.Dec()
		}
		released = true
	}
	return listener, release
}

// Sink returns an ActivitySink that counts events for instance and then
// forwards them to next, if any.
func (c *Collector) Sink(instance string, next authclient.ActivitySink) authclient.ActivitySink {
	return authclient.ActivitySinkFunc(func(ctx context.Context, event authclient.ActivityEvent) error {
		record := activitymap.Normalize(event, activitymap.WithInstance(instance))
		c.events.WithLabelValues(instance, record.Verb).Inc()
		if next == nil {
			return nil
		}
		return next.Record(ctx, event)
	})
}

// Forget drops the series of instance, typically after the widget is destroyed.
func (c *Collector) Forget(instance string) {
	labels := prometheus.Labels{"instance": instance}
	c.actions.DeletePartialMatch(labels)
	c.events.DeletePartialMatch(labels)
	c.authenticated.DeletePartialMatch(labels)
}
