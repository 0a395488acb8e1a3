package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDomainCounters_Registered(t *testing.T) {
	for _, c := range []prometheus.Collector{SignatureRejections, Commands, Invites, DeferredDeliveryFailures, CallEvents, StoreWrites} {
		if err := prometheus.Register(c); err == nil {
			t.Fatalf("collector %T was not registered by init", c)
		} else if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			t.Fatalf("unexpected register error: %v", err)
		}
	}
}

func TestDomainCounters_Increment(t *testing.T) {
	before := testutil.ToFloat64(CallEvents.WithLabelValues("call_started"))
	CallEvents.WithLabelValues("call_started").Inc()
	if got := testutil.ToFloat64(CallEvents.WithLabelValues("call_started")); got != before+1 {
		t.Fatalf("call_started = %v, want %v", got, before+1)
	}

	d := testutil.ToFloat64(DeferredDeliveryFailures)
	DeferredDeliveryFailures.Inc()
	if got := testutil.ToFloat64(DeferredDeliveryFailures); got != d+1 {
		t.Fatalf("deferred failures = %v, want %v", got, d+1)
	}
}
