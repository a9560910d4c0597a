package mediator

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/rbaliyan/mediator/store/memory"
)

type acceptAll struct{}

func (acceptAll) Verify(context.Context, string) bool { return true }

func TestNewOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		o := newOptions()
		if o.maxConcurrentForwards != DefaultMaxConcurrentForwards {
			t.Errorf("maxConcurrentForwards = %d", o.maxConcurrentForwards)
		}
		if o.shutdownTimeout != DefaultShutdownTimeout {
			t.Errorf("shutdownTimeout = %v", o.shutdownTimeout)
		}
		if o.serviceName != DefaultServiceName {
			t.Errorf("serviceName = %q", o.serviceName)
		}
		if o.secrets.Verify(context.Background(), "anything") {
			t.Error("default verifier must reject every secret")
		}
		if o.routes != nil || o.separateRoutes {
			t.Error("no store means no routes")
		}
	})

	t.Run("routes default to the store", func(t *testing.T) {
		st := memory.New()
		o := newOptions(WithStore(st))
		if o.routes != st || o.separateRoutes {
			t.Error("expected store to serve routes")
		}
	})

	t.Run("separate route store", func(t *testing.T) {
		routes := memory.New()
		o := newOptions(WithStore(memory.New()), WithRouteStore(routes))
		if o.routes != routes || !o.separateRoutes {
			t.Error("expected separate route store")
		}
	})

	t.Run("invalid values are ignored", func(t *testing.T) {
		o := newOptions(
			WithMaxConcurrentForwards(0),
			WithShutdownTimeout(time.Millisecond),
			WithServiceName(""),
			WithLogger(nil),
			WithStore(nil),
			WithChannel(nil),
			WithSecretVerifier(nil),
		)
		if o.maxConcurrentForwards != DefaultMaxConcurrentForwards {
			t.Errorf("maxConcurrentForwards = %d", o.maxConcurrentForwards)
		}
		if o.shutdownTimeout != DefaultShutdownTimeout {
			t.Errorf("shutdownTimeout = %v", o.shutdownTimeout)
		}
		if o.serviceName != DefaultServiceName || o.logger == nil || o.store != nil || len(o.channels) != 0 || o.secrets == nil {
			t.Error("nil and empty options must keep defaults")
		}
	})

	t.Run("overrides", func(t *testing.T) {
		logger := slog.New(slog.DiscardHandler)
		o := newOptions(
			WithMaxConcurrentForwards(3),
			WithShutdownTimeout(5*time.Second),
			WithServiceName("edge"),
			WithLogger(logger),
			WithSecretVerifier(acceptAll{}),
			WithOTel(true),
		)
		if o.maxConcurrentForwards != 3 || o.shutdownTimeout != 5*time.Second || o.serviceName != "edge" || o.logger != logger {
			t.Errorf("overrides not applied: %+v", o)
		}
		if !o.secrets.Verify(context.Background(), "x") {
			t.Error("expected custom verifier")
		}
		if !o.tracingEnabled || !o.metricsEnabled {
			t.Error("WithOTel must enable tracing and metrics")
		}
	})
}

func TestEventPublishFailureHandler(t *testing.T) {
	var gotName string
	var gotErr error
	o := newOptions(WithEventPublishFailureHandler(func(name string, err error) {
		gotName, gotErr = name, err
	}))
	cause := errors.New("broker down")
	o.safeEventPublishFailure("ItemQueued", cause)
	if gotName != "ItemQueued" || gotErr != cause {
		t.Errorf("handler got %q, %v", gotName, gotErr)
	}

	t.Run("panics are recovered", func(t *testing.T) {
		o := newOptions(
			WithLogger(slog.New(slog.DiscardHandler)),
			WithEventPublishFailureHandler(func(string, error) { panic("boom") }),
		)
		o.safeEventPublishFailure("RouteAdded", cause)
	})
}
