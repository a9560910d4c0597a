package mediator

import (
	"context"
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/rbaliyan/mediator/retry"
	"github.com/rbaliyan/mediator/secret"
	"github.com/rbaliyan/mediator/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultShutdownTimeout = 30 * time.Second // default graceful shutdown timeout
	MinShutdownTimeout     = 1 * time.Second  // minimum shutdown timeout
	DefaultOpenTimeout     = 30 * time.Second // bound on a shared partition open

	// DefaultMaxConcurrentForwards bounds in-flight Forward calls per service.
	DefaultMaxConcurrentForwards = 10

	// DefaultServiceName names the event bus and OTel resources.
	DefaultServiceName = "mediator"

	// SecretMetadataKey is the CreateMailbox metadata entry carrying the shared secret.
	SecretMetadataKey = "Mobile-Secret"
)

// SecretVerifier decides whether a shared secret may create mailboxes.
// secret.Static is the default implementation.
type SecretVerifier interface {
	Verify(ctx context.Context, candidate string) bool
}

// options holds service configuration.
type options struct {
	store   store.Store
	routes  store.RouteStore
	backups store.BackupStore
	logger  *slog.Logger

	separateRoutes bool // routes has its own lifecycle

	secrets  SecretVerifier
	channels []Channel

	maxConcurrentForwards int
	shutdownTimeout       time.Duration
	openPolicy            retry.Policy
	openTimeout           time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventTransport        transport.Transport
	redisClient           redis.UniversalClient
	onEventPublishFailure EventPublishFailureFunc // always set
}

// EventPublishFailureFunc is called when an event fails to publish.
// eventName is the short event name (e.g. "ItemQueued").
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:                slog.Default(),
		secrets:               secret.NewStatic(),
		maxConcurrentForwards: DefaultMaxConcurrentForwards,
		shutdownTimeout:       DefaultShutdownTimeout,
		openPolicy:            retry.DefaultPolicy(),
		openTimeout:           DefaultOpenTimeout,
		serviceName:           DefaultServiceName,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.routes == nil {
		if o.store != nil {
			o.routes = o.store
		}
	} else {
		o.separateRoutes = true
	}

	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures the mediator service.
type Option func(*options)

// --- Core Options ---

// WithStore sets the storage backend (required).
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithRouteStore keeps relay key bindings in a separate backend such as
// store/redis or store/dynamo. If it has Connect/Close methods they are
// called with the service lifecycle. Defaults to the main store.
func WithRouteStore(r store.RouteStore) Option {
	return func(o *options) {
		if r != nil {
			o.routes = r
		}
	}
}

// WithBackupStore enables the backup requests of the management protocol.
func WithBackupStore(b store.BackupStore) Option {
	return func(o *options) {
		if b != nil {
			o.backups = b
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// --- Access Options ---

// WithSecrets sets the allowlist of shared secrets accepted by CreateMailbox.
// With no secrets configured every CreateMailbox request is rejected.
func WithSecrets(secrets ...string) Option {
	return func(o *options) {
		o.secrets = secret.NewStatic(secrets...)
	}
}

// WithSecretVerifier replaces the secret allowlist with a custom verifier.
func WithSecretVerifier(v SecretVerifier) Option {
	return func(o *options) {
		if v != nil {
			o.secrets = v
		}
	}
}

// --- Notification Options ---

// WithChannel registers a notification channel.
// Registering a channel named "Polling" replaces the built-in one.
func WithChannel(c Channel) Option {
	return func(o *options) {
		if c != nil {
			o.channels = append(o.channels, c)
		}
	}
}

// --- Concurrency Options ---

// WithMaxConcurrentForwards bounds concurrent Forward calls. Default is 10.
func WithMaxConcurrentForwards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentForwards = n
		}
	}
}

// WithShutdownTimeout sets how long Close waits for in-flight forwards.
// Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// WithPartitionOpenPolicy sets the retry policy used when opening mailbox partitions.
func WithPartitionOpenPolicy(p retry.Policy) Option {
	return func(o *options) {
		o.openPolicy = p
	}
}

// WithPartitionOpenTimeout bounds a partition open. The open is shared by
// concurrent callers and outlives a cancelled caller. Default is 30 seconds.
func WithPartitionOpenTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.openTimeout = d
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing. Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics. Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name used for the event bus and telemetry.
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom tracer provider.
// If not set, the global tracer provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom meter provider.
// If not set, the global meter provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Event Options ---

// WithEventTransport sets a custom event transport.
// Takes precedence over WithRedisClient.
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient publishes events over Redis.
// Without a transport or Redis client events go to a noop transport.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for event publish failures.
// Publishing is fire-and-forget, so this is the only place failures surface.
// Default logs at Error level.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}
