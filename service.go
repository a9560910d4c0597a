package mediator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"github.com/rbaliyan/mediator/store"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Service is the mediator: it owns routes, mailboxes and devices, queues
// forwarded envelopes and answers inbox management requests.
type Service interface {
	ServiceHealth

	// Connect establishes connections to storage backends, the event bus
	// and notification channels.
	Connect(ctx context.Context) error
	// Close waits for in-flight forwards and closes all connections.
	Close(ctx context.Context) error

	RouteRegistry
	MailboxManager
	DeviceRegistry

	// Forward queues an envelope in the mailbox its relay key is bound to
	// and nudges the mailbox's active device.
	Forward(ctx context.Context, env Envelope) (*ForwardResult, error)

	// Handle executes one inbox management request for a session.
	Handle(ctx context.Context, sess *Session, req Request) (Response, error)

	// Backups returns the backup store, or nil if none is configured.
	Backups() store.BackupStore

	// Events returns per-service event instances for subscribing.
	Events() *ServiceEvents
}

// ServiceHealth reports service readiness.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// lifecycle is implemented by route stores with their own connections.
type lifecycle interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
}

// service is the default implementation of Service.
type service struct {
	store    store.Store
	routes   store.RouteStore
	backups  store.BackupStore
	logger   *slog.Logger
	opts     *options
	state    int32 // stateDisconnected, stateConnecting, or stateConnected
	channels *channelRegistry
	otel     *otelInstrumentation

	forwardSem *semaphore.Weighted // bounds concurrent forwards
	eventBus   *event.Bus
	events     *ServiceEvents

	partitions sync.Map           // mailboxID -> store.Partition
	opens      singleflight.Group // collapses concurrent first opens of one partition
}

// NewService creates a new mediator service.
// Call Connect() before use.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}

	channels := newChannelRegistry(o.logger)
	for _, c := range o.channels {
		channels.register(c)
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &service{
		store:      o.store,
		routes:     o.routes,
		backups:    o.backups,
		logger:     o.logger,
		opts:       o,
		channels:   channels,
		otel:       otelInstr,
		forwardSem: semaphore.NewWeighted(int64(o.maxConcurrentForwards)),
	}, nil
}

// Events returns per-service event instances.
// Nil until Connect succeeds.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// Backups returns the configured backup store.
func (s *service) Backups() store.BackupStore {
	return s.backups
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

func (s *service) checkConnected() error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	routeLC, hasRouteLC := s.routes.(lifecycle)
	hasRouteLC = hasRouteLC && s.opts.separateRoutes
	if hasRouteLC {
		if err := routeLC.Connect(ctx); err != nil {
			s.store.Close(ctx)
			return fmt.Errorf("connect route store: %w", err)
		}
	}

	rollback := func() {
		if hasRouteLC {
			routeLC.Close(ctx)
		}
		s.store.Close(ctx)
	}

	if err := s.initEventBus(ctx); err != nil {
		rollback()
		return fmt.Errorf("init event bus: %w", err)
	}

	if err := s.channels.initAll(ctx); err != nil {
		s.eventBus.Close(ctx)
		rollback()
		return fmt.Errorf("init channels: %w", err)
	}

	success = true
	s.logger.Info("mediator service connected",
		"channels", len(s.channels.byName),
		"backups", s.backups != nil,
	)
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus creates this service's own event bus and registers its events.
func (s *service) initEventBus(ctx context.Context) error {
	busName := fmt.Sprintf("%s-%d", s.opts.serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}
	return nil
}

// Close waits for in-flight forwards, then closes channels, the event bus
// and the stores.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// New forwards fail checkConnected now; holding every slot means the
	// in-flight ones are done.
	s.logger.Info("waiting for in-flight forwards to complete", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.forwardSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentForwards)); err != nil {
		s.logger.Warn("timeout waiting for in-flight forwards, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.forwardSem.Release(int64(s.opts.maxConcurrentForwards))
		s.logger.Info("all in-flight forwards completed")
	}

	if err := s.channels.closeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close channels: %w", err))
	}

	if s.eventBus != nil {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
		s.eventBus = nil
	}

	// Handles belong to the store connection being closed.
	s.partitions.Clear()

	if lc, ok := s.routes.(lifecycle); ok && s.opts.separateRoutes {
		if err := lc.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close route store: %w", err))
		}
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}
