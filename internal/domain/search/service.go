package search

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/user-search/internal/domain/auth"
	"github.com/xenking/user-search/internal/domain/identity"
	"github.com/xenking/user-search/internal/representation"
)

// ErrUnauthorized is returned by every Session search when the request did
// not present a valid bearer token. No store call is made in that case.
var ErrUnauthorized = errors.New("unauthorized")

const instrumentationName = "github.com/xenking/user-search/internal/domain/search"

// Outcome labels recorded on the request counter.
const (
	outcomeOK           = "ok"
	outcomeUnauthorized = "unauthorized"
	outcomeError        = "error"
)

type options struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures a Service.
type Option func(*options)

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets the meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// Service holds the shared, immutable collaborators of the search pipeline.
// It is safe for concurrent use; per-request state lives in Session.
type Service struct {
	auth   auth.Authenticator
	store  identity.Store
	mapper representation.Mapper

	tracer   trace.Tracer
	requests metric.Int64Counter
	results  metric.Int64Histogram
}

// NewService creates a Service. A nil mapper selects representation.Default.
func NewService(
	authenticator auth.Authenticator,
	store identity.Store,
	mapper representation.Mapper,
	opts ...Option,
) (*Service, error) {
	o := options{
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if mapper == nil {
		mapper = representation.Default
	}

	meter := o.meterProvider.Meter(instrumentationName)
	requests, err := meter.Int64Counter("user_search.requests",
		metric.WithDescription("Search requests by mode and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create requests counter")
	}
	results, err := meter.Int64Histogram("user_search.results",
		metric.WithDescription("Number of users returned per successful search"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create results histogram")
	}

	return &Service{
		auth:     authenticator,
		store:    store,
		mapper:   mapper,
		tracer:   o.tracerProvider.Tracer(instrumentationName),
		requests: requests,
		results:  results,
	}, nil
}

// Open runs the auth gate for one request and returns the request-scoped
// session. The authenticator is invoked exactly once.
func (s *Service) Open(ctx context.Context, req auth.Request) *Session {
	return &Session{
		svc:     s,
		realm:   req.Realm,
		verdict: s.auth.Authenticate(ctx, req),
	}
}

// Session is the per-request pipeline. It must not be shared between requests.
type Session struct {
	svc     *Service
	realm   string
	verdict auth.Verdict
}

// Verdict returns the authentication verdict computed when the session was
// opened.
func (s *Session) Verdict() auth.Verdict { return s.verdict }

// Realm returns the realm every lookup of this session is scoped to.
func (s *Session) Realm() string { return s.realm }

// Search dispatches c to the matching strategy.
func (s *Session) Search(ctx context.Context, c Criterion) ([]representation.User, error) {
	switch c.Kind {
	case ByAttribute:
		return s.SearchByAttribute(ctx, c.Name, c.Value)
	case ByGroup:
		return s.SearchByGroup(ctx, c.GroupID)
	case ByQuery:
		return s.SearchByQuery(ctx, c.Query)
	default:
		return nil, errors.Errorf("unknown criterion %s", c.Kind)
	}
}

// SearchByAttribute returns every user whose attribute name has value among
// its values. Matching rules belong to the store.
func (s *Session) SearchByAttribute(ctx context.Context, name, value string) ([]representation.User, error) {
	return s.run(ctx, ByAttribute, func(ctx context.Context) ([]identity.User, error) {
		users, err := s.svc.store.FindUsersByAttribute(ctx, s.realm, name, value)
		if err != nil {
			return nil, errors.Wrapf(err, "find users by attribute %q", name)
		}
		return users, nil
	})
}

// SearchByGroup returns the members of groupID. A group that does not resolve
// yields an empty result.
func (s *Session) SearchByGroup(ctx context.Context, groupID string) ([]representation.User, error) {
	return s.run(ctx, ByGroup, func(ctx context.Context) ([]identity.User, error) {
		group, err := s.svc.store.ResolveGroup(ctx, s.realm, groupID)
		if err != nil {
			if errors.Is(err, identity.ErrGroupNotFound) {
				return nil, nil
			}
			return nil, errors.Wrapf(err, "resolve group %q", groupID)
		}
		if group == nil {
			return nil, nil
		}

		users, err := s.svc.store.FindGroupMembers(ctx, s.realm, group)
		if err != nil {
			return nil, errors.Wrapf(err, "find members of group %q", groupID)
		}
		return users, nil
	})
}

// SearchByQuery passes query verbatim to the store's free-text search.
func (s *Session) SearchByQuery(ctx context.Context, query string) ([]representation.User, error) {
	return s.run(ctx, ByQuery, func(ctx context.Context) ([]identity.User, error) {
		users, err := s.svc.store.FindUsersByQuery(ctx, s.realm, query)
		if err != nil {
			return nil, errors.Wrap(err, "find users by query")
		}
		return users, nil
	})
}

// run applies the auth gate, performs fetch and maps the records in order.
func (s *Session) run(
	ctx context.Context,
	kind Kind,
	fetch func(ctx context.Context) ([]identity.User, error),
) ([]representation.User, error) {
	ctx, span := s.svc.tracer.Start(ctx, "search."+kind.String(),
		trace.WithAttributes(attribute.String("realm", s.realm)),
	)
	defer span.End()

	if !s.verdict.OK() {
		s.record(ctx, kind, outcomeUnauthorized)
		span.SetStatus(codes.Error, outcomeUnauthorized)
		return nil, ErrUnauthorized
	}

	users, err := fetch(ctx)
	if err != nil {
		s.record(ctx, kind, outcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "store query failed")
		return nil, err
	}

	out := representation.MapAll(s.svc.mapper, s.realm, users)
	s.record(ctx, kind, outcomeOK)
	s.svc.results.Record(ctx, int64(len(out)),
		metric.WithAttributes(attribute.String("mode", kind.String())),
	)
	span.SetAttributes(attribute.Int("search.results", len(out)))
	return out, nil
}

func (s *Session) record(ctx context.Context, kind Kind, outcome string) {
	s.svc.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", kind.String()),
		attribute.String("outcome", outcome),
	))
}
