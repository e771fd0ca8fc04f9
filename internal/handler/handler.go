// Package handler exposes user search over HTTP.
package handler

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/ogen-go/ogen/ogenerrors"
	"github.com/ogen-go/ogen/otelogen"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/user-search/internal/domain/auth"
	"github.com/xenking/user-search/internal/domain/search"
	"github.com/xenking/user-search/internal/representation"
)

// DefaultProviderID is the path segment the search routes are mounted under
// when none is configured.
const DefaultProviderID = "user-search"

// Path parameter names.
const (
	paramRealm          = "realm"
	paramAttributeName  = "attributeName"
	paramAttributeValue = "attributeValue"
	paramGroupID        = "groupId"
	paramSearchQuery    = "searchQuery"
)

// Operation names reported to the error handler, one per route.
const (
	SearchByAttributeOperation = "SearchByAttribute"
	SearchByGroupOperation     = "SearchByGroup"
	SearchByQueryOperation     = "SearchByQuery"
)

// securityScheme names the bearer requirement in security errors.
const securityScheme = "BearerAuth"

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ProviderID is the second path segment after the realm.
	ProviderID string
	// ErrorHandler writes responses for failed requests. Authentication
	// failures arrive as *ogenerrors.SecurityError and malformed path
	// parameters as *ogenerrors.DecodeParamsError. Defaults to ErrorHandler.
	ErrorHandler ogenerrors.ErrorHandler
}

// Handler serves the search routes, delegating to the search service.
type Handler struct {
	svc          *search.Service
	providerID   string
	errorHandler ogenerrors.ErrorHandler
}

// New constructs a Handler.
func New(svc *search.Service, cfg Config) *Handler {
	if cfg.ProviderID == "" {
		cfg.ProviderID = DefaultProviderID
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = ErrorHandler
	}
	return &Handler{svc: svc, providerID: cfg.ProviderID, errorHandler: cfg.ErrorHandler}
}

// Pattern returns the mount pattern of the search routes.
func (h *Handler) Pattern() string {
	return "/realms/{" + paramRealm + "}/" + h.providerID
}

// Mount registers the search routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route(h.Pattern(), func(r chi.Router) {
		r.MethodNotAllowed(methodNotAllowed)
		r.Get("/attribute/{"+paramAttributeName+"}/{"+paramAttributeValue+"}", h.serve(search.ByAttribute))
		r.Get("/group/{"+paramGroupID+"}", h.serve(search.ByGroup))
		r.Get("/query/{"+paramSearchQuery+"}", h.serve(search.ByQuery))
	})
}

// Params holds decoded path parameters by name.
type Params map[string]string

// CriterionFor builds the criterion of a route kind from its path parameters.
func CriterionFor(kind search.Kind, p Params) search.Criterion {
	switch kind {
	case search.ByAttribute:
		return search.AttributeCriterion(p[paramAttributeName], p[paramAttributeValue])
	case search.ByGroup:
		return search.GroupCriterion(p[paramGroupID])
	default:
		return search.QueryCriterion(p[paramSearchQuery])
	}
}

func operation(kind search.Kind) ogenerrors.OperationContext {
	switch kind {
	case search.ByAttribute:
		return ogenerrors.OperationContext{Name: SearchByAttributeOperation, ID: "searchByAttribute"}
	case search.ByGroup:
		return ogenerrors.OperationContext{Name: SearchByGroupOperation, ID: "searchByGroup"}
	default:
		return ogenerrors.OperationContext{Name: SearchByQueryOperation, ID: "searchByQuery"}
	}
}

func (h *Handler) serve(kind search.Kind) http.HandlerFunc {
	op := operation(kind)
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		lg := zctx.From(ctx).With(zap.String("operation", op.ID))

		opAttr := otelogen.OperationID(op.ID)
		trace.SpanFromContext(ctx).SetAttributes(opAttr)
		if labeler, ok := otelhttp.LabelerFromContext(ctx); ok {
			labeler.Add(opAttr)
		}

		// The realm is needed to pick the token issuer. A realm that fails to
		// decode is passed through raw and cannot match any issuer.
		realm, err := pathParam(r, paramRealm)
		if err != nil {
			realm = chi.URLParam(r, paramRealm)
		}
		session := h.svc.Open(ctx, auth.Request{
			Realm:         realm,
			Authorization: r.Header.Get("Authorization"),
		})
		if !session.Verdict().OK() {
			lg.Debug("Search rejected",
				zap.String("realm", session.Realm()),
				zap.Bool("has_token", session.Verdict().HasToken),
			)
			h.errorHandler(ctx, w, r, &ogenerrors.SecurityError{
				OperationContext: op,
				Security:         securityScheme,
				Err:              search.ErrUnauthorized,
			})
			return
		}

		params, err := pathParams(r)
		if err != nil {
			lg.Debug("Bad path parameter", zap.Error(err))
			h.errorHandler(ctx, w, r, &ogenerrors.DecodeParamsError{
				OperationContext: op,
				Err:              err,
			})
			return
		}

		users, err := session.Search(ctx, CriterionFor(kind, params))
		if err != nil {
			lg.Error("Search failed",
				zap.String("realm", session.Realm()),
				zap.Stringer("mode", kind),
				zap.Error(err),
			)
			h.errorHandler(ctx, w, r, err)
			return
		}
		writeUsers(w, users)
	}
}

// ErrorHandler is the default error handler. Security errors get 401 with a
// Bearer challenge and no body. Everything else gets a generic JSON error;
// store errors are never echoed.
func ErrorHandler(_ context.Context, w http.ResponseWriter, _ *http.Request, err error) {
	var (
		secErr    *ogenerrors.SecurityError
		decodeErr *ogenerrors.DecodeParamsError
	)
	switch {
	case errors.As(err, &secErr), errors.Is(err, search.ErrUnauthorized):
		w.Header().Set("WWW-Authenticate", "Bearer")
		w.WriteHeader(http.StatusUnauthorized)
	case errors.As(err, &decodeErr):
		writeError(w, http.StatusBadRequest, "malformed path parameter")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// pathParams returns route parameters decoded exactly once. chi matches on
// the escaped path when the request carries one, leaving values encoded.
func pathParams(r *http.Request) (Params, error) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return Params{}, nil
	}
	out := make(Params, len(rctx.URLParams.Keys))
	for _, key := range rctx.URLParams.Keys {
		v, err := pathParam(r, key)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func pathParam(r *http.Request, key string) (string, error) {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v, nil
	}
	decoded, err := url.PathUnescape(v)
	if err != nil {
		return "", errors.Wrapf(err, "decode %s", key)
	}
	return decoded, nil
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", http.MethodGet)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeUsers(w http.ResponseWriter, users []representation.User) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	representation.EncodeUsers(e, users)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, code int, message string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
