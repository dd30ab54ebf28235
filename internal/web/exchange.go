package web

import (
	"context"
	"errors"
	"time"

	"github.com/starfederation/datastar-go/datastar"

	"github.com/tossie79/tmhcc-insurance/internal/apiclient"
	"github.com/tossie79/tmhcc-insurance/internal/notify"
	"github.com/tossie79/tmhcc-insurance/internal/render"
)

const msgAPIError = "Error loading data from API"

type outcome int

const (
	outcomeRendered outcome = iota + 1
	outcomeNotFound
	outcomeFailed
	// outcomeStale means a newer exchange for the region started meanwhile, so
	// nothing was written.
	outcomeStale
	// outcomeCanceled means the browser abandoned the request; nothing was
	// written.
	outcomeCanceled
)

func (o outcome) String() string {
	switch o {
	case outcomeRendered:
		return "rendered"
	case outcomeNotFound:
		return "not_found"
	case outcomeFailed:
		return "failed"
	case outcomeStale:
		return "stale"
	case outcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// exchange is one backend request whose result replaces a region.
type exchange struct {
	region       render.Region
	path         string
	policyNumber string

	sess    *session
	gen     uint64
	sse     *datastar.ServerSentEventGenerator
	started time.Time
	outcome outcome
}

// lifecycle holds the hooks every exchange runs through, in the order
// beforeRequest, then responseError or beforeSwap, then afterRequest.
type lifecycle struct {
	beforeRequest func(ex *exchange)
	responseError func(ex *exchange, res *apiclient.Response, err error) outcome
	beforeSwap    func(ex *exchange, res *apiclient.Response) outcome
	afterRequest  func(ex *exchange, res *apiclient.Response, err error)
}

func (s *Server) runExchange(ctx context.Context, sse *datastar.ServerSentEventGenerator, sess *session, region render.Region, path, policyNumber string) outcome {
	ex := &exchange{
		region:       region,
		path:         path,
		policyNumber: policyNumber,
		sess:         sess,
		gen:          sess.begin(region),
		sse:          sse,
		started:      time.Now(),
	}
	s.hooks.beforeRequest(ex)

	res, err := s.api.Fetch(ctx, path)
	if err != nil {
		ex.outcome = s.hooks.responseError(ex, res, err)
	} else {
		ex.outcome = s.hooks.beforeSwap(ex, res)
	}
	s.hooks.afterRequest(ex, res, err)
	return ex.outcome
}

// patch replaces the region's content unless the exchange went stale.
func (s *Server) patch(ex *exchange, html string) bool {
	if !ex.sess.current(ex.region, ex.gen) {
		return false
	}
	_ = ex.sse.PatchElements(html,
		datastar.WithSelector(ex.region.Selector()),
		datastar.WithMode(datastar.ElementPatchModeInner),
	)
	return true
}

func (s *Server) onBeforeRequest(ex *exchange) {
	s.log.V(1).Info("exchange started", "region", ex.region.String(), "path", ex.path)
	s.patch(ex, ex.region.Loading())
}

func (s *Server) onResponseError(ex *exchange, res *apiclient.Response, err error) outcome {
	if errors.Is(err, context.Canceled) {
		return outcomeCanceled
	}
	if !ex.sess.current(ex.region, ex.gen) {
		return outcomeStale
	}

	var statusErr *apiclient.StatusError
	switch {
	case errors.Is(err, apiclient.ErrNotFound):
		s.patch(ex, ex.region.NotFound(ex.policyNumber))
		return outcomeNotFound
	case errors.As(err, &statusErr):
		s.patch(ex, ex.region.StatusError(ex.policyNumber))
	default:
		s.patch(ex, ex.region.Failure(ex.policyNumber))
	}
	s.log.Error(err, "backend request failed", "region", ex.region.String(), "path", ex.path)
	ex.sess.notes.Show(msgAPIError, notify.SeverityError)
	return outcomeFailed
}

func (s *Server) onBeforeSwap(ex *exchange, res *apiclient.Response) outcome {
	if !ex.sess.current(ex.region, ex.gen) {
		return outcomeStale
	}
	html, err := ex.region.Final(res.Body)
	if err != nil {
		s.log.Error(&apiclient.MalformedError{Path: ex.path, Err: err}, "discarding response", "region", ex.region.String())
		s.patch(ex, ex.region.Malformed(ex.policyNumber))
		return outcomeFailed
	}
	if !s.patch(ex, html) {
		return outcomeStale
	}
	return outcomeRendered
}

func (s *Server) onAfterRequest(ex *exchange, res *apiclient.Response, err error) {
	status := 0
	if res != nil {
		status = res.Status
	}
	kv := []any{
		"method", "GET",
		"path", ex.path,
		"region", ex.region.String(),
		"status", status,
		"outcome", ex.outcome.String(),
		"duration", time.Since(ex.started),
	}
	if err != nil {
		kv = append(kv, "error", err.Error())
	}
	s.log.Info("exchange complete", kv...)
}
