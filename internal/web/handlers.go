package web

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/tossie79/tmhcc-insurance/internal/apiclient"
	"github.com/tossie79/tmhcc-insurance/internal/notify"
	"github.com/tossie79/tmhcc-insurance/internal/render"
)

const (
	msgRefreshed     = "Policies refreshed successfully"
	msgEmptySearch   = "Please enter a policy number to search"
	msgDetailsFailed = "Error loading policy details"
)

type searchSignals struct {
	SearchQuery string `json:"searchQuery"`
	SearchKey   string `json:"searchKey"`
}

// handleLoadAll closes the search panel and reloads the policies table. With
// ?initial=1 (first page load) the search panel is left alone and no success
// notification is shown.
func (s *Server) handleLoadAll(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.ensure(w, r)
	initial := strings.TrimSpace(r.URL.Query().Get("initial")) != ""

	sse := datastar.NewSSE(w, r)
	if !initial {
		s.closeSearch(sse, sess)
	}
	out := s.runExchange(sse.Context(), sse, sess, render.RegionPolicies, apiclient.ListPath(), "")
	if out == outcomeRendered && !initial {
		sess.notes.Show(msgRefreshed, notify.SeveritySuccess)
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.ensure(w, r)
	var sig searchSignals
	if err := datastar.ReadSignals(r, &sig); err != nil {
		http.Error(w, "invalid signals", http.StatusBadRequest)
		return
	}
	s.search(w, r, sess, sig.SearchQuery)
}

// handleSearchKeypress runs a search when the key pressed in the search box
// was Enter and does nothing otherwise.
func (s *Server) handleSearchKeypress(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.ensure(w, r)
	var sig searchSignals
	if err := datastar.ReadSignals(r, &sig); err != nil {
		http.Error(w, "invalid signals", http.StatusBadRequest)
		return
	}
	if sig.SearchKey != "Enter" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.search(w, r, sess, sig.SearchQuery)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, sess *session, query string) {
	policyNumber := strings.TrimSpace(query)
	if policyNumber == "" {
		sess.notes.Show(msgEmptySearch, notify.SeverityError)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	sse := datastar.NewSSE(w, r)
	_ = sse.MarshalAndPatchSignals(map[string]any{"searchOpen": true})
	s.runExchange(sse.Context(), sse, sess, render.RegionSearch, apiclient.PolicyPath(policyNumber), policyNumber)
}

// handleViewDetails loads one policy into the details modal and reveals the
// modal once the content is in place.
func (s *Server) handleViewDetails(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.ensure(w, r)
	policyNumber := strings.TrimSpace(pathParam(r, "policyNumber"))
	if policyNumber == "" {
		sess.notes.Show(msgDetailsFailed, notify.SeverityError)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	sse := datastar.NewSSE(w, r)
	switch s.runExchange(sse.Context(), sse, sess, render.RegionDetail, apiclient.PolicyPath(policyNumber), policyNumber) {
	case outcomeRendered:
		_ = sse.MarshalAndPatchSignals(map[string]any{"modalOpen": true})
	case outcomeStale, outcomeCanceled:
	default:
		sess.notes.Show(msgDetailsFailed, notify.SeverityError)
	}
}

func (s *Server) handleCloseSearch(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.ensure(w, r)
	sse := datastar.NewSSE(w, r)
	s.closeSearch(sse, sess)
}

// handleCloseModal hides the modal. Its content stays until the next open.
func (s *Server) handleCloseModal(w http.ResponseWriter, r *http.Request) {
	s.sessions.ensure(w, r)
	sse := datastar.NewSSE(w, r)
	_ = sse.MarshalAndPatchSignals(map[string]any{"modalOpen": false})
}

// handleDismissNotice removes the banner before its timer does. The open
// events stream patches it away.
func (s *Server) handleDismissNotice(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.ensure(w, r)
	sess.notes.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// closeSearch hides the search panel, clears the input and the result region,
// and drops any search still in flight.
func (s *Server) closeSearch(sse *datastar.ServerSentEventGenerator, sess *session) {
	sess.invalidate(render.RegionSearch)
	_ = sse.MarshalAndPatchSignals(map[string]any{"searchQuery": "", "searchOpen": false})
	_ = sse.PatchElements(render.RegionSearch.Empty(),
		datastar.WithSelector(render.RegionSearch.Selector()),
		datastar.WithMode(datastar.ElementPatchModeOuter),
	)
}

// handleEvents streams the session's notification banner for as long as the
// page stays open.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.ensure(w, r)
	detach := sess.attach()
	defer detach()
	ch, cancel := sess.notes.Subscribe()
	defer cancel()

	sse := datastar.NewSSE(w, r)

	if n, ok := sess.notes.Current(); ok {
		patchNotifications(sse, &n)
	}

	keepAlive := time.NewTicker(25 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-sse.Context().Done():
			return
		case <-keepAlive.C:
			sess.touch(s.sessions.now())
			_ = sse.PatchSignals([]byte(`{}`))
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Kind {
			case notify.EventShown:
				n := ev.Notification
				patchNotifications(sse, &n)
			case notify.EventCleared:
				patchNotifications(sse, nil)
			}
		}
	}
}

// patchNotifications replaces the notification area; nil empties it.
func patchNotifications(sse *datastar.ServerSentEventGenerator, n *notify.Notification) {
	html := `<div id="notifications"></div>`
	if n != nil {
		html = `<div id="notifications">` + render.Notification(n.ID, n.Message, string(n.Severity)) + `</div>`
	}
	_ = sse.PatchElements(html,
		datastar.WithSelector("#notifications"),
		datastar.WithMode(datastar.ElementPatchModeOuter),
	)
}

// pathParam returns a route parameter with percent-encoding removed.
func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if r.URL.RawPath != "" {
		if u, err := url.PathUnescape(v); err == nil {
			return u
		}
	}
	return v
}
