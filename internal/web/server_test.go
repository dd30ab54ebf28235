package web

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tossie79/tmhcc-insurance/internal/apiclient"
	"github.com/tossie79/tmhcc-insurance/internal/notify"
	"github.com/tossie79/tmhcc-insurance/internal/render"
)

type fakeBackend struct {
	srv *httptest.Server

	mu   sync.Mutex
	seen []string
}

func newFakeBackend(t *testing.T, h http.HandlerFunc) *fakeBackend {
	t.Helper()
	b := &fakeBackend{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.seen = append(b.seen, r.URL.EscapedPath())
		b.mu.Unlock()
		h(w, r)
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) requests() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.seen...)
}

const twoPolicies = `[
 {"id":1,"policy_number":"TMPROP2024001","insured_name":"Thames Valley Property Holdings Ltd","policy_type":"Property","premium":"£125,000","status":"Active","start_date":"01/01/2024","end_date":"31/12/2024"},
 {"id":2,"policy_number":"TMMAR2024001","insured_name":"Atlantic Shipping Co","policy_type":"Marine","premium":"$89,000","status":"Pending","start_date":"01/02/2024","end_date":"31/01/2025"}
]`

func policyBackend(t *testing.T) *fakeBackend {
	t.Helper()
	var policies []map[string]any
	if err := json.Unmarshal([]byte(twoPolicies), &policies); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	return newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/policies/" {
			_, _ = io.WriteString(w, twoPolicies)
			return
		}
		n := strings.TrimPrefix(r.URL.Path, "/policies/")
		for _, p := range policies {
			if p["policy_number"] == n {
				_ = json.NewEncoder(w).Encode(p)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"Policy not found"}`)
	})
}

func newTestServer(t *testing.T, backendURL string) *Server {
	t.Helper()
	s, err := NewServer(ServerConfig{
		Addr:            "127.0.0.1:0",
		BackendURL:      backendURL,
		BackendTimeout:  2 * time.Second,
		NotificationTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func doRequest(s *Server, sess *session, method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if sess != nil {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess.id})
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

type sseEvent struct {
	typ      string
	selector string
	mode     string
	elements string
	signals  map[string]any
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var (
		out []sseEvent
		cur *sseEvent
		els []string
	)
	flush := func() {
		if cur != nil {
			cur.elements = strings.Join(els, "\n")
			out = append(out, *cur)
		}
		cur, els = nil, nil
	}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event: "):
			cur = &sseEvent{typ: strings.TrimPrefix(line, "event: "), mode: "outer"}
		case cur == nil:
		case strings.HasPrefix(line, "data: selector "):
			cur.selector = strings.TrimPrefix(line, "data: selector ")
		case strings.HasPrefix(line, "data: mode "):
			cur.mode = strings.TrimPrefix(line, "data: mode ")
		case strings.HasPrefix(line, "data: elements "):
			els = append(els, strings.TrimPrefix(line, "data: elements "))
		case strings.HasPrefix(line, "data: signals "):
			sig := map[string]any{}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: signals ")), &sig); err != nil {
				t.Fatalf("signals line %q: %v", line, err)
			}
			cur.signals = sig
		}
	}
	flush()
	return out
}

func patchesFor(events []sseEvent, selector string) []sseEvent {
	var out []sseEvent
	for _, ev := range events {
		if ev.typ == "datastar-patch-elements" && ev.selector == selector {
			out = append(out, ev)
		}
	}
	return out
}

func mergedSignals(events []sseEvent) map[string]any {
	out := map[string]any{}
	for _, ev := range events {
		for k, v := range ev.signals {
			out[k] = v
		}
	}
	return out
}

func lastPatch(t *testing.T, events []sseEvent, selector string) sseEvent {
	t.Helper()
	ps := patchesFor(events, selector)
	if len(ps) == 0 {
		t.Fatalf("no patch for %s in %+v", selector, events)
	}
	return ps[len(ps)-1]
}

func TestNewServer_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(ServerConfig{BackendURL: "http://localhost:8000"}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
	if _, err := NewServer(ServerConfig{Addr: ":0"}); err == nil {
		t.Fatalf("expected error for empty backend url")
	}
	if _, err := NewServer(ServerConfig{Addr: ":0", BackendURL: "ftp://x"}); err == nil {
		t.Fatalf("expected error for unsupported backend scheme")
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, "http://127.0.0.1:1")
	rec := doRequest(s, nil, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestHome_RendersRegionsAndBindings(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, "http://127.0.0.1:1")
	rec := doRequest(s, nil, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, id := range []string{"policiesTable", "searchInput", "searchResults", "singlePolicyResult", "policyDetails", "policyModal", "notifications"} {
		if !strings.Contains(body, `id="`+id+`"`) {
			t.Fatalf("page missing #%s", id)
		}
	}
	for _, want := range []string{
		`data-on:keydown__window="evt.key === &#39;Escape&#39;`,
		`data-on:click="evt.target === el &amp;&amp; @post(&#39;/ui/modal/close&#39;)"`,
		`data-on:keydown="$searchKey = evt.key; evt.key === &#39;Enter&#39;`,
		`data-init="@get(&#39;/ui/events&#39;)"`,
		`Loading policies...`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("page missing %q", want)
		}
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookieName || cookies[0].Value == "" {
		t.Fatalf("expected session cookie, got %+v", cookies)
	}
}

func TestAppCSS(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, "http://127.0.0.1:1")
	rec := doRequest(s, nil, http.MethodGet, "/static/app.css", "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/css") {
		t.Fatalf("app.css = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestSearch_WhitespaceMakesNoRequest(t *testing.T) {
	t.Parallel()

	b := policyBackend(t)
	s := newTestServer(t, b.srv.URL)
	sess := s.sessions.create()

	rec := doRequest(s, sess, http.MethodPost, "/ui/search", `{"searchQuery":"  "}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := b.requests(); len(got) != 0 {
		t.Fatalf("expected zero backend requests, got %v", got)
	}
	if sess.notes.ShownCount() != 1 {
		t.Fatalf("expected exactly one notification, got %d", sess.notes.ShownCount())
	}
	n, ok := sess.notes.Current()
	if !ok || n.Severity != notify.SeverityError || n.Message != msgEmptySearch {
		t.Fatalf("unexpected notification %+v ok=%v", n, ok)
	}
}

func TestSearch_Found(t *testing.T) {
	t.Parallel()

	b := policyBackend(t)
	s := newTestServer(t, b.srv.URL)
	sess := s.sessions.create()

	rec := doRequest(s, sess, http.MethodPost, "/ui/search", `{"searchQuery":"  TMPROP2024001 "}`)
	events := parseSSE(t, rec.Body.String())

	if got := b.requests(); len(got) != 1 || got[0] != "/policies/TMPROP2024001" {
		t.Fatalf("backend requests = %v", got)
	}
	patches := patchesFor(events, "#singlePolicyResult")
	if len(patches) != 2 {
		t.Fatalf("expected loading + result patches, got %d", len(patches))
	}
	if !strings.Contains(patches[0].elements, "Searching for policy...") || patches[0].mode != "inner" {
		t.Fatalf("first patch should be the loading fragment: %+v", patches[0])
	}
	if !strings.Contains(patches[1].elements, "Policy Found") || !strings.Contains(patches[1].elements, "Thames Valley Property Holdings Ltd") {
		t.Fatalf("result patch = %q", patches[1].elements)
	}
	if mergedSignals(events)["searchOpen"] != true {
		t.Fatalf("search panel not revealed")
	}
	if sess.notes.ShownCount() != 0 {
		t.Fatalf("unexpected notification")
	}
}

func TestSearch_NotFoundIsNotAnError(t *testing.T) {
	t.Parallel()

	b := policyBackend(t)
	s := newTestServer(t, b.srv.URL)
	sess := s.sessions.create()

	rec := doRequest(s, sess, http.MethodPost, "/ui/search", `{"searchQuery":"ABC123"}`)
	events := parseSSE(t, rec.Body.String())

	got := lastPatch(t, events, "#singlePolicyResult").elements
	if !strings.Contains(got, "ABC123") || !strings.Contains(got, "Policy Not Found") {
		t.Fatalf("expected not-found panel for ABC123:\n%s", got)
	}
	if strings.Contains(got, "Error loading") {
		t.Fatalf("not-found panel must not carry a network error:\n%s", got)
	}
	if sess.notes.ShownCount() != 0 {
		t.Fatalf("404 must not raise a notification")
	}
}

func TestSearch_FailureModes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantText   string
		wantNotify bool
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantText:   `Policy "X&lt;1&gt;" was not found`,
			wantNotify: true,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `"not an object"`)
			},
			wantText:   `Policy "X&lt;1&gt;" was not found`,
			wantNotify: false,
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, `{"policy_number":`)
			},
			wantText:   "Policy Not Found",
			wantNotify: false,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := newFakeBackend(t, tt.handler)
			s := newTestServer(t, b.srv.URL)
			sess := s.sessions.create()

			rec := doRequest(s, sess, http.MethodPost, "/ui/search", `{"searchQuery":"X<1>"}`)
			got := lastPatch(t, parseSSE(t, rec.Body.String()), "#singlePolicyResult").elements
			if !strings.Contains(got, tt.wantText) {
				t.Fatalf("result = %q, want %q", got, tt.wantText)
			}
			n, notified := sess.notes.Current()
			if notified != tt.wantNotify {
				t.Fatalf("notified = %v, want %v", notified, tt.wantNotify)
			}
			if notified && n.Message != msgAPIError {
				t.Fatalf("notification = %q, want %q", n.Message, msgAPIError)
			}
		})
	}
}

func TestSearch_TransportFailure(t *testing.T) {
	t.Parallel()

	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	s := newTestServer(t, url)
	sess := s.sessions.create()
	rec := doRequest(s, sess, http.MethodPost, "/ui/search", `{"searchQuery":"TMCAS2024001"}`)

	got := lastPatch(t, parseSSE(t, rec.Body.String()), "#singlePolicyResult").elements
	if !strings.Contains(got, "TMCAS2024001") || !strings.Contains(got, "Policy Not Found") {
		t.Fatalf("transport failure should render the not-found panel:\n%s", got)
	}
	n, ok := sess.notes.Current()
	if !ok || n.Message != msgAPIError || n.Severity != notify.SeverityError {
		t.Fatalf("notification = %+v ok=%v", n, ok)
	}
}

func TestSearchKeypress(t *testing.T) {
	t.Parallel()

	b := policyBackend(t)
	s := newTestServer(t, b.srv.URL)
	sess := s.sessions.create()

	rec := doRequest(s, sess, http.MethodPost, "/ui/search/keypress", `{"searchQuery":"TMPROP2024001","searchKey":"a"}`)
	if rec.Code != http.StatusNoContent || len(b.requests()) != 0 {
		t.Fatalf("non-Enter key should be a no-op (status %d, requests %v)", rec.Code, b.requests())
	}

	rec = doRequest(s, sess, http.MethodPost, "/ui/search/keypress", `{"searchQuery":"TMPROP2024001","searchKey":"Enter"}`)
	if got := b.requests(); len(got) != 1 || got[0] != "/policies/TMPROP2024001" {
		t.Fatalf("Enter should search, requests = %v", got)
	}
	if !strings.Contains(lastPatch(t, parseSSE(t, rec.Body.String()), "#singlePolicyResult").elements, "Policy Found") {
		t.Fatalf("expected search result")
	}
}

func TestCloseSearch_AlwaysResetsPanel(t *testing.T) {
	t.Parallel()

	b := policyBackend(t)
	s := newTestServer(t, b.srv.URL)

	priors := map[string]func(*session){
		"fresh": func(*session) {},
		"after search": func(sess *session) {
			doRequest(s, sess, http.MethodPost, "/ui/search", `{"searchQuery":"TMPROP2024001"}`)
		},
		"after miss": func(sess *session) { doRequest(s, sess, http.MethodPost, "/ui/search", `{"searchQuery":"NOPE"}`) },
		"twice":      func(sess *session) { doRequest(s, sess, http.MethodPost, "/ui/search/close", `{}`) },
	}
	for name, prior := range priors {
		sess := s.sessions.create()
		prior(sess)

		rec := doRequest(s, sess, http.MethodPost, "/ui/search/close", `{}`)
		events := parseSSE(t, rec.Body.String())
		sig := mergedSignals(events)
		if sig["searchQuery"] != "" || sig["searchOpen"] != false {
			t.Fatalf("%s: signals after close = %v", name, sig)
		}
		p := lastPatch(t, events, "#singlePolicyResult")
		if p.elements != `<div id="singlePolicyResult"></div>` {
			t.Fatalf("%s: result region not cleared: %q", name, p.elements)
		}
	}
}

var detailsActionRE = regexp.MustCompile(`@get\(&#039;(/ui/policies/[^&]+/details)&#039;\)`)

func TestLoadAll_RowsBoundToTheirOwnDetails(t *testing.T) {
	t.Parallel()

	b := policyBackend(t)
	s := newTestServer(t, b.srv.URL)
	sess := s.sessions.create()

	rec := doRequest(s, sess, http.MethodGet, "/ui/policies", "")
	events := parseSSE(t, rec.Body.String())

	table := lastPatch(t, events, "#policiesTable").elements
	if n := strings.Count(table, `<tr class="policy-row">`); n != 2 {
		t.Fatalf("expected 2 rows, got %d:\n%s", n, table)
	}
	sig := mergedSignals(events)
	if sig["searchOpen"] != false || sig["searchQuery"] != "" {
		t.Fatalf("load-all should close search first, signals = %v", sig)
	}
	n, ok := sess.notes.Current()
	if !ok || n.Message != msgRefreshed || n.Severity != notify.SeveritySuccess {
		t.Fatalf("notification = %+v ok=%v", n, ok)
	}

	matches := detailsActionRE.FindAllStringSubmatch(table, -1)
	if len(matches) != 2 {
		t.Fatalf("expected 2 details actions, got %d", len(matches))
	}
	want := []string{"TMPROP2024001", "TMMAR2024001"}
	for i, m := range matches {
		before := len(b.requests())
		rec := doRequest(s, sess, http.MethodGet, m[1], "")
		reqs := b.requests()
		if len(reqs) != before+1 || reqs[len(reqs)-1] != "/policies/"+want[i] {
			t.Fatalf("row %d requested %v, want /policies/%s", i, reqs[before:], want[i])
		}
		details := parseSSE(t, rec.Body.String())
		if !strings.Contains(lastPatch(t, details, "#policyDetails").elements, want[i]) {
			t.Fatalf("details for row %d not rendered", i)
		}
		if mergedSignals(details)["modalOpen"] != true {
			t.Fatalf("modal not revealed for row %d", i)
		}
	}
}

func TestLoadAll_InitialSkipsSearchAndNotification(t *testing.T) {
	t.Parallel()

	b := policyBackend(t)
	s := newTestServer(t, b.srv.URL)
	sess := s.sessions.create()

	rec := doRequest(s, sess, http.MethodGet, "/ui/policies?initial=1", "")
	events := parseSSE(t, rec.Body.String())
	if len(patchesFor(events, "#singlePolicyResult")) != 0 {
		t.Fatalf("initial load must not touch the search panel")
	}
	if sess.notes.ShownCount() != 0 {
		t.Fatalf("initial load must not notify")
	}
}

func TestLoadAll_FailureRendersErrorRow(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	s := newTestServer(t, b.srv.URL)
	sess := s.sessions.create()

	rec := doRequest(s, sess, http.MethodGet, "/ui/policies", "")
	table := lastPatch(t, parseSSE(t, rec.Body.String()), "#policiesTable").elements
	if !strings.Contains(table, "Error loading policies. Please try again.") {
		t.Fatalf("table = %q", table)
	}
	n, ok := sess.notes.Current()
	if !ok || n.Message != msgAPIError {
		t.Fatalf("expected API error notification, got %+v ok=%v", n, ok)
	}
}

func TestViewDetails_FailureKeepsModalHidden(t *testing.T) {
	t.Parallel()

	b := policyBackend(t)
	s := newTestServer(t, b.srv.URL)
	sess := s.sessions.create()

	rec := doRequest(s, sess, http.MethodGet, "/ui/policies/MISSING/details", "")
	events := parseSSE(t, rec.Body.String())
	if _, ok := mergedSignals(events)["modalOpen"]; ok {
		t.Fatalf("modal must stay hidden on failure")
	}
	if !strings.Contains(lastPatch(t, events, "#policyDetails").elements, "Error loading data. Please try again.") {
		t.Fatalf("expected generic error in details region")
	}
	n, ok := sess.notes.Current()
	if !ok || n.Message != msgDetailsFailed || n.Severity != notify.SeverityError {
		t.Fatalf("notification = %+v ok=%v", n, ok)
	}
}

func TestViewDetails_CanceledRequestRaisesNoNotification(t *testing.T) {
	t.Parallel()

	b := policyBackend(t)
	s := newTestServer(t, b.srv.URL)
	sess := s.sessions.create()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/ui/policies/TMPROP2024001/details", nil).WithContext(ctx)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess.id})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if got := sess.notes.ShownCount(); got != 0 {
		t.Fatalf("canceled request raised %d notifications", got)
	}
	if _, ok := mergedSignals(parseSSE(t, rec.Body.String()))["modalOpen"]; ok {
		t.Fatalf("modal must stay hidden for a canceled request")
	}
}

func TestOnResponseError_Canceled(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, "http://127.0.0.1:1")
	sess := s.sessions.create()
	ex := &exchange{region: render.RegionDetail, path: "/policies/X", sess: sess, gen: sess.begin(render.RegionDetail)}

	err := &apiclient.TransportError{Path: ex.path, Err: context.Canceled}
	if got := s.onResponseError(ex, nil, err); got != outcomeCanceled {
		t.Fatalf("outcome = %v, want canceled", got)
	}
	if _, ok := sess.notes.Current(); ok {
		t.Fatalf("canceled exchange must not notify")
	}
}

func TestViewDetails_DecodesEscapedNumber(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"policy_number":"A/B"}`)
	})
	s := newTestServer(t, b.srv.URL)
	sess := s.sessions.create()

	doRequest(s, sess, http.MethodGet, "/ui/policies/A%2FB/details", "")
	if got := b.requests(); len(got) != 1 || got[0] != "/policies/A%2FB" {
		t.Fatalf("backend requests = %v", got)
	}
}

func TestCloseModal(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, "http://127.0.0.1:1")
	sess := s.sessions.create()
	rec := doRequest(s, sess, http.MethodPost, "/ui/modal/close", `{}`)
	events := parseSSE(t, rec.Body.String())
	if mergedSignals(events)["modalOpen"] != false {
		t.Fatalf("modal not hidden")
	}
	if len(patchesFor(events, "#policyDetails")) != 0 {
		t.Fatalf("close must leave modal content in place")
	}
}

func TestDismissNotice(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, "http://127.0.0.1:1")
	sess := s.sessions.create()
	ch, cancel := sess.notes.Subscribe()
	defer cancel()
	shown := sess.notes.Show(msgEmptySearch, notify.SeverityError)

	rec := doRequest(s, sess, http.MethodPost, "/ui/notifications/dismiss", `{}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := sess.notes.Current(); ok {
		t.Fatalf("notification still visible")
	}
	<-ch // shown
	ev := <-ch
	if ev.Kind != notify.EventCleared || ev.Notification.ID != shown.ID {
		t.Fatalf("event = %+v", ev)
	}

	// Dismissing with nothing visible is a no-op.
	if rec := doRequest(s, sess, http.MethodPost, "/ui/notifications/dismiss", `{}`); rec.Code != http.StatusNoContent {
		t.Fatalf("second dismiss status = %d", rec.Code)
	}
}

// gatedBackend holds the first request until release is closed.
func gatedBackend(t *testing.T, first string) (b *fakeBackend, arrived chan struct{}, release chan struct{}) {
	t.Helper()
	arrived = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	b = newFakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, first) {
			once.Do(func() { close(arrived) })
			<-release
		}
		_, _ = io.WriteString(w, `{"policy_number":"`+strings.TrimPrefix(r.URL.Path, "/policies/")+`"}`)
	})
	return b, arrived, release
}

func TestSearch_StaleResponseIsDropped(t *testing.T) {
	t.Parallel()

	b, arrived, release := gatedBackend(t, "SLOW1")
	s := newTestServer(t, b.srv.URL)
	sess := s.sessions.create()

	slow := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		slow <- doRequest(s, sess, http.MethodPost, "/ui/search", `{"searchQuery":"SLOW1"}`)
	}()
	<-arrived

	fast := doRequest(s, sess, http.MethodPost, "/ui/search", `{"searchQuery":"FAST2"}`)
	if !strings.Contains(lastPatch(t, parseSSE(t, fast.Body.String()), "#singlePolicyResult").elements, "FAST2") {
		t.Fatalf("newer search not rendered")
	}

	close(release)
	rec := <-slow
	for _, p := range patchesFor(parseSSE(t, rec.Body.String()), "#singlePolicyResult") {
		if strings.Contains(p.elements, "SLOW1") {
			t.Fatalf("stale response overwrote the newer one:\n%s", p.elements)
		}
	}
}

func TestCloseSearch_InvalidatesInFlightSearch(t *testing.T) {
	t.Parallel()

	b, arrived, release := gatedBackend(t, "SLOW1")
	s := newTestServer(t, b.srv.URL)
	sess := s.sessions.create()

	slow := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		slow <- doRequest(s, sess, http.MethodPost, "/ui/search", `{"searchQuery":"SLOW1"}`)
	}()
	<-arrived
	doRequest(s, sess, http.MethodPost, "/ui/search/close", `{}`)
	close(release)

	rec := <-slow
	for _, p := range patchesFor(parseSSE(t, rec.Body.String()), "#singlePolicyResult") {
		if strings.Contains(p.elements, "Policy Found") {
			t.Fatalf("search result rendered after close:\n%s", p.elements)
		}
	}
}

func TestEvents_StreamsNotifications(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, "http://127.0.0.1:1")
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	sess := s.sessions.create()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/ui/events", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess.id})
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	// The subscription is registered before headers are flushed.
	sess.notes.Show("Policies refreshed successfully", notify.SeveritySuccess)

	sc := bufio.NewScanner(res.Body)
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(line, `class="notification success">Policies refreshed successfully</div>`) {
			return
		}
	}
	t.Fatalf("notification never streamed: %v", sc.Err())
}

func TestSessionRegistry_EvictsIdleSessions(t *testing.T) {
	t.Parallel()

	reg := newSessionRegistry(time.Hour, time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	old := reg.create()
	now = now.Add(2 * time.Minute)
	fresh := reg.create()

	if reg.lookup(old.id) != nil {
		t.Fatalf("idle session should have been evicted")
	}
	if reg.lookup(fresh.id) != fresh {
		t.Fatalf("fresh session missing")
	}
	if reg.len() != 1 {
		t.Fatalf("len = %d", reg.len())
	}
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestEvents_OpenStreamKeepsSessionAlive(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, "http://127.0.0.1:1")
	clock := &testClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	s.sessions.now = clock.now
	s.sessions.idleTTL = time.Minute
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	sess := s.sessions.create()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/ui/events", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess.id})
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer res.Body.Close()

	clock.advance(2 * time.Minute)
	rec := doRequest(s, sess, http.MethodPost, "/ui/search", `{"searchQuery":"  "}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if c := rec.Header().Get("Set-Cookie"); c != "" {
		t.Fatalf("session with an open stream was replaced: %q", c)
	}
	if s.sessions.lookup(sess.id) != sess {
		t.Fatalf("session with an open stream was evicted")
	}

	sc := bufio.NewScanner(res.Body)
	for sc.Scan() {
		if strings.Contains(sc.Text(), msgEmptySearch) {
			return
		}
	}
	t.Fatalf("notification never reached the open stream: %v", sc.Err())
}

func TestSessionRegistry_EvictsAfterStreamCloses(t *testing.T) {
	t.Parallel()

	reg := newSessionRegistry(time.Hour, time.Minute)
	clock := &testClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	reg.now = clock.now

	sess := reg.create()
	detach := sess.attach()
	clock.advance(2 * time.Minute)
	if reg.lookup(sess.id) != sess {
		t.Fatalf("attached session evicted")
	}

	detach()
	detach()
	clock.advance(2 * time.Minute)
	reg.create()
	if reg.lookup(sess.id) != nil {
		t.Fatalf("detached idle session should have been evicted")
	}
}

func TestSession_Generations(t *testing.T) {
	t.Parallel()

	reg := newSessionRegistry(time.Hour, time.Hour)
	sess := reg.create()
	defer sess.notes.Stop()

	g1 := sess.begin(1)
	g2 := sess.begin(1)
	if sess.current(1, g1) || !sess.current(1, g2) {
		t.Fatalf("newer exchange must win")
	}
	if !sess.current(2, 0) {
		t.Fatalf("untouched region starts at generation zero")
	}
	sess.invalidate(1)
	if sess.current(1, g2) {
		t.Fatalf("invalidate must make in-flight exchanges stale")
	}
}

// Two tabs carrying the same cookie resolve to one session, so the newer
// exchange for a region wins across both of them.
func TestSession_TabsShareGenerations(t *testing.T) {
	t.Parallel()

	reg := newSessionRegistry(time.Hour, time.Hour)
	sess := reg.create()
	defer sess.notes.Stop()

	tab := func() *session {
		req := httptest.NewRequest(http.MethodPost, "/ui/search", nil)
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess.id})
		return reg.ensure(httptest.NewRecorder(), req)
	}
	a, b := tab(), tab()
	if a != sess || b != sess {
		t.Fatalf("tabs must share the cookie's session")
	}

	ga := a.begin(render.RegionSearch)
	gb := b.begin(render.RegionSearch)
	if a.current(render.RegionSearch, ga) || !b.current(render.RegionSearch, gb) {
		t.Fatalf("newer tab's exchange must win")
	}
	if !a.current(render.RegionDetail, 0) {
		t.Fatalf("other regions are unaffected")
	}
}
