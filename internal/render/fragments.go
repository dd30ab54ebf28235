package render

import (
	"embed"
	"fmt"
	"net/url"
	"strings"
	"text/template"

	"github.com/tossie79/tmhcc-insurance/internal/model"
)

// Action routes invoked from rendered markup.
const (
	PathLoadAll        = "/ui/policies"
	PathSearch         = "/ui/search"
	PathSearchKeypress = "/ui/search/keypress"
	PathCloseSearch    = "/ui/search/close"
	PathCloseModal     = "/ui/modal/close"
	PathDismissNotice  = "/ui/notifications/dismiss"
	PathEvents         = "/ui/events"
)

// DetailsPath is the view-details route for one policy number.
func DetailsPath(policyNumber string) string {
	return "/ui/policies/" + url.PathEscape(policyNumber) + "/details"
}

func LoadAllAction() string       { return "@get('" + PathLoadAll + "')" }
func SearchAction() string        { return "@post('" + PathSearch + "')" }
func CloseSearchAction() string   { return "@post('" + PathCloseSearch + "')" }
func CloseModalAction() string    { return "@post('" + PathCloseModal + "')" }
func DismissNoticeAction() string { return "@post('" + PathDismissNotice + "')" }

// DetailsAction is the datastar expression opening the details modal. The path
// segment is percent-encoded, so it never contains a quote.
func DetailsAction(policyNumber string) string {
	return "@get('" + DetailsPath(policyNumber) + "')"
}

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Fragments are built with text/template plus Escape rather than html/template:
// the escaped form of every field is part of the output contract.
var fragments = template.Must(template.New("fragments").Funcs(template.FuncMap{
	"esc":               escapeAny,
	"statusClass":       func(s model.Text) string { return StatusClass(string(s)) },
	"detailsAction":     func(n model.Text) string { return DetailsAction(string(n)) },
	"closeSearchAction": CloseSearchAction,
	"closeModalAction":  CloseModalAction,
	"loadAllAction":     LoadAllAction,
	"dismissAction":     DismissNoticeAction,
}).ParseFS(templatesFS, "templates/*.tmpl"))

func escapeAny(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return Escape(t)
	case model.Text:
		return Escape(string(t))
	case fmt.Stringer:
		return Escape(t.String())
	default:
		return Escape(fmt.Sprint(v))
	}
}

func execute(name string, data any, fallback string) string {
	var b strings.Builder
	if err := fragments.ExecuteTemplate(&b, name, data); err != nil {
		return fallback
	}
	return strings.TrimSpace(b.String())
}

const genericError = `<div class="error">Error loading data. Please try again.</div>`

// NotFound renders the not-found panel for a searched policy number.
func NotFound(policyNumber string) string {
	return execute("not_found", policyNumber, genericError)
}

// List renders the policies table body. Row order follows the input.
func List(policies []model.Policy) string {
	if len(policies) == 0 {
		return execute("list_empty", nil, "")
	}
	return execute("list", policies, listErrorRow)
}

// Single renders the search result card, or the not-found panel for a nil policy.
func Single(p *model.Policy) string {
	if p == nil {
		return NotFound("unknown")
	}
	return execute("single", p, NotFound(string(p.PolicyNumber)))
}

// Detail renders the details modal body.
func Detail(p *model.Policy) string {
	if p == nil {
		return execute("detail_unavailable", nil, genericError)
	}
	return execute("detail", p, genericError)
}

// Notification renders one notification banner.
func Notification(id, message, severity string) string {
	data := struct{ ID, Message, Severity string }{ID: id, Message: message, Severity: severity}
	return execute("notification", data, "")
}
