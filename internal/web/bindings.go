package web

import (
	"html/template"
	"strings"

	"github.com/tossie79/tmhcc-insurance/internal/render"
)

// Page-level signals. searchKey carries the last key pressed in the search box
// to the keypress action.
const initialSignals = `{searchQuery: '', searchKey: '', searchOpen: false, modalOpen: false}`

// domBinding attaches one DOM event of a host page element to a controller
// action. Bindings with a __window modifier listen globally.
type domBinding struct {
	name    string
	element string
	event   string
	expr    string
}

// domBindings are rendered into the host page once and live as long as it does.
var domBindings = []domBinding{
	{
		name:    "modal-escape",
		element: "app",
		event:   "keydown__window",
		expr:    "evt.key === 'Escape' && $modalOpen && " + render.CloseModalAction(),
	},
	{
		name:    "modal-backdrop",
		element: "policyModal",
		event:   "click",
		expr:    "evt.target === el && " + render.CloseModalAction(),
	},
	{
		name:    "search-enter",
		element: "searchInput",
		event:   "keydown",
		expr:    "$searchKey = evt.key; evt.key === 'Enter' && " + actionExpr(render.PathSearchKeypress),
	},
}

func actionExpr(path string) string { return "@post('" + path + "')" }

// onAttr renders a complete data-on attribute. html/template treats data-on
// values as script, so actions are emitted as whole attributes instead.
func onAttr(event, expr string) template.HTMLAttr {
	return template.HTMLAttr(`data-on:` + event + `="` + template.HTMLEscapeString(expr) + `"`)
}

func plainAttr(name, value string) template.HTMLAttr {
	return template.HTMLAttr(name + `="` + template.HTMLEscapeString(value) + `"`)
}

// bindingAttrs returns the attributes of every binding declared for element.
func bindingAttrs(element string) template.HTMLAttr {
	var parts []string
	for _, b := range domBindings {
		if b.element != element {
			continue
		}
		parts = append(parts, string(onAttr(b.event, b.expr)))
	}
	return template.HTMLAttr(strings.Join(parts, " "))
}
