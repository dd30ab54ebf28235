package render

import (
	"fmt"

	"github.com/tossie79/tmhcc-insurance/internal/model"
)

// Region identifies a target region of the host page. Each region's content is
// replaced wholesale by one fragment.
type Region int

const (
	RegionPolicies Region = iota + 1
	RegionSearch
	RegionDetail
)

// Regions lists every region in lookup-table order.
var Regions = []Region{RegionPolicies, RegionSearch, RegionDetail}

const (
	listLoadingRow = `<tr><td colspan="6" class="loading">Loading policies...</td></tr>`
	listErrorRow   = `<tr><td colspan="6" class="error">Error loading policies. Please try again.</td></tr>`
	searchLoading  = `<div class="loading">Searching for policy...</div>`
	detailLoading  = `<div class="loading">Loading policy details...</div>`
)

type regionSpec struct {
	elementID string
	tag       string
	name      string
	loading   string

	// failure renders a transport failure; statusError a non-200 response;
	// notFound a 404; malformed a body that failed boundary decoding.
	failure     func(policyNumber string) string
	statusError func(policyNumber string) string
	notFound    func(policyNumber string) string
	malformed   func(policyNumber string) string

	// final decodes a 200 body and renders the region's content.
	final func(body []byte) (string, error)
}

func constant(s string) func(string) string {
	return func(string) string { return s }
}

var regionTable = map[Region]regionSpec{
	RegionPolicies: {
		elementID:   "policiesTable",
		tag:         "tbody",
		name:        "policies",
		loading:     listLoadingRow,
		failure:     constant(listErrorRow),
		statusError: constant(listErrorRow),
		notFound:    constant(listErrorRow),
		malformed:   constant(listErrorRow),
		final: func(body []byte) (string, error) {
			policies, err := model.DecodePolicyList(body)
			if err != nil {
				return "", err
			}
			return List(policies), nil
		},
	},
	RegionSearch: {
		elementID:   "singlePolicyResult",
		tag:         "div",
		name:        "search",
		loading:     searchLoading,
		failure:     NotFound,
		statusError: NotFound,
		notFound:    NotFound,
		malformed:   NotFound,
		final: func(body []byte) (string, error) {
			p, err := model.DecodePolicy(body)
			if err != nil {
				return "", err
			}
			return Single(p), nil
		},
	},
	RegionDetail: {
		elementID:   "policyDetails",
		tag:         "div",
		name:        "detail",
		loading:     detailLoading,
		failure:     constant(genericError),
		statusError: constant(genericError),
		notFound:    constant(genericError),
		malformed:   constant(genericError),
		final: func(body []byte) (string, error) {
			p, err := model.DecodePolicy(body)
			if err != nil {
				return "", err
			}
			return Detail(p), nil
		},
	},
}

func (r Region) spec() regionSpec {
	s, ok := regionTable[r]
	if !ok {
		panic(fmt.Sprintf("render: unknown region %d", int(r)))
	}
	return s
}

func (r Region) Valid() bool {
	_, ok := regionTable[r]
	return ok
}

// ElementID is the host page element identifier of the region.
func (r Region) ElementID() string { return r.spec().elementID }

// Selector is the CSS selector of the region's element.
func (r Region) Selector() string { return "#" + r.spec().elementID }

func (r Region) String() string {
	if !r.Valid() {
		return fmt.Sprintf("region(%d)", int(r))
	}
	return r.spec().name
}

// Empty is the region's element with no content, for an outer patch.
func (r Region) Empty() string {
	s := r.spec()
	return "<" + s.tag + ` id="` + s.elementID + `"></` + s.tag + ">"
}

func (r Region) Loading() string                    { return r.spec().loading }
func (r Region) Failure(policyNumber string) string { return r.spec().failure(orUnknown(policyNumber)) }
func (r Region) StatusError(policyNumber string) string {
	return r.spec().statusError(orUnknown(policyNumber))
}
func (r Region) NotFound(policyNumber string) string {
	return r.spec().notFound(orUnknown(policyNumber))
}
func (r Region) Malformed(policyNumber string) string {
	return r.spec().malformed(orUnknown(policyNumber))
}

// Final renders a successful response body. A non-nil error means the body did
// not match the region's response shape; render Malformed instead.
func (r Region) Final(body []byte) (string, error) { return r.spec().final(body) }

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
