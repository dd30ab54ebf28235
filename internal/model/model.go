package model

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

type PolicyStatus string

const (
	PolicyStatusActive    PolicyStatus = "active"
	PolicyStatusInactive  PolicyStatus = "inactive"
	PolicyStatusPending   PolicyStatus = "pending"
	PolicyStatusCancelled PolicyStatus = "cancelled"
)

type PolicyType string

const (
	PolicyTypeProperty     PolicyType = "Property"
	PolicyTypeCasualty     PolicyType = "Casualty"
	PolicyTypeMarine       PolicyType = "Marine"
	PolicyTypeConstruction PolicyType = "Construction"
)

// Text is a display value as sent by the backend. Strings, numbers and booleans
// are accepted and kept verbatim; null decodes to "".
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	case '{', '[':
		return fmt.Errorf("display field: unexpected %s", kindOf(b[0]))
	default:
		// Numbers and booleans keep their literal form (e.g. `"id": 7`).
		if _, err := strconv.ParseFloat(string(b), 64); err != nil && string(b) != "true" && string(b) != "false" {
			return fmt.Errorf("display field: invalid literal %q", string(b))
		}
		*t = Text(b)
		return nil
	}
}

func (t Text) String() string { return string(t) }

// Policy is the display-only record returned by the backend. Every field is
// already formatted for display.
type Policy struct {
	ID           Text `json:"id"`
	PolicyNumber Text `json:"policy_number"`
	InsuredName  Text `json:"insured_name"`
	PolicyType   Text `json:"policy_type"`
	Premium      Text `json:"premium"`
	Status       Text `json:"status"`
	StartDate    Text `json:"start_date"`
	EndDate      Text `json:"end_date"`
}

// ShapeError reports a payload that does not match the expected response shape.
type ShapeError struct {
	Want string
	Err  error
}

func (e *ShapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected payload shape (want %s): %v", e.Want, e.Err)
	}
	return fmt.Sprintf("unexpected payload shape (want %s)", e.Want)
}

func (e *ShapeError) Unwrap() error { return e.Err }

// DecodePolicyList decodes a `GET /policies/` body. A JSON null is an empty list.
func DecodePolicyList(body []byte) ([]Policy, error) {
	body = bytes.TrimSpace(body)
	if bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	if len(body) == 0 || body[0] != '[' {
		return nil, &ShapeError{Want: "array"}
	}
	var out []Policy
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &ShapeError{Want: "array of policy objects", Err: err}
	}
	return out, nil
}

// DecodePolicy decodes a `GET /policies/{policyNumber}` body. A JSON null
// yields a nil policy and no error.
func DecodePolicy(body []byte) (*Policy, error) {
	body = bytes.TrimSpace(body)
	if bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	if len(body) == 0 || body[0] != '{' {
		return nil, &ShapeError{Want: "object"}
	}
	var p Policy
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, &ShapeError{Want: "policy object", Err: err}
	}
	return &p, nil
}

func kindOf(c byte) string {
	if c == '{' {
		return "object"
	}
	return "array"
}
