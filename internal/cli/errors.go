package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/pflag"

	"github.com/tossie79/tmhcc-insurance/internal/apiclient"
)

type policyLookupError struct {
	policyNumber string
	err          error
}

func (e policyLookupError) Error() string {
	if errors.Is(e.err, apiclient.ErrNotFound) {
		return fmt.Sprintf("policy not found: %s", e.policyNumber)
	}
	return fmt.Sprintf("policy %s: %v", e.policyNumber, e.err)
}

func (e policyLookupError) Unwrap() error { return e.err }

// HandleError prints err to w with a hint for the failures users can act on.
func HandleError(w io.Writer, err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	fmt.Fprintf(w, "Error: %s\n", err)
	if hint := errorHint(err); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
}

func errorHint(err error) string {
	var (
		transportErr *apiclient.TransportError
		statusErr    *apiclient.StatusError
		malformedErr *apiclient.MalformedError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "the backend did not answer in time; raise --backend-timeout or check the backend's health endpoint."
	case errors.Is(err, apiclient.ErrNotFound):
		return "policy numbers are matched exactly; run 'policydash policies list' to see them."
	case errors.As(err, &transportErr):
		return "could not reach the backend; check --backend-url or start one with 'policydash fixture-api'."
	case errors.As(err, &statusErr) && statusErr.Code == http.StatusBadRequest:
		return "policy numbers are at least 5 letters or digits."
	case errors.As(err, &statusErr):
		return "the backend reported an error; see its logs."
	case errors.As(err, &malformedErr):
		return "the backend answered with an unexpected payload; is --backend-url pointing at the policy API?"
	}
	return ""
}
