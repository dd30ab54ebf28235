package format

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/tossie79/tmhcc-insurance/internal/model"
)

// Formats lists the accepted values of --format.
var Formats = []string{"json", "edn", "table"}

// Write writes v in the requested format.
//
// Supported formats:
// - json (default)
// - edn
// - table (policies only; colourised when colorize is set)
func Write(w io.Writer, v any, format string, pretty, colorize bool) error {
	switch format {
	case "", "json":
		return WriteJSON(w, v, pretty)
	case "edn":
		return WriteEDN(w, v, pretty)
	case "table":
		rows, err := tableRows(v)
		if err != nil {
			return err
		}
		return WriteTable(w, rows, colorize)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// WriteJSON writes strict JSON, one document per call.
func WriteJSON(w io.Writer, v any, pretty bool) error {
	var b []byte
	var err error
	if pretty {
		b, err = json.MarshalIndent(v, "", "  ")
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		return errors.Wrap(err, "format: json")
	}

	_, err = fmt.Fprintln(w, string(b))
	return err
}

func tableRows(v any) ([]model.Policy, error) {
	switch t := v.(type) {
	case []model.Policy:
		return t, nil
	case model.Policy:
		return []model.Policy{t}, nil
	case *model.Policy:
		if t == nil {
			return nil, nil
		}
		return []model.Policy{*t}, nil
	default:
		return nil, errors.Errorf("format: table output is not supported for %T", v)
	}
}
