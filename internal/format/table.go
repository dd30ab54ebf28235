package format

import (
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/tossie79/tmhcc-insurance/internal/model"
)

var tableHeaders = []string{"POLICY NUMBER", "INSURED", "TYPE", "PREMIUM", "STATUS", "START", "END"}

var (
	statusActive    = color.New(color.FgGreen)
	statusPending   = color.New(color.FgYellow)
	statusCancelled = color.New(color.FgRed)
	statusInactive  = color.New(color.FgHiBlack)
	headerStyle     = color.New(color.Bold)
)

// WriteTable writes policies as an aligned plain-text table.
func WriteTable(w io.Writer, policies []model.Policy, colorize bool) error {
	rows := make([][]string, 0, len(policies))
	for _, p := range policies {
		rows = append(rows, []string{
			p.PolicyNumber.String(),
			p.InsuredName.String(),
			p.PolicyType.String(),
			p.Premium.String(),
			p.Status.String(),
			p.StartDate.String(),
			p.EndDate.String(),
		})
	}

	widths := make([]int, len(tableHeaders))
	for i, h := range tableHeaders {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], utf8.RuneCountInString(cell))
		}
	}

	var b strings.Builder
	writeRow(&b, tableHeaders, widths, func(_ int, s string) string {
		return paint(headerStyle, s, colorize)
	})
	for _, row := range rows {
		writeRow(&b, row, widths, func(col int, s string) string {
			if col != 4 {
				return s
			}
			return paint(statusColor(strings.TrimSpace(s)), s, colorize)
		})
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// writeRow pads every cell before styling so escape codes never skew the
// column widths.
func writeRow(b *strings.Builder, cells []string, widths []int, style func(col int, s string) string) {
	for i, cell := range cells {
		if i > 0 {
			b.WriteString("  ")
		}
		padded := cell
		if i != len(cells)-1 {
			padded += strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell))
		}
		b.WriteString(style(i, padded))
	}
	b.WriteByte('\n')
}

func statusColor(status string) *color.Color {
	switch model.PolicyStatus(strings.ToLower(status)) {
	case model.PolicyStatusActive:
		return statusActive
	case model.PolicyStatusPending:
		return statusPending
	case model.PolicyStatusCancelled:
		return statusCancelled
	case model.PolicyStatusInactive:
		return statusInactive
	default:
		return nil
	}
}

func paint(c *color.Color, s string, colorize bool) string {
	if c == nil || !colorize || color.NoColor {
		return s
	}
	return c.Sprint(s)
}
