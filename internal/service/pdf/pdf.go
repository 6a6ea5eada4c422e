package pdf

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/glekoz/chipdash/internal/models"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/border"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

const EndOfReport = "--- End of Report ---"

// Report is everything one page of a log export shows.
type Report struct {
	ChipID     string
	DeviceName string
	Time       time.Time
	Fields     map[string]any
}

var (
	headerCell = &props.Cell{BackgroundColor: &props.Color{Red: 128, Green: 128, Blue: 128}, BorderType: border.Full}
	bodyCell   = &props.Cell{BackgroundColor: &props.Color{Red: 245, Green: 245, Blue: 220}, BorderType: border.Full}
	titleCell  = &props.Cell{BackgroundColor: &props.BlackColor}
)

// Widths of the attribute and value columns on a 12 column grid.
const (
	keyWidth   = 4
	valueWidth = 8
)

// Render lays the report out on a single A4 page and returns the PDF bytes.
func Render(r Report) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(15).
		WithTopMargin(15).
		WithRightMargin(15).
		Build()
	m := maroto.New(cfg)

	title := "Log Report"
	if r.DeviceName != "" {
		title += ": " + r.DeviceName
	}
	m.AddRow(12, text.NewCol(12, title, props.Text{
		Size:  16,
		Style: fontstyle.Bold,
		Align: align.Center,
		Top:   3,
		Color: &props.WhiteColor,
	}).WithStyle(titleCell))
	m.AddRow(4)

	m.AddRows(
		labelRow("Chip ID:", r.ChipID),
		labelRow("Timestamp (BE):", models.BuddhistEraDate(r.Time)+" "+r.Time.Format("15:04:05")),
		labelRow("Timestamp (CE):", r.Time.Format("2006-01-02 15:04:05")),
	)
	m.AddRow(6)

	attrs := Attributes(r.Fields)
	if len(attrs) > 0 {
		m.AddRows(row.New(8).Add(
			text.NewCol(keyWidth, "Attribute", headerText()).WithStyle(headerCell),
			text.NewCol(valueWidth, "Value", headerText()).WithStyle(headerCell),
		))
		for _, a := range attrs {
			m.AddRows(row.New(7).Add(
				text.NewCol(keyWidth, a[0], bodyText()).WithStyle(bodyCell),
				text.NewCol(valueWidth, a[1], bodyText()).WithStyle(bodyCell),
			))
		}
		m.AddRow(6)
	}

	m.AddRow(8, text.NewCol(12, EndOfReport, props.Text{Size: 10, Top: 2}))

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate pdf: %w", err)
	}
	return doc.GetBytes(), nil
}

// Attributes returns the payload fields worth printing as key/value pairs,
// sorted by key. Identity fields and storage metadata are left out.
func Attributes(fields map[string]any) [][2]string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if hiddenField(k) {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, formatValue(fields[k])})
	}
	return out
}

func hiddenField(k string) bool {
	switch k {
	case "chip_id", "timestamp", "name", "SK":
		return true
	}
	return strings.HasPrefix(k, "aws:")
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprint(t)
	}
}

func labelRow(label, value string) core.Row {
	return row.New(7).Add(
		text.NewCol(keyWidth, label, props.Text{Size: 11, Style: fontstyle.Bold, Top: 1.5}),
		text.NewCol(valueWidth, value, props.Text{Size: 11, Top: 1.5}),
	)
}

func headerText() props.Text {
	return props.Text{
		Size:  11,
		Style: fontstyle.Bold,
		Top:   2,
		Left:  1,
		Color: &props.WhiteColor,
	}
}

func bodyText() props.Text {
	return props.Text{
		Size:  10,
		Top:   1.5,
		Left:  1,
		Right: 1,
	}
}
