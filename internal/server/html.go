package server

import (
	"html"
	"strconv"
	"strings"

	"github.com/scigolib/r2d2/internal/core"
)

// RenderPage turns a result envelope into the HTML body of a response.
// Notice results render as a single message; data results render as a
// table whose header is the label list.
func RenderPage(result *core.Document) string {
	labels := resultLabels(result)
	rows := resultRows(result)

	var b strings.Builder
	b.WriteString("<html><head><title>r2d2</title></head><body>")

	if len(labels) == 1 && labels[0] == "Notice" {
		text := ""
		if v, ok := rows.Get("Notice"); ok {
			text, _ = v.StringValue()
		}
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(text))
		b.WriteString("</p></body></html>")
		return b.String()
	}

	b.WriteString("<table border=\"1\"><tr><th>timestamp</th>")
	for _, l := range labels {
		b.WriteString("<th>")
		b.WriteString(html.EscapeString(l))
		b.WriteString("</th>")
	}
	b.WriteString("</tr>")

	for i := 0; i < rows.Len(); i++ {
		key, val := rows.At(i)
		b.WriteString("<tr><td>")
		b.WriteString(html.EscapeString(key))
		b.WriteString("</td>")

		if row, ok := val.DocumentValue(); ok {
			for _, l := range labels {
				cell, _ := row.Get(l)
				b.WriteString("<td>")
				b.WriteString(html.EscapeString(displayValue(cell)))
				b.WriteString("</td>")
			}
		} else {
			b.WriteString("<td colspan=\"")
			b.WriteString(strconv.Itoa(len(labels)))
			b.WriteString("\">")
			b.WriteString(html.EscapeString(displayValue(val)))
			b.WriteString("</td>")
		}
		b.WriteString("</tr>")
	}

	b.WriteString("</table></body></html>")
	return b.String()
}

func resultLabels(result *core.Document) []string {
	val, ok := result.Get("labels")
	if !ok {
		return nil
	}
	items, _ := val.ArrayValue()
	labels := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.StringValue(); ok {
			labels = append(labels, s)
		}
	}
	return labels
}

func resultRows(result *core.Document) *core.Document {
	val, ok := result.Get("rows")
	if !ok {
		return core.NewDocument()
	}
	if doc, ok := val.DocumentValue(); ok {
		return doc
	}
	return core.NewDocument()
}

// displayValue renders an element for a table cell.
func displayValue(e core.Element) string {
	switch e.Type() {
	case core.TypeDouble:
		v, _ := e.DoubleValue()
		return strconv.FormatFloat(v, 'f', -1, 64)
	case core.TypeInt32:
		v, _ := e.Int32Value()
		return strconv.FormatInt(int64(v), 10)
	case core.TypeInt64:
		v, _ := e.Int64Value()
		return strconv.FormatInt(v, 10)
	case core.TypeString:
		v, _ := e.StringValue()
		return v
	case core.TypeBoolean:
		v, _ := e.BoolValue()
		return strconv.FormatBool(v)
	case core.TypeDocument:
		doc, _ := e.DocumentValue()
		parts := make([]string, 0, doc.Len())
		for i := 0; i < doc.Len(); i++ {
			k, v := doc.At(i)
			parts = append(parts, k+": "+displayValue(v))
		}
		return strings.Join(parts, ", ")
	case core.TypeArray:
		items, _ := e.ArrayValue()
		parts := make([]string, 0, len(items))
		for _, item := range items {
			parts = append(parts, displayValue(item))
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}
