package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/r2d2/internal/core"
)

func TestRenderNoticePage(t *testing.T) {
	rows := core.NewDocument()
	rows.Set("Notice", core.String("Requested value could not be found."))
	result := core.NewDocument()
	result.Set("labels", core.Array(core.String("Notice")))
	result.Set("rows", core.Embed(rows))

	page := RenderPage(result)
	require.Contains(t, page, "<p>Requested value could not be found.</p>")
	require.NotContains(t, page, "<table")
}

func TestRenderDataTable(t *testing.T) {
	row := core.NewDocument()
	row.Set("store", core.Double(1))
	row.Set("product", core.Double(101))

	rows := core.NewDocument()
	rows.Set("1733697225084", core.Embed(row))

	result := core.NewDocument()
	result.Set("labels", core.Array(core.String("store"), core.String("product")))
	result.Set("rows", core.Embed(rows))

	page := RenderPage(result)
	require.Contains(t, page, "<th>timestamp</th>")
	require.Contains(t, page, "<th>store</th>")
	require.Contains(t, page, "<td>1733697225084</td>")
	require.Contains(t, page, "<td>101</td>")
}

func TestRenderEscapesHTML(t *testing.T) {
	rows := core.NewDocument()
	rows.Set("Notice", core.String("<script>alert(1)</script>"))
	result := core.NewDocument()
	result.Set("labels", core.Array(core.String("Notice")))
	result.Set("rows", core.Embed(rows))

	page := RenderPage(result)
	require.NotContains(t, page, "<script>")
	require.Contains(t, page, "&lt;script&gt;")
}

func TestRenderScalarRows(t *testing.T) {
	rows := core.NewDocument()
	rows.Set("0", core.String("snap.r2d2"))
	result := core.NewDocument()
	result.Set("labels", core.Array(core.String("Saved Databases")))
	result.Set("rows", core.Embed(rows))

	page := RenderPage(result)
	require.Contains(t, page, "snap.r2d2")
	require.Contains(t, page, "<th>Saved Databases</th>")
}
