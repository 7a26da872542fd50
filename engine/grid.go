package engine

import "github.com/use-agent/harvest/models"

// ZipGrid folds a flat list of data cells into rows as wide as headers.
// A trailing partial row is dropped: a 3-column grid with 7 cells yields
// two rows.
func ZipGrid(headers, cells []string) models.Grid {
	g := models.Grid{Headings: headers, Rows: [][]string{}}
	width := len(headers)
	if width == 0 {
		return g
	}
	whole := len(cells) / width * width
	for i := 0; i < whole; i += width {
		row := make([]string, width)
		copy(row, cells[i:i+width])
		g.Rows = append(g.Rows, row)
	}
	return g
}
