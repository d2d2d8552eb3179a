package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// maxCellWidth keeps long error messages and payload paths from stretching
// tables past the terminal.
const maxCellWidth = 60

// renderTable lays out rows under headers with a rounded border. Short rows
// are padded; aligns applies per column and defaults to left.
func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	if len(headers) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(toRow(headers, len(headers)))
	for _, row := range rows {
		tw.AppendRow(toRow(row, len(headers)))
	}

	configs := make([]table.ColumnConfig, len(headers))
	for i := range headers {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
			WidthMax:    maxCellWidth,
		}
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func toRow(cells []string, width int) table.Row {
	row := make(table.Row, width)
	for i := range row {
		row[i] = ""
		if i < len(cells) {
			row[i] = cells[i]
		}
	}
	return row
}
