package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/gdorsi/BangleApps/internal/notify"
)

func renderTable(headers []string, rows [][]string, colorize bool) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	if colorize {
		tw.SetStyle(table.StyleColoredBright)
	}

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	return tw.Render()
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// consoleToaster prints installer toasts as command output
type consoleToaster struct {
	w        io.Writer
	colorize bool
}

func (c consoleToaster) Show(msg string, severity notify.Severity) {
	marker, color := "-", text.FgHiBlack
	switch severity {
	case notify.SeveritySuccess:
		marker, color = "✓", text.FgGreen
	case notify.SeverityWarning:
		marker, color = "!", text.FgYellow
	case notify.SeverityError:
		marker, color = "✗", text.FgRed
	}
	if c.colorize {
		marker = color.Sprint(marker)
	}
	fmt.Fprintf(c.w, "%s %s\n", marker, msg)
}

// consoleProgress prints progress labels; hiding is silent
type consoleProgress struct {
	w io.Writer
}

func (c consoleProgress) Show(label string) {
	fmt.Fprintf(c.w, "… %s\n", label)
}

func (c consoleProgress) Hide() {}
