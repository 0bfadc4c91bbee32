// Package report renders filler count snapshots for export and terminals.
package report

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/loqalabs/loqa-fillers/internal/transcript"
)

// SpeakerHeader names the first column of every rendering.
const SpeakerHeader = "Speaker"

// Header returns the column names in lexicon order.
func Header(snap transcript.Snapshot) []string {
	return append([]string{SpeakerHeader}, snap.Lexicon.Phrases()...)
}

// Records returns one string row per speaker in the snapshot's order.
func Records(snap transcript.Snapshot) [][]string {
	phrases := snap.Lexicon.Phrases()
	rows := make([][]string, 0, len(snap.Rows))
	for _, row := range snap.Rows {
		rec := make([]string, 0, len(phrases)+1)
		rec = append(rec, row.Speaker)
		for _, phrase := range phrases {
			rec = append(rec, strconv.Itoa(row.Counts[phrase]))
		}
		rows = append(rows, rec)
	}
	return rows
}

// WriteTSV writes the header line and one tab-separated row per speaker.
func WriteTSV(w io.Writer, snap transcript.Snapshot) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, strings.Join(Header(snap), "\t")); err != nil {
		return err
	}
	for _, rec := range Records(snap) {
		if _, err := fmt.Fprintln(bw, strings.Join(rec, "\t")); err != nil {
			return err
		}
	}
	return bw.Flush()
}

var (
	colorCyan = lipgloss.Color("#00FFFF")
	colorGray = lipgloss.Color("#666666")

	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorCyan).Padding(0, 1)
	speakerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	countStyle   = lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Right)
	zeroStyle    = countStyle.Foreground(colorGray)
)

// Table renders the snapshot as a bordered terminal table.
func Table(snap transcript.Snapshot) string {
	records := Records(snap)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorGray)).
		Headers(Header(snap)...).
		Rows(records...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return speakerStyle
			case row >= 0 && row < len(records) && records[row][col] == "0":
				return zeroStyle
			default:
				return countStyle
			}
		})
	return t.Render()
}
