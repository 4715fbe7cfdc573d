package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"taskflow/boardsync"
	"taskflow/domain"
)

var (
	warn     = color.New(color.FgYellow).SprintFunc()
	dropped  = color.New(color.FgGreen, color.Bold).SprintFunc()
	faint    = color.New(color.Faint).SprintFunc()
	ownEvent = color.New(color.FgCyan).SprintFunc()
)

// render prints the board as one table column per board column.
func render(w io.Writer, v boardsync.View) {
	b := v.Board
	fmt.Fprintf(w, "%s (%s)\n", b.Title, b.ID)

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	header := make([]string, len(b.Columns))
	rows := 0
	for i, col := range b.Columns {
		header[i] = col.Title
		if header[i] == "" {
			header[i] = col.ID
		}
		rows = max(rows, len(col.Cards))
	}
	table.SetHeader(header)
	for r := 0; r < rows; r++ {
		row := make([]string, len(b.Columns))
		for i, col := range b.Columns {
			if r < len(col.Cards) {
				row[i] = cardLabel(col.Cards[r], v.JustDropped)
			}
		}
		table.Append(row)
	}
	table.Render()
}

func cardLabel(c domain.Card, justDropped string) string {
	switch {
	case c.IsPlaceholder:
		return faint("(empty)")
	case c.ID == justDropped:
		return dropped(title(c))
	}
	return title(c)
}

func title(c domain.Card) string {
	if c.Title != "" {
		return c.Title
	}
	return c.ID
}

func describe(ev domain.Event, own bool) string {
	who := ev.ActorID
	if own {
		return ownEvent(fmt.Sprintf("you: %s %s", ev.Type, ev.EntityID))
	}
	if who == "" {
		who = "someone"
	}
	return fmt.Sprintf("%s: %s %s", who, ev.Type, ev.EntityID)
}
