// Package output renders target status tables for the command line.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"serverwatch/internal/models"
)

// Renderer writes target snapshots and event log entries to a stream.
type Renderer interface {
	RenderTargets(targets []models.TargetStatus) error
	RenderEvents(entries []models.LogEntry) error
}

var (
	styleHeader  = lipgloss.NewStyle().Bold(true).Underline(true)
	styleOnline  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	styleOffline = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleStopped = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Faint(true)
	styleUnknown = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// TextRenderer prints aligned, colour-coded tables.
type TextRenderer struct {
	w io.Writer
}

// NewTextRenderer returns a Renderer writing coloured text to w.
func NewTextRenderer(w io.Writer) *TextRenderer {
	return &TextRenderer{w: w}
}

func (r *TextRenderer) RenderTargets(targets []models.TargetStatus) error {
	if len(targets) == 0 {
		_, err := fmt.Fprintln(r.w, styleMuted.Render("no targets registered"))
		return err
	}

	nameWidth, addrWidth := len("NAME"), len("ADDRESS")
	for _, t := range targets {
		nameWidth = max(nameWidth, len(t.Name))
		addrWidth = max(addrWidth, len(t.Address))
	}

	header := fmt.Sprintf("%-*s  %-*s  %-8s  %s", nameWidth, "NAME", addrWidth, "ADDRESS", "STATE", "LAST CHECKED")
	if _, err := fmt.Fprintln(r.w, styleHeader.Render(header)); err != nil {
		return err
	}
	for _, t := range targets {
		checked := "never"
		if !t.LastChecked.IsZero() {
			checked = t.LastChecked.Local().Format(time.DateTime)
		}
		line := fmt.Sprintf("%-*s  %-*s  %s  %s",
			nameWidth, t.Name,
			addrWidth, t.Address,
			styleState(t.State),
			styleMuted.Render(checked),
		)
		if t.LastError != "" && t.State == models.StateOffline {
			line += "  " + styleMuted.Render(t.LastError)
		}
		if _, err := fmt.Fprintln(r.w, line); err != nil {
			return err
		}
	}
	return nil
}

func (r *TextRenderer) RenderEvents(entries []models.LogEntry) error {
	for _, e := range entries {
		line := fmt.Sprintf("%s  %s  %s",
			styleMuted.Render(e.Timestamp.Format(time.DateTime)),
			e.Message,
			styleMuted.Render(e.StatusSummary),
		)
		if _, err := fmt.Fprintln(r.w, strings.TrimRight(line, " ")); err != nil {
			return err
		}
	}
	return nil
}

func styleState(state models.State) string {
	padded := fmt.Sprintf("%-8s", state.Label())
	switch state {
	case models.StateOnline:
		return styleOnline.Render(padded)
	case models.StateOffline:
		return styleOffline.Render(padded)
	case models.StateStopped:
		return styleStopped.Render(padded)
	default:
		return styleUnknown.Render(padded)
	}
}

// JSONRenderer prints snapshots as JSON for piping.
type JSONRenderer struct {
	enc *json.Encoder
}

// NewJSONRenderer returns a Renderer writing indented JSON to w.
func NewJSONRenderer(w io.Writer) *JSONRenderer {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return &JSONRenderer{enc: enc}
}

func (r *JSONRenderer) RenderTargets(targets []models.TargetStatus) error {
	if targets == nil {
		targets = []models.TargetStatus{}
	}
	return r.enc.Encode(targets)
}

func (r *JSONRenderer) RenderEvents(entries []models.LogEntry) error {
	if entries == nil {
		entries = []models.LogEntry{}
	}
	return r.enc.Encode(entries)
}

// New picks a renderer by format name; anything but "json" yields text.
func New(format string, w io.Writer) Renderer {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return NewJSONRenderer(w)
	}
	return NewTextRenderer(w)
}
