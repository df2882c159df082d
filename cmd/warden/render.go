// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/wingedpig/warden/pkg/client"
)

const renderWidth = 80

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	reasonStyle = lipgloss.NewStyle().Italic(true)

	kindStyles = map[string]lipgloss.Style{
		client.KindPermission: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		client.KindPlan:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		client.KindQuestion:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13")),
		client.KindCommit:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
	}
)

// renderMarkdown renders md for the terminal, falling back to the source
// text if the renderer fails.
func renderMarkdown(md string) string {
	md = strings.TrimRight(md, "\n")
	if md == "" {
		return ""
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(renderWidth),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}

func kindBadge(kind string) string {
	style, ok := kindStyles[kind]
	if !ok {
		style = headerStyle
	}
	return style.Render(strings.ToUpper(kind))
}

// writeAction prints one pending action with a kind-specific body.
func writeAction(w io.Writer, a client.Action, now time.Time) {
	title := a.ToolName
	if title == "" {
		title = a.Kind
	}
	fmt.Fprintf(w, "%s %s %s\n",
		kindBadge(a.Kind),
		headerStyle.Render(title),
		dimStyle.Render(fmt.Sprintf("%s  session %s  waiting %s", a.RequestID, a.SessionID, now.Sub(a.CreatedAt).Round(time.Second))))

	body := actionBody(a)
	if body != "" {
		fmt.Fprintln(w, body)
	}
	fmt.Fprintln(w)
}

func actionBody(a client.Action) string {
	if len(a.Payload) == 0 {
		return ""
	}
	switch a.Kind {
	case client.KindPlan:
		var p struct {
			Plan string `json:"plan"`
		}
		if err := json.Unmarshal(a.Payload, &p); err == nil && p.Plan != "" {
			return renderMarkdown(p.Plan)
		}
	case client.KindQuestion:
		if body := questionBody(a.Payload); body != "" {
			return body
		}
	case client.KindCommit:
		var c struct {
			Message string   `json:"message"`
			Files   []string `json:"files"`
		}
		if err := json.Unmarshal(a.Payload, &c); err == nil && c.Message != "" {
			var b strings.Builder
			b.WriteString(reasonStyle.Render(c.Message))
			for _, f := range c.Files {
				b.WriteString("\n  " + f)
			}
			return b.String()
		}
	case client.KindPermission:
		var p struct {
			Command     string `json:"command"`
			Description string `json:"description"`
			FilePath    string `json:"file_path"`
		}
		if err := json.Unmarshal(a.Payload, &p); err == nil {
			switch {
			case p.Command != "":
				s := "  $ " + p.Command
				if p.Description != "" {
					s += "\n  " + dimStyle.Render(p.Description)
				}
				return s
			case p.FilePath != "":
				return "  " + p.FilePath
			}
		}
	}
	return "  " + compactJSON(a.Payload)
}

func questionBody(payload json.RawMessage) string {
	var q struct {
		Questions []struct {
			Question string `json:"question"`
			Options  []struct {
				Label       string `json:"label"`
				Description string `json:"description"`
			} `json:"options"`
		} `json:"questions"`
	}
	if err := json.Unmarshal(payload, &q); err != nil || len(q.Questions) == 0 {
		return ""
	}
	var b strings.Builder
	for i, question := range q.Questions {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  " + question.Question)
		for _, opt := range question.Options {
			b.WriteString("\n    - " + opt.Label)
			if opt.Description != "" {
				b.WriteString(" " + dimStyle.Render(opt.Description))
			}
		}
	}
	return b.String()
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	s := buf.String()
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
