// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianDrive/services/assistant/datatypes"
)

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	systemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	usageStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// UI renders transcript rows. When stdout is not a terminal (piped or
// redirected) all styling is dropped and rows come out as plain
// prefixed lines.
type UI struct {
	w      io.Writer
	styled bool
}

// NewUI builds a UI on stdout, styled only when stdout is a TTY.
func NewUI() *UI {
	return &UI{
		w:      os.Stdout,
		styled: isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()),
	}
}

func (u *UI) render(style lipgloss.Style, prefix, text string) {
	if u.styled {
		fmt.Fprintln(u.w, style.Render(prefix+text))
		return
	}
	fmt.Fprintln(u.w, prefix+text)
}

// User renders the caller's own message row.
func (u *UI) User(text string) { u.render(userStyle, "you> ", text) }

// Assistant renders a reply row.
func (u *UI) Assistant(text string) { u.render(assistantStyle, "clank> ", text) }

// System renders an informational row (sign-in nudges, errors).
func (u *UI) System(text string) { u.render(systemStyle, "* ", text) }

// Usage renders the quota standing after a billed exchange.
func (u *UI) Usage(usage *datatypes.Usage) {
	if usage == nil {
		return
	}
	u.render(usageStyle, "* ", fmt.Sprintf("usage: %d of %v messages", usage.MessagesUsed, usage.MessageLimit))
}
