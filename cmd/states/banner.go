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
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianStates/services/states/config"
)

var (
	colorTealBright  = lipgloss.Color("#2CD7C7")
	colorTealPrimary = lipgloss.Color("#20B9B4")
	colorTealDeep    = lipgloss.Color("#16858E")
	colorSlate       = lipgloss.Color("#2C4A54")

	bannerTitle = lipgloss.NewStyle().Bold(true).Foreground(colorTealBright)
	bannerKey   = lipgloss.NewStyle().Foreground(colorSlate).Width(10)
	bannerValue = lipgloss.NewStyle().Foreground(colorTealPrimary)
	bannerBox   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorTealDeep).
			Padding(0, 1)
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// bannerLines returns the startup summary as key/value pairs.
func bannerLines(cfg config.Config) [][2]string {
	storage := cfg.Storage.Type
	if cfg.Storage.Path != "" {
		storage += " (" + cfg.Storage.Path + ")"
	}
	return [][2]string{
		{"listen", cfg.Addr()},
		{"api", cfg.Server.BasePath},
		{"storage", storage},
		{"log", cfg.Logging.Level.String()},
		{"tracing", cfg.Telemetry.TraceExporter},
	}
}

// renderBanner formats the startup summary. Plain output has no escape
// codes so it stays readable in log collectors.
func renderBanner(cfg config.Config, ver string, styled bool) string {
	var b strings.Builder
	if !styled {
		fmt.Fprintf(&b, "states %s\n", ver)
		for _, kv := range bannerLines(cfg) {
			fmt.Fprintf(&b, "  %-8s %s\n", kv[0], kv[1])
		}
		return b.String()
	}

	b.WriteString(bannerTitle.Render("states " + ver))
	for _, kv := range bannerLines(cfg) {
		b.WriteString("\n")
		b.WriteString(bannerKey.Render(kv[0]))
		b.WriteString(bannerValue.Render(kv[1]))
	}
	return bannerBox.Render(b.String()) + "\n"
}

func printBanner(w io.Writer, cfg config.Config, ver string) {
	fmt.Fprint(w, renderBanner(cfg, ver, isTerminal(w)))
}
