package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Graphite palette. Everything the CLI prints to a terminal is drawn from
// these colors so output stays readable on light and dark themes.
var (
	colorAccent  = lipgloss.Color("36")
	colorOK      = lipgloss.Color("35")
	colorFail    = lipgloss.Color("167")
	colorCommand = lipgloss.Color("75")
	colorBright  = lipgloss.Color("255")
	colorMuted   = lipgloss.Color("245")
	colorFaint   = lipgloss.Color("240")
)

var (
	// StyleTitle renders section headings such as "Bot Statistics".
	StyleTitle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)

	// StyleLink renders URLs.
	StyleLink = lipgloss.NewStyle().Foreground(colorCommand).Underline(true)

	// StyleDim renders secondary text.
	StyleDim = lipgloss.NewStyle().Foreground(colorFaint)

	// StyleValue renders file paths and plain values.
	StyleValue = lipgloss.NewStyle().Foreground(colorBright)

	// StyleNumber renders counts.
	StyleNumber = lipgloss.NewStyle().Foreground(colorAccent)
)

var (
	styleIconSpinner = lipgloss.NewStyle().Foreground(colorAccent)
	styleLabel       = lipgloss.NewStyle().Foreground(colorMuted).Width(12)
	styleCommand     = lipgloss.NewStyle().Foreground(colorCommand)
	styleCached      = lipgloss.NewStyle().Foreground(colorOK)
	styleFresh       = lipgloss.NewStyle().Foreground(colorMuted)
)

// status line markers
var (
	markOK   = lipgloss.NewStyle().Foreground(colorOK).Render("✓")
	markFail = lipgloss.NewStyle().Foreground(colorFail).Render("✗")
	markInfo = lipgloss.NewStyle().Foreground(colorMuted).Render("›")
	markFile = StyleDim.Render("→")
)

func printMarked(mark, format string, args ...any) {
	fmt.Println(mark + " " + fmt.Sprintf(format, args...))
}

func printSuccess(format string, args ...any) { printMarked(markOK, format, args...) }

func printError(format string, args ...any) { printMarked(markFail, format, args...) }

func printInfo(format string, args ...any) { printMarked(markInfo, format, args...) }

// printDetail prints an indented, dimmed line under a status message.
func printDetail(format string, args ...any) {
	fmt.Println("  " + StyleDim.Render(fmt.Sprintf(format, args...)))
}

// printFile prints the path a sketch was written to.
func printFile(path string) {
	fmt.Println("  " + markFile + " " + StyleValue.Render(path))
}

// printKeyValue prints a fixed-width label followed by its value.
func printKeyValue(key, value string) {
	fmt.Println(styleLabel.Render(key) + " " + StyleValue.Render(value))
}

// printSketchStats prints one summary line for a finished sketch, e.g.
// "640×480 · 42ms · fresh". Timing is omitted for cache hits.
func printSketchStats(width, height int, d time.Duration, cached bool) {
	var parts []string
	if width > 0 && height > 0 {
		parts = append(parts, StyleDim.Render(fmt.Sprintf("%d×%d", width, height)))
	}
	if cached {
		parts = append(parts, styleCached.Render("cached"))
	} else {
		parts = append(parts, StyleDim.Render(d.Round(time.Millisecond).String()), styleFresh.Render("fresh"))
	}
	fmt.Println("  " + strings.Join(parts, StyleDim.Render(" · ")))
}

// printNextStep suggests a command to run next.
func printNextStep(description, cmd string) {
	fmt.Println(StyleDim.Render(description+":") + " " + styleCommand.Render(cmd))
}

func printNewline() { fmt.Println() }
