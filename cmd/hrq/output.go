package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// notices receives status lines and the spinner. Command results go to
// cmd.OutOrStdout() so they stay pipeable.
var notices io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

type mark struct {
	color, glyph string
}

var (
	markOK   = mark{colorGreen, "✓"}
	markFail = mark{colorRed, "✗"}
	markWarn = mark{colorYellow, "⚠"}
)

func notify(m mark, format string, args ...any) {
	fmt.Fprintln(notices, colorize(m.color, m.glyph+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { notify(markOK, format, args...) }
func printError(format string, args ...any)   { notify(markFail, format, args...) }
func printWarning(format string, args ...any) { notify(markWarn, format, args...) }

// printStatus writes an indented "label: value" line for `hrq status`.
func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(notices, "  %-16s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

// startSpinner shows progress while a request is in flight and returns the
// func that stops it. With --no-color it does nothing.
func startSpinner(suffix string) (stop func()) {
	if noColor {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(notices))
	s.Suffix = " " + suffix
	s.Start()
	return s.Stop
}
