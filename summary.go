package main

import (
	"fmt"
	"io"
	"time"

	"go_denoiser/metrics"
	"go_denoiser/pipeline"

	"github.com/fatih/color"
)

// printSummary writes the per-frame outcome table and run totals.
func printSummary(w io.Writer, s *pipeline.Summary) {
	fmt.Fprintln(w)
	color.New(color.FgCyan, color.Bold).Fprintf(w, "━━━ Denoise Run %s (%s) ━━━\n", s.RunID, s.Mode)
	fmt.Fprintln(w)

	dim := color.New(color.FgHiBlack)
	for _, f := range s.Frames {
		var icon string
		var clr *color.Color
		switch f.Status {
		case metrics.FrameStatusSuccess:
			icon, clr = "✓", color.New(color.FgGreen)
		case metrics.FrameStatusError:
			icon, clr = "✗", color.New(color.FgRed)
		default:
			icon, clr = "○", color.New(color.FgYellow)
		}

		clr.Fprintf(w, "  %s %s", icon, f.Name)
		switch {
		case f.Status == metrics.FrameStatusSuccess:
			dim.Fprintf(w, " - %s (%v)", f.Output, f.Duration.Round(time.Millisecond))
		case f.Err != nil:
			dim.Fprintf(w, " - %v", f.Err)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w)
	var headline *color.Color
	var label string
	switch {
	case s.Cancelled:
		headline, label = color.New(color.FgYellow, color.Bold), "Run Cancelled"
	case s.Failed > 0:
		headline, label = color.New(color.FgRed, color.Bold), "Run Finished With Errors"
	default:
		headline, label = color.New(color.FgGreen, color.Bold), "Run Completed"
	}
	headline.Fprintf(w, "━━━ %s ", label)
	dim.Fprintf(w, "(%d succeeded, %d failed, %d skipped in %v)",
		s.Succeeded, s.Failed, s.Skipped, s.Duration.Round(time.Millisecond))
	headline.Fprintln(w, " ━━━")
	fmt.Fprintln(w)
}
