// Package render serializes scenario reports for people (aligned text) or
// machines (JSON). Renderers only format; they never compute.
package render

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/NodePath81/netcap/internal/archive"
	"github.com/NodePath81/netcap/internal/risk"
	"github.com/NodePath81/netcap/internal/scenario"
)

// ErrUnknownFormat is returned by New for an unsupported output format.
var ErrUnknownFormat = errors.New("render: unknown output format")

const (
	FormatText = "text"
	FormatJSON = "json"
)

type Renderer interface {
	SinglePath(w io.Writer, r scenario.SinglePathReport) error
	FairShare(w io.Writer, r scenario.FairShareReport) error
	EffectiveLinks(w io.Writer, r scenario.EffectiveLinksReport) error
	Sweep(w io.Writer, r risk.Report) error
	History(w io.Writer, entries []archive.Entry) error
}

func New(format string) (Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		return NewText(), nil
	case FormatJSON:
		return JSON{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// All renders every report present in reps, separated by a blank line for
// text output. JSON output is a single object keyed by scenario name.
func All(w io.Writer, r Renderer, reps scenario.Reports) error {
	if j, ok := r.(JSON); ok {
		return j.encode(w, reps)
	}
	first := true
	sep := func() {
		if !first {
			fmt.Fprintln(w)
		}
		first = false
	}
	if reps.SinglePath != nil {
		sep()
		if err := r.SinglePath(w, *reps.SinglePath); err != nil {
			return err
		}
	}
	if reps.FairShare != nil {
		sep()
		if err := r.FairShare(w, *reps.FairShare); err != nil {
			return err
		}
	}
	if reps.EffectiveLinks != nil {
		sep()
		if err := r.EffectiveLinks(w, *reps.EffectiveLinks); err != nil {
			return err
		}
	}
	if reps.DoSSweep != nil {
		sep()
		if err := r.Sweep(w, *reps.DoSSweep); err != nil {
			return err
		}
	}
	return nil
}
