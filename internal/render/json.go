package render

import (
	"encoding/json"
	"io"

	"github.com/NodePath81/netcap/internal/archive"
	"github.com/NodePath81/netcap/internal/risk"
	"github.com/NodePath81/netcap/internal/scenario"
)

// JSON writes reports as indented JSON documents.
type JSON struct{}

func (j JSON) SinglePath(w io.Writer, r scenario.SinglePathReport) error {
	return j.encode(w, r)
}

func (j JSON) FairShare(w io.Writer, r scenario.FairShareReport) error {
	return j.encode(w, r)
}

func (j JSON) EffectiveLinks(w io.Writer, r scenario.EffectiveLinksReport) error {
	return j.encode(w, r)
}

func (j JSON) Sweep(w io.Writer, r risk.Report) error {
	return j.encode(w, r)
}

func (j JSON) History(w io.Writer, entries []archive.Entry) error {
	if entries == nil {
		entries = []archive.Entry{}
	}
	return j.encode(w, entries)
}

func (JSON) encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
