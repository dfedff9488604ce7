package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/NodePath81/netcap/internal/util"
	"gopkg.in/yaml.v3"
)

const (
	defaultWarnThreshold = 0.10

	defaultControlAddr           = "127.0.0.1"
	defaultControlPort           = 8080
	defaultControlMaxConnections = 64
	defaultControlMetricsEnabled = true
)

var (
	// ErrEmptyDocument is returned for a document with no content.
	ErrEmptyDocument = errors.New("config: document is empty")
	// ErrRootNotMapping is returned when the document root is not a key-value mapping.
	ErrRootNotMapping = errors.New("config: document root must be a mapping")
)

// Document is a scenario document. Every scenario block is optional.
type Document struct {
	SinglePath     *SinglePathConfig     `yaml:"single_path"`
	FairShare      *FairShareConfig      `yaml:"fair_share"`
	EffectiveLinks *EffectiveLinksConfig `yaml:"effective_links"`
	DoSSweep       *DoSSweepConfig       `yaml:"dos_sweep"`
	Control        ControlConfig         `yaml:"control"`
	Archive        ArchiveConfig         `yaml:"archive"`
}

type SinglePathConfig struct {
	Sender    Rate     `yaml:"sender"`
	Links     []Rate   `yaml:"links"`
	LinkNames []string `yaml:"link_names"`
}

type FairShareConfig struct {
	Sender     Rate  `yaml:"sender"`
	Receiver   Rate  `yaml:"receiver"`
	Backbone   Rate  `yaml:"backbone"`
	FlowCounts []int `yaml:"flow_counts"`
}

type EffectiveLinksConfig struct {
	Links        []Rate    `yaml:"links"`
	Efficiencies []float64 `yaml:"efficiencies"`
}

type DoSSweepConfig struct {
	Sender        Rate     `yaml:"sender"`
	Receiver      Rate     `yaml:"receiver"`
	Backbone      Rate     `yaml:"backbone"`
	FlowCounts    []int    `yaml:"flow_counts"`
	WarnThreshold *float64 `yaml:"warn_threshold"`
}

type ControlConfig struct {
	BindAddr       string               `yaml:"bind_addr"`
	BindPort       int                  `yaml:"bind_port"`
	AuthToken      string               `yaml:"auth_token"`
	MaxConnections int                  `yaml:"max_connections"`
	Metrics        ControlMetricsConfig `yaml:"metrics"`
}

type ControlMetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

type ArchiveConfig struct {
	Path string `yaml:"path"`
}

func (m ControlMetricsConfig) IsEnabled() bool {
	return util.BoolValue(m.Enabled, defaultControlMetricsEnabled)
}

// Threshold returns the configured warn threshold or the default.
func (c DoSSweepConfig) Threshold() float64 {
	return util.FloatValue(c.WarnThreshold, defaultWarnThreshold)
}

// Scenarios returns the names of the scenario blocks present, in run order.
func (d Document) Scenarios() []string {
	var names []string
	if d.SinglePath != nil {
		names = append(names, "single_path")
	}
	if d.FairShare != nil {
		names = append(names, "fair_share")
	}
	if d.EffectiveLinks != nil {
		names = append(names, "effective_links")
	}
	if d.DoSSweep != nil {
		names = append(names, "dos_sweep")
	}
	return names
}

func Load(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	doc, err := Parse(raw)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a YAML or JSON scenario document.
func Parse(raw []byte) (Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return Document{}, err
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return Document{}, ErrEmptyDocument
	}
	if root.Content[0].Kind != yaml.MappingNode {
		return Document{}, ErrRootNotMapping
	}

	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Document{}, err
	}
	doc.setDefaults()
	if err := doc.validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (d *Document) setDefaults() {
	if d.DoSSweep != nil && d.DoSSweep.WarnThreshold == nil {
		val := defaultWarnThreshold
		d.DoSSweep.WarnThreshold = &val
	}
	if d.Control.BindAddr == "" {
		d.Control.BindAddr = defaultControlAddr
	}
	if d.Control.BindPort == 0 {
		d.Control.BindPort = defaultControlPort
	}
	if d.Control.MaxConnections == 0 {
		d.Control.MaxConnections = defaultControlMaxConnections
	}
	if d.Control.Metrics.Enabled == nil {
		enabled := defaultControlMetricsEnabled
		d.Control.Metrics.Enabled = &enabled
	}
	d.Archive.Path = strings.TrimSpace(d.Archive.Path)
}

func (d *Document) validate() error {
	if sp := d.SinglePath; sp != nil {
		if sp.LinkNames != nil && len(sp.LinkNames) != len(sp.Links) {
			return fmt.Errorf("single_path.link_names has %d entries, links has %d", len(sp.LinkNames), len(sp.Links))
		}
	}
	if fs := d.FairShare; fs != nil {
		if len(fs.FlowCounts) == 0 {
			return errors.New("fair_share.flow_counts must not be empty")
		}
	}
	if el := d.EffectiveLinks; el != nil {
		if len(el.Efficiencies) != len(el.Links) {
			return fmt.Errorf("effective_links.efficiencies has %d entries, links has %d", len(el.Efficiencies), len(el.Links))
		}
	}
	if ds := d.DoSSweep; ds != nil {
		if len(ds.FlowCounts) == 0 {
			return errors.New("dos_sweep.flow_counts must not be empty")
		}
		if th := ds.Threshold(); math.IsNaN(th) || th < 0 || th > 1 {
			return errors.New("dos_sweep.warn_threshold must be in [0,1]")
		}
	}
	if d.Control.BindPort <= 0 || d.Control.BindPort > 65535 {
		return errors.New("control.bind_port must be in 1..65535")
	}
	if d.Control.MaxConnections <= 0 {
		return errors.New("control.max_connections must be > 0")
	}
	return nil
}

// ValidateControl checks the settings only the control server needs.
func (d Document) ValidateControl() error {
	if strings.TrimSpace(d.Control.AuthToken) == "" {
		return errors.New("control.auth_token must not be empty")
	}
	return nil
}
