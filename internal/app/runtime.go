package app

import (
	"context"
	"time"

	"github.com/NodePath81/netcap/internal/archive"
	"github.com/NodePath81/netcap/internal/config"
	"github.com/NodePath81/netcap/internal/control"
	"github.com/NodePath81/netcap/internal/metrics"
	"github.com/NodePath81/netcap/internal/risk"
	"github.com/NodePath81/netcap/internal/scenario"
	"github.com/NodePath81/netcap/internal/util"
)

type Runtime struct {
	doc     config.Document
	ctx     context.Context
	cancel  context.CancelFunc
	logger  util.Logger
	store   *archive.Store
	metrics *metrics.Metrics
	control *control.ControlServer
}

func NewRuntime(doc config.Document, logger util.Logger, restartFn func() error) (*Runtime, error) {
	ctx, cancel := context.WithCancel(context.Background())
	rt := &Runtime{
		doc:     doc,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics.NewMetrics(),
	}

	var store control.Archive
	if doc.Archive.Path != "" {
		s, err := archive.Open(doc.Archive.Path)
		if err != nil {
			cancel()
			return nil, err
		}
		rt.store = s
		store = s
	}
	rt.control = control.NewControlServer(doc, store, rt.metrics, restartFn, logger)
	return rt, nil
}

func (r *Runtime) Start() error {
	r.runStartupSweep()
	return r.control.Start(r.ctx)
}

// runStartupSweep evaluates the document's dos_sweep block once so that
// /metrics and the archive reflect the configured deployment from the start.
func (r *Runtime) runStartupSweep() {
	if r.doc.DoSSweep == nil {
		return
	}
	p := scenario.SweepParams(*r.doc.DoSSweep)
	if p.WarnThreshold < risk.CriticalHeadroom {
		r.logger.Warn("warn threshold below critical cutoff; WARN band is unreachable",
			"warn_threshold", p.WarnThreshold, "critical", risk.CriticalHeadroom)
	}
	rep, err := scenario.DoSSweep(p)
	r.metrics.Observe(metrics.OpSweep, err)
	if err != nil {
		r.logger.Error("startup sweep failed", "error", err)
		return
	}
	r.metrics.ObserveReport(rep)
	r.logger.Info("startup sweep evaluated", "flow_counts", len(rep.Results), "worst", rep.Worst())
	if r.store == nil {
		return
	}
	id, err := r.store.Save(r.ctx, rep)
	if err != nil {
		r.logger.Error("startup sweep archive failed", "error", err)
		return
	}
	r.logger.Info("startup sweep archived", "id", id)
}

func (r *Runtime) Stop() {
	r.cancel()
	if r.control != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = r.control.Shutdown(ctx)
		cancel()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("archive close failed", "error", err)
		}
	}
}
