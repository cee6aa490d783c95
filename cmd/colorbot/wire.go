package main

import (
	"fmt"

	"github.com/yairfalse/colorbot/colorrole"
	"github.com/yairfalse/colorbot/config"
	"github.com/yairfalse/colorbot/platform"
	"github.com/yairfalse/colorbot/policy"
	"github.com/yairfalse/colorbot/purge"
	"github.com/yairfalse/colorbot/remediation"
	"github.com/yairfalse/colorbot/sweep"
	"github.com/yairfalse/colorbot/telemetry"
)

// services is everything built on top of one platform
type services struct {
	coordinator *remediation.Coordinator
	colors      *colorrole.Service
	purge       *purge.Service
	sweeper     *sweep.Sweeper
}

type wiring struct {
	platform platform.Platform
	journal  remediation.Journal
	policy   *policy.Engine
	cfg      *config.Config
	logger   *telemetry.Logger
	// reporter overrides the configured reporter timings when set
	reporter *remediation.ReporterConfig
}

func wire(w wiring) (*services, error) {
	metrics, err := remediation.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create remediation metrics: %w", err)
	}

	classifier := remediation.NewClassifier(w.platform)
	notifier := remediation.NewDeduplicator(remediation.DeduplicatorConfig{
		Messenger: w.platform,
		Capacity:  w.cfg.Remediation.DedupCapacity,
		Logger:    w.logger,
		Metrics:   metrics,
	})

	coordinator, err := remediation.NewCoordinator(remediation.CoordinatorConfig{
		Deleter:    w.platform,
		Classifier: classifier,
		Notifier:   notifier,
		Journal:    w.journal,
		Metrics:    metrics,
		Logger:     w.logger,
	})
	if err != nil {
		return nil, err
	}

	colors, err := colorrole.NewService(colorrole.Config{
		Platform:   w.platform,
		Classifier: classifier,
		Logger:     w.logger,
	})
	if err != nil {
		return nil, err
	}

	reporter := remediation.ReporterConfig{
		InitialDelay: w.cfg.Remediation.InitialDelay,
		Interval:     w.cfg.Remediation.Interval,
	}
	if w.reporter != nil {
		reporter = *w.reporter
	}
	reporter.Logger = w.logger
	reporter.Metrics = metrics

	purges, err := purge.NewService(purge.Config{
		Roles:       w.platform,
		Coordinator: coordinator,
		Policy:      w.policy,
		Reporter:    reporter,
		Logger:      w.logger,
	})
	if err != nil {
		return nil, err
	}

	sweeper, err := sweep.New(sweep.Config{
		Roles:       w.platform,
		Coordinator: coordinator,
		Policy:      w.policy,
		Logger:      w.logger,
	})
	if err != nil {
		return nil, err
	}

	return &services{
		coordinator: coordinator,
		colors:      colors,
		purge:       purges,
		sweeper:     sweeper,
	}, nil
}
