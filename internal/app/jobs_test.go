package app

import (
	"testing"

	"marketpipe/internal/config"
	"marketpipe/internal/crontab"
	"marketpipe/internal/pipeline"
	"marketpipe/internal/runner"
	logx "marketpipe/pkg/logx"
)

// A hot reload can remove the pipeline section after the service was built
// at startup; building definitions must survive that.
func TestBuildDefinitionsPipelineSectionRemoved(t *testing.T) {
	t.Parallel()
	m := config.NewManager("unused")
	m.Commit(&config.Config{})

	a := &App{
		cfgm: m,
		run:  runner.New("", logx.Nop(), nil),
		pipe: pipeline.New(pipeline.Config{
			Tickers: []string{"PETR4.SA"},
			BaseURL: "http://unused.invalid",
		}, nil, logx.Nop()),
	}

	f := &crontab.File{Entries: []crontab.Entry{
		{Line: 1, Spec: "@hourly", Command: "echo ok"},
	}}
	defs, err := a.buildDefinitions(f)
	if err != nil {
		t.Fatalf("buildDefinitions: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("defs = %d, want 1 (no pipeline schedule configured)", len(defs))
	}
}

func TestBuildDefinitionsConfigScheduledPipeline(t *testing.T) {
	t.Parallel()
	m := config.NewManager("unused")
	m.Commit(&config.Config{Pipeline: &config.PipelineConfig{
		Enabled:  true,
		Schedule: "@hourly",
		Tickers:  []string{"PETR4.SA"},
	}})

	a := &App{
		cfgm: m,
		run:  runner.New("", logx.Nop(), nil),
		pipe: pipeline.New(pipeline.Config{
			Tickers: []string{"PETR4.SA"},
			BaseURL: "http://unused.invalid",
		}, nil, logx.Nop()),
	}

	defs, err := a.buildDefinitions(&crontab.File{})
	if err != nil {
		t.Fatalf("buildDefinitions: %v", err)
	}
	if len(defs) != 1 || defs[0].Name != pipeline.JobName {
		t.Fatalf("defs = %+v, want the config-scheduled pipeline", defs)
	}
}

func TestBuildDefinitionsUnknownJob(t *testing.T) {
	t.Parallel()
	m := config.NewManager("unused")
	m.Commit(&config.Config{})

	a := &App{cfgm: m, run: runner.New("", logx.Nop(), nil)}
	f := &crontab.File{Path: "crontab", Entries: []crontab.Entry{
		{Line: 3, Spec: "@hourly", Job: "mystery"},
	}}
	if _, err := a.buildDefinitions(f); err == nil {
		t.Fatal("unknown built-in job must fail the build")
	}
}
