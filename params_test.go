package overlapbench

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexshd/overlapbench/comm"
)

func envMap(vars map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func TestLoadEnv_Defaults(t *testing.T) {
	p, err := LoadEnv(envMap(nil))
	require.NoError(t, err)

	assert.False(t, p.DataDriven)
	assert.Equal(t, DefaultTimeDrivenMax, p.MaxElts)
	assert.Equal(t, DefaultTimeDrivenIters, p.Iterations)
	assert.Equal(t, DefaultCutoffTime, p.CutoffTime)
	assert.Equal(t, DefaultValidationSteps, p.ValidationSteps)
	assert.Equal(t, DefaultOverlapThreshold, p.OverlapThreshold)
}

func TestLoadEnv_ModeDefaults(t *testing.T) {
	p, err := LoadEnv(envMap(map[string]string{EnvDataDriven: "1"}))
	require.NoError(t, err)

	assert.True(t, p.DataDriven)
	assert.Equal(t, DefaultDataDrivenMax, p.MaxElts)
	assert.Equal(t, DefaultDataDrivenIters, p.Iterations)
}

func TestLoadEnv_Overrides(t *testing.T) {
	p, err := LoadEnv(envMap(map[string]string{
		EnvDataDriven:       "1",
		EnvMinElts:          "4",
		EnvMaxElts:          "64",
		EnvValidationSteps:  "3",
		EnvCalibration:      "1",
		EnvVerbose:          "1",
		EnvDebug:            "0",
		EnvCutoffTime:       "250",
		EnvIterations:       "40",
		EnvMaxIterations:    "80",
		EnvOverlapThreshold: "10",
	}))
	require.NoError(t, err)

	assert.Equal(t, Params{
		MinElts:          4,
		MaxElts:          64,
		Verbose:          true,
		Calibration:      true,
		DataDriven:       true,
		ValidationSteps:  3,
		CutoffTime:       250 * time.Millisecond,
		Iterations:       40,
		MaxIterations:    80,
		OverlapThreshold: 10,
		Warmup:           DefaultWarmup,
	}, p)
}

func TestLoadEnv_NonPositiveIgnored(t *testing.T) {
	p, err := LoadEnv(envMap(map[string]string{
		EnvCutoffTime:       "0",
		EnvIterations:       "-3",
		EnvOverlapThreshold: "0",
	}))
	require.NoError(t, err)

	assert.Equal(t, DefaultCutoffTime, p.CutoffTime)
	assert.Equal(t, DefaultTimeDrivenIters, p.Iterations)
	assert.Equal(t, DefaultOverlapThreshold, p.OverlapThreshold)
}

func TestLoadEnv_Invalid(t *testing.T) {
	_, err := LoadEnv(envMap(map[string]string{EnvMaxElts: "lots"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvMaxElts)

	_, err = LoadEnv(envMap(map[string]string{EnvMinElts: "100", EnvMaxElts: "10"}))
	assert.Error(t, err)
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Params)
	}{
		{"zero min", func(p *Params) { p.MinElts = 0 }},
		{"max below min", func(p *Params) { p.MaxElts = p.MinElts - 1 }},
		{"zero validation", func(p *Params) { p.ValidationSteps = 0 }},
		{"zero iterations", func(p *Params) { p.Iterations = 0 }},
		{"threshold above 100", func(p *Params) { p.OverlapThreshold = 101 }},
		{"negative warmup", func(p *Params) { p.Warmup = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams(true)
			p.MinElts = 2
			tt.modify(&p)
			assert.Error(t, p.Validate())
		})
	}
	assert.NoError(t, DefaultParams(false).Validate())
}

func TestParams_Sync(t *testing.T) {
	want := DefaultParams(true)
	want.MaxElts = 1024
	want.Debug = true
	want.CutoffTime = 42 * time.Millisecond

	err := comm.RunLocal(testContext(t), 4, func(ctx context.Context, g *comm.Group) error {
		p := DefaultParams(false)
		if g.Rank() == Coordinator {
			p = want
		}
		if err := p.Sync(ctx, g); err != nil {
			return err
		}
		if p != want {
			return fmt.Errorf("rank %d got %+v", g.Rank(), p)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestParams_Display(t *testing.T) {
	var buf bytes.Buffer
	p := DefaultParams(true)
	p.Display(&buf)

	out := buf.String()
	assert.Contains(t, out, "Maximum number of elements exchanged: 131072 (1048576 bytes)")
	assert.Contains(t, out, "Data driven execution: ON")
	assert.Contains(t, out, "Calibration: OFF")
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)
	return ctx
}
