package aurora

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseOpts(t *testing.T) RunOptions {
	opts := DefaultRunOptions()
	opts.WorkingDir = t.TempDir()
	opts.CacheEnabled = false
	return opts
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestRun_SimpleChain(t *testing.T) {
	bf := NewBeamfile()
	bf.Beams["a"] = &Beam{Name: "a", Run: DefaultRunBlock("echo a")}
	bf.Beams["b"] = &Beam{Name: "b", DependsOn: []string{"a"}, Run: DefaultRunBlock("echo b")}
	bf.DefaultBeam = "b"

	opts := baseOpts(t)
	run, err := NewRun(context.Background(), bf, "", opts)
	require.NoError(t, err)
	defer run.Close(context.Background())

	report, err := run.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Failed())

	a, ok := report.Beam("a")
	require.True(t, ok)
	assert.Equal(t, Succeeded, a.State)

	b, ok := report.Beam("b")
	require.True(t, ok)
	assert.Equal(t, Succeeded, b.State)
}

func TestRun_CycleRejected(t *testing.T) {
	bf := NewBeamfile()
	bf.Beams["a"] = &Beam{Name: "a", DependsOn: []string{"b"}, Run: DefaultRunBlock("echo a")}
	bf.Beams["b"] = &Beam{Name: "b", DependsOn: []string{"a"}, Run: DefaultRunBlock("echo b")}
	bf.DefaultBeam = "a"

	opts := baseOpts(t)
	_, err := NewRun(context.Background(), bf, "", opts)
	require.Error(t, err)

	var cycleErr *CyclicDependencyError
	require.ErrorAs(t, err, &cycleErr)
}

func TestRun_FailureBlocksDescendants(t *testing.T) {
	bf := NewBeamfile()
	bf.Beams["a"] = &Beam{Name: "a", Run: DefaultRunBlock("exit 1")}
	bf.Beams["b"] = &Beam{Name: "b", DependsOn: []string{"a"}, Run: DefaultRunBlock("echo b")}
	bf.DefaultBeam = "b"

	opts := baseOpts(t)
	run, err := NewRun(context.Background(), bf, "", opts)
	require.NoError(t, err)
	defer run.Close(context.Background())

	report, err := run.Execute(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Failed())

	a, ok := report.Beam("a")
	require.True(t, ok)
	assert.Equal(t, Failed, a.State)

	b, ok := report.Beam("b")
	require.True(t, ok)
	assert.Equal(t, Blocked, b.State)
}

func TestRun_ConditionSkipsBeam(t *testing.T) {
	bf := NewBeamfile()
	bf.Beams["a"] = &Beam{
		Name:      "a",
		Condition: FileExists{Path: "does-not-exist.txt"},
		Run:       DefaultRunBlock("echo a"),
	}
	bf.DefaultBeam = "a"

	opts := baseOpts(t)
	run, err := NewRun(context.Background(), bf, "", opts)
	require.NoError(t, err)
	defer run.Close(context.Background())

	report, err := run.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Failed())

	a, ok := report.Beam("a")
	require.True(t, ok)
	assert.Equal(t, SkippedCondition, a.State)
}

func TestRun_Interpolation(t *testing.T) {
	dir := t.TempDir()
	outFile := filepath.Join(dir, "out.txt")

	bf := NewBeamfile()
	bf.Variables = []Variable{{Name: "greeting", DefaultValue: "hello"}}
	bf.Beams["greet"] = &Beam{
		Name: "greet",
		Env:  map[string]string{"OUT_FILE": outFile},
		Run:  DefaultRunBlock("echo ${var.greeting}-${beam.name} > $OUT_FILE"),
	}
	bf.DefaultBeam = "greet"

	opts := baseOpts(t)
	run, err := NewRun(context.Background(), bf, "", opts)
	require.NoError(t, err)
	defer run.Close(context.Background())

	report, err := run.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Failed())

	content, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, "hello-greet\n", string(content))
}

func TestRun_EnvNamespaceSeesBeamOwnEnvBlock(t *testing.T) {
	dir := t.TempDir()
	outFile := filepath.Join(dir, "out.txt")

	bf := NewBeamfile()
	bf.Beams["greet"] = &Beam{
		Name: "greet",
		Env:  map[string]string{"OUT_FILE": outFile, "GREETING": "bonjour"},
		Run:  DefaultRunBlock("echo ${env.GREETING} > ${env.OUT_FILE}"),
	}
	bf.DefaultBeam = "greet"

	opts := baseOpts(t)
	run, err := NewRun(context.Background(), bf, "", opts)
	require.NoError(t, err)
	defer run.Close(context.Background())

	report, err := run.Execute(context.Background())
	require.NoError(t, err)
	require.False(t, report.Failed())

	content, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, "bonjour\n", string(content))
}

func TestRun_VarOverride(t *testing.T) {
	dir := t.TempDir()
	outFile := filepath.Join(dir, "out.txt")

	bf := NewBeamfile()
	bf.Variables = []Variable{{Name: "greeting", DefaultValue: "hello"}}
	bf.Beams["greet"] = &Beam{
		Name: "greet",
		Env:  map[string]string{"OUT_FILE": outFile},
		Run:  DefaultRunBlock("echo ${var.greeting} > $OUT_FILE"),
	}
	bf.DefaultBeam = "greet"

	opts := baseOpts(t)
	opts.VarOverrides = map[string]string{"greeting": "goodbye"}
	run, err := NewRun(context.Background(), bf, "", opts)
	require.NoError(t, err)
	defer run.Close(context.Background())

	_, err = run.Execute(context.Background())
	require.NoError(t, err)

	content, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Equal(t, "goodbye\n", string(content))
}

func TestRun_CacheHitSkipsSecondExecution(t *testing.T) {
	dir := t.TempDir()
	counterFile := filepath.Join(dir, "count.txt")
	outputFile := filepath.Join(dir, "output.txt")
	require.NoError(t, os.WriteFile(counterFile, []byte("0"), 0o644))

	bf := NewBeamfile()
	bf.Beams["build"] = &Beam{
		Name:    "build",
		Run:     DefaultRunBlock("echo run >> " + counterFile + " && echo built > " + outputFile),
		Outputs: []string{"output.txt"},
	}
	bf.DefaultBeam = "build"

	cacheDir := filepath.Join(dir, "cache")
	opts := DefaultRunOptions()
	opts.WorkingDir = dir
	opts.CacheEnabled = true
	opts.CacheDir = cacheDir

	run1, err := NewRun(context.Background(), bf, "", opts)
	require.NoError(t, err)
	report1, err := run1.Execute(context.Background())
	require.NoError(t, err)
	require.NoError(t, run1.Close(context.Background()))
	b1, _ := report1.Beam("build")
	assert.Equal(t, Succeeded, b1.State)
	assert.False(t, b1.CacheHit)

	run2, err := NewRun(context.Background(), bf, "", opts)
	require.NoError(t, err)
	report2, err := run2.Execute(context.Background())
	require.NoError(t, err)
	require.NoError(t, run2.Close(context.Background()))
	b2, _ := report2.Beam("build")
	assert.Equal(t, SkippedCached, b2.State)
	assert.True(t, b2.CacheHit)

	content, err := os.ReadFile(counterFile)
	require.NoError(t, err)
	assert.Equal(t, "0run\n", string(content))
}

func TestRun_CacheInvalidatedWhenOutputModified(t *testing.T) {
	dir := t.TempDir()
	outputFile := filepath.Join(dir, "output.txt")

	bf := NewBeamfile()
	bf.Beams["build"] = &Beam{
		Name:    "build",
		Run:     DefaultRunBlock("echo built > " + outputFile),
		Outputs: []string{"output.txt"},
	}
	bf.DefaultBeam = "build"

	opts := DefaultRunOptions()
	opts.WorkingDir = dir
	opts.CacheEnabled = true
	opts.CacheDir = filepath.Join(dir, "cache")

	run1, err := NewRun(context.Background(), bf, "", opts)
	require.NoError(t, err)
	_, err = run1.Execute(context.Background())
	require.NoError(t, err)
	require.NoError(t, run1.Close(context.Background()))

	// Tamper with the recorded output out-of-band.
	require.NoError(t, os.WriteFile(outputFile, []byte("tampered"), 0o644))

	run2, err := NewRun(context.Background(), bf, "", opts)
	require.NoError(t, err)
	report2, err := run2.Execute(context.Background())
	require.NoError(t, err)
	require.NoError(t, run2.Close(context.Background()))

	b2, _ := report2.Beam("build")
	assert.Equal(t, Succeeded, b2.State)
	assert.False(t, b2.CacheHit)
}

func TestRun_DryRunSkipsExecution(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker.txt")

	bf := NewBeamfile()
	bf.Beams["build"] = &Beam{Name: "build", Run: DefaultRunBlock("touch " + marker)}
	bf.DefaultBeam = "build"

	opts := baseOpts(t)
	opts.DryRun = true
	run, err := NewRun(context.Background(), bf, "", opts)
	require.NoError(t, err)
	defer run.Close(context.Background())

	report, err := run.Execute(context.Background())
	require.NoError(t, err)
	b, _ := report.Beam("build")
	assert.Equal(t, Succeeded, b.State)

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_EventsEmittedForEachBeam(t *testing.T) {
	bf := NewBeamfile()
	bf.Beams["a"] = &Beam{Name: "a", Run: DefaultRunBlock("echo a")}
	bf.DefaultBeam = "a"

	rec := &eventRecorder{}
	opts := baseOpts(t)
	opts.EventSink = rec

	run, err := NewRun(context.Background(), bf, "", opts)
	require.NoError(t, err)
	defer run.Close(context.Background())

	_, err = run.Execute(context.Background())
	require.NoError(t, err)

	var sawStart, sawComplete bool
	for _, e := range rec.snapshot() {
		switch e.(type) {
		case BeamStart:
			sawStart = true
		case BeamComplete:
			sawComplete = true
		}
	}
	assert.True(t, sawStart)
	assert.True(t, sawComplete)
}

type outputRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *outputRecorder) Write(beam string, stream Stream, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, beam+":"+line)
}

func TestRun_OutputCapturedInReportAndSink(t *testing.T) {
	bf := NewBeamfile()
	bf.Beams["a"] = &Beam{Name: "a", Run: DefaultRunBlock("echo hello-from-a")}
	bf.DefaultBeam = "a"

	outRec := &outputRecorder{}
	opts := baseOpts(t)
	opts.OutputSink = outRec

	run, err := NewRun(context.Background(), bf, "", opts)
	require.NoError(t, err)
	defer run.Close(context.Background())

	report, err := run.Execute(context.Background())
	require.NoError(t, err)

	a, ok := report.Beam("a")
	require.True(t, ok)
	require.NotEmpty(t, a.Lines)
	assert.Contains(t, a.Lines[0].Line, "hello-from-a")

	outRec.mu.Lock()
	defer outRec.mu.Unlock()
	require.NotEmpty(t, outRec.lines)
	assert.Contains(t, outRec.lines[0], "hello-from-a")
}

func TestRun_TargetSelectsSubsetOfBeams(t *testing.T) {
	bf := NewBeamfile()
	bf.Beams["a"] = &Beam{Name: "a", Run: DefaultRunBlock("echo a")}
	bf.Beams["b"] = &Beam{Name: "b", Run: DefaultRunBlock("echo b")}

	opts := baseOpts(t)
	run, err := NewRun(context.Background(), bf, "a", opts)
	require.NoError(t, err)
	defer run.Close(context.Background())

	report, err := run.Execute(context.Background())
	require.NoError(t, err)

	_, ok := report.Beam("a")
	assert.True(t, ok)
	_, ok = report.Beam("b")
	assert.False(t, ok)
}

func TestRun_ReportHasUniqueID(t *testing.T) {
	bf := NewBeamfile()
	bf.Beams["a"] = &Beam{Name: "a", Run: DefaultRunBlock("echo a")}
	bf.DefaultBeam = "a"

	opts := baseOpts(t)
	run, err := NewRun(context.Background(), bf, "", opts)
	require.NoError(t, err)
	defer run.Close(context.Background())

	report1, err := run.Execute(context.Background())
	require.NoError(t, err)

	run2, err := NewRun(context.Background(), bf, "", opts)
	require.NoError(t, err)
	defer run2.Close(context.Background())
	report2, err := run2.Execute(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, report1.ID, report2.ID)
}

func TestNewRun_ValidatesOptions(t *testing.T) {
	bf := NewBeamfile()
	bf.Beams["a"] = &Beam{Name: "a", Run: DefaultRunBlock("echo a")}
	bf.DefaultBeam = "a"

	opts := RunOptions{}
	_, err := NewRun(context.Background(), bf, "", opts)
	require.Error(t, err)

	var configErr *ConfigError
	require.ErrorAs(t, err, &configErr)
}

func TestNewRun_UnknownTarget(t *testing.T) {
	bf := NewBeamfile()
	bf.Beams["a"] = &Beam{Name: "a", Run: DefaultRunBlock("echo a")}

	opts := baseOpts(t)
	_, err := NewRun(context.Background(), bf, "missing", opts)
	require.Error(t, err)
}

func TestRun_MaxParallelismLimitsRunningBeams(t *testing.T) {
	bf := NewBeamfile()
	bf.Beams["a"] = &Beam{Name: "a", Run: DefaultRunBlock("sleep 0.05")}
	bf.Beams["b"] = &Beam{Name: "b", Run: DefaultRunBlock("sleep 0.05")}
	bf.Beams["c"] = &Beam{Name: "c", DependsOn: []string{"a", "b"}, Run: DefaultRunBlock("echo c")}
	bf.DefaultBeam = "c"

	opts := baseOpts(t)
	opts.MaxParallelism = 1

	run, err := NewRun(context.Background(), bf, "", opts)
	require.NoError(t, err)
	defer run.Close(context.Background())

	start := time.Now()
	report, err := run.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Failed())
	// Serialized execution of two 50ms beams takes at least ~100ms.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
