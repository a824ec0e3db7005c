package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/c360studio/semcheck/config"
	"github.com/c360studio/semcheck/report"
	"github.com/c360studio/semcheck/rule"

	// Register the python front end for fixture extraction.
	_ "github.com/c360studio/semcheck/fact/python"
)

const asyncRuleset = `version: 1
capabilities:
  - pattern: asyncio.*
    requires_async: true
  - pattern: requests.*
    requires_async: false
rules:
  - id: mixed-capability
    category: decision-logic
    kind: decision-logic
    severity: important
    message: "{unit} mixes async-requiring and sync-only calls"
    params:
      outcome: mixed-capability
  - id: missing-async
    category: decision-logic
    kind: decision-logic
    severity: critical
    message: "synchronous {unit} makes async-requiring calls: {detail}"
    requires: [mixed-capability]
    params:
      outcome: missing-async
  - id: unnecessary-async
    category: decision-logic
    kind: decision-logic
    severity: minor
    message: "async {unit} only makes sync-only calls"
    requires: [mixed-capability]
    params:
      outcome: unnecessary-async
`

func testSnapshot(t *testing.T, ruleset string) *rule.Snapshot {
	t.Helper()
	snap, err := rule.Load(strings.NewReader(ruleset))
	if err != nil {
		t.Fatalf("load ruleset: %v", err)
	}
	return snap
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.NoCache = true
	cfg.Workers = 2
	return cfg
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return root
}

func findingsFor(rep *report.ComplianceReport, ruleID string) []report.Finding {
	var out []report.Finding
	for _, f := range rep.Findings {
		if f.RuleID == ruleID {
			out = append(out, f)
		}
	}
	return out
}

func TestRun_MissingAsync(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"worker.py": `import asyncio

def tick():
    asyncio.sleep(1)
`,
	})

	rep, err := Run(context.Background(), testConfig(), testSnapshot(t, asyncRuleset), root, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rep.Findings) != 1 {
		t.Fatalf("Findings = %+v, want exactly one", rep.Findings)
	}
	f := rep.Findings[0]
	if f.RuleID != "missing-async" {
		t.Errorf("RuleID = %q, want missing-async", f.RuleID)
	}
	if f.Severity != rule.SeverityCritical {
		t.Errorf("Severity = %q, want critical", f.Severity)
	}
	if f.File != "worker.py" {
		t.Errorf("File = %q, want worker.py", f.File)
	}
	if rep.Gate != report.GateFail {
		t.Errorf("Gate = %q, want fail", rep.Gate)
	}
}

func TestRun_SingleFileTarget(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"worker.py": `import asyncio

def tick():
    asyncio.sleep(1)
`,
		"other.py": `import asyncio

def tock():
    asyncio.sleep(2)
`,
	})

	target := filepath.Join(root, "worker.py")
	rep, err := Run(context.Background(), testConfig(), testSnapshot(t, asyncRuleset), target, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rep.Findings) != 1 {
		t.Fatalf("Findings = %+v, want exactly one from the target file", rep.Findings)
	}
	f := rep.Findings[0]
	if f.RuleID != "missing-async" {
		t.Errorf("RuleID = %q, want missing-async", f.RuleID)
	}
	if f.File != "worker.py" {
		t.Errorf("File = %q, want worker.py", f.File)
	}
}

func TestRun_AsyncNeutral(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"handler.py": `async def handle(event):
    record(event)
`,
	})

	rep, err := Run(context.Background(), testConfig(), testSnapshot(t, asyncRuleset), root, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rep.Findings) != 0 {
		t.Errorf("Findings = %+v, want none for async unit with empty capability set", rep.Findings)
	}
	if rep.Gate != report.GatePass {
		t.Errorf("Gate = %q, want pass", rep.Gate)
	}
}

func TestRun_MixedSupersedesMissingAsync(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"mixed.py": `import asyncio
import requests

def sync_mixed():
    asyncio.sleep(1)
    requests.get("http://example.test")
`,
	})

	rep, err := Run(context.Background(), testConfig(), testSnapshot(t, asyncRuleset), root, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := findingsFor(rep, "mixed-capability"); len(got) != 1 {
		t.Errorf("mixed-capability findings = %d, want 1", len(got))
	}
	if got := findingsFor(rep, "missing-async"); len(got) != 0 {
		t.Errorf("missing-async findings = %+v, want none (superseded)", got)
	}
}

func TestRun_GateFailsOnImportantFindings(t *testing.T) {
	files := make(map[string]string, 3)
	for i := 0; i < 3; i++ {
		files[fmt.Sprintf("mod%d.py", i)] = `import asyncio
import requests

def work():
    asyncio.sleep(1)
    requests.get("http://example.test")
`
	}
	root := writeFiles(t, files)

	rep, err := Run(context.Background(), testConfig(), testSnapshot(t, asyncRuleset), root, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.Summary.Critical != 0 {
		t.Errorf("Critical = %d, want 0", rep.Summary.Critical)
	}
	if rep.Summary.Important != 3 {
		t.Errorf("Important = %d, want 3", rep.Summary.Important)
	}
	if rep.Gate != report.GateFail {
		t.Errorf("Gate = %q, want fail at default threshold 0", rep.Gate)
	}
}

func TestRun_PartialParseFailure(t *testing.T) {
	files := make(map[string]string, 10)
	for i := 0; i < 9; i++ {
		files[fmt.Sprintf("ok%d.py", i)] = `import asyncio

def tick():
    asyncio.sleep(1)
`
	}
	files["broken.py"] = "def broken(:\n"
	root := writeFiles(t, files)

	rep, err := Run(context.Background(), testConfig(), testSnapshot(t, asyncRuleset), root, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.Incomplete {
		t.Error("Incomplete = true, isolated parse failures must not mark the run incomplete")
	}
	unparseable := findingsFor(rep, rule.ReservedID)
	if len(unparseable) != 1 {
		t.Fatalf("unparseable findings = %+v, want exactly one", unparseable)
	}
	if unparseable[0].File != "broken.py" {
		t.Errorf("unparseable File = %q, want broken.py", unparseable[0].File)
	}
	if got := findingsFor(rep, "missing-async"); len(got) != 9 {
		t.Errorf("missing-async findings = %d, want 9 (one per parsed file)", len(got))
	}
}

func TestRun_Idempotent(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"a.py": `import asyncio

def first():
    asyncio.sleep(1)
`,
		"b.py": `import requests

async def second():
    requests.get("http://example.test")
`,
	})

	render := func() []byte {
		rep, err := Run(context.Background(), testConfig(), testSnapshot(t, asyncRuleset), root, nil)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		var buf bytes.Buffer
		if err := report.RenderJSON(&buf, rep); err != nil {
			t.Fatalf("RenderJSON: %v", err)
		}
		return buf.Bytes()
	}

	first := render()
	for i := 0; i < 3; i++ {
		if next := render(); !bytes.Equal(first, next) {
			t.Fatalf("run %d produced a different report:\n%s\nvs\n%s", i+2, first, next)
		}
	}
}

func TestRun_RuleAdditionIsMonotonic(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"svc.py": `import asyncio

def tick():
    asyncio.sleep(1)

def tock(a, b, c, d):
    asyncio.sleep(2)
`,
	})

	extended := asyncRuleset + `  - id: too-many-params
    category: structure
    kind: expr
    severity: minor
    message: "{unit} takes too many parameters"
    params:
      expression: "size(unit.params) > 3"
`

	base, err := Run(context.Background(), testConfig(), testSnapshot(t, asyncRuleset), root, nil)
	if err != nil {
		t.Fatalf("Run base: %v", err)
	}
	withRule, err := Run(context.Background(), testConfig(), testSnapshot(t, extended), root, nil)
	if err != nil {
		t.Fatalf("Run extended: %v", err)
	}

	added := findingsFor(withRule, "too-many-params")
	if len(added) != 1 {
		t.Fatalf("too-many-params findings = %+v, want 1", added)
	}
	if len(withRule.Findings)-len(base.Findings) != len(added) {
		t.Errorf("rule addition changed other findings: base %d, extended %d, added %d",
			len(base.Findings), len(withRule.Findings), len(added))
	}
	for _, f := range base.Findings {
		if len(findingsFor(withRule, f.RuleID)) == 0 {
			t.Errorf("finding for %q disappeared after adding an unrelated rule", f.RuleID)
		}
	}
}

func TestRun_CancelledBeforeDispatch(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"a.py": "def a():\n    pass\n",
		"b.py": "def b():\n    pass\n",
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := testConfig()
	cfg.GracePeriod = 50 * time.Millisecond
	rep, err := Run(ctx, cfg, testSnapshot(t, asyncRuleset), root, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.Incomplete {
		t.Error("Incomplete = false, want true when cancelled before dispatch completed")
	}
}

func TestRun_EvaluationErrorQuarantinesRule(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"svc.py": `import asyncio

def tick():
    asyncio.sleep(1)
`,
	})

	// unit.params[0] errors at runtime on parameterless units; the rule
	// must be disabled without touching the decision-logic findings.
	faulty := asyncRuleset + `  - id: first-param-name
    category: structure
    kind: expr
    severity: minor
    message: "{unit} first parameter misnamed"
    params:
      expression: 'unit.params[0] == "ctx"'
`

	rep, err := Run(context.Background(), testConfig(), testSnapshot(t, faulty), root, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := findingsFor(rep, "first-param-name"); len(got) != 0 {
		t.Errorf("faulty rule produced findings: %+v", got)
	}
	if got := findingsFor(rep, "missing-async"); len(got) != 1 {
		t.Errorf("missing-async findings = %d, want 1 despite the faulty rule", len(got))
	}
}

func TestRun_FileTimeoutBecomesUnparseable(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"slow.py": "def slow():\n    pass\n",
	})

	cfg := testConfig()
	cfg.FileTimeout = time.Nanosecond
	rep, err := Run(context.Background(), cfg, testSnapshot(t, asyncRuleset), root, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	unparseable := findingsFor(rep, rule.ReservedID)
	if len(unparseable) != 1 {
		t.Fatalf("unparseable findings = %+v, want one for the timed-out file", unparseable)
	}
	if unparseable[0].Severity != rule.SeverityMinor {
		t.Errorf("Severity = %q, want minor", unparseable[0].Severity)
	}
	if rep.Incomplete {
		t.Error("timeouts are per-file and recoverable, run must not be incomplete")
	}
}

func TestRun_CacheHitYieldsIdenticalFindings(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"svc.py": `import asyncio

def tick():
    asyncio.sleep(1)
`,
	})

	cfg := testConfig()
	cfg.NoCache = false
	cfg.CachePath = filepath.Join(t.TempDir(), "facts.db")

	cold, err := Run(context.Background(), cfg, testSnapshot(t, asyncRuleset), root, nil)
	if err != nil {
		t.Fatalf("cold run: %v", err)
	}
	warm, err := Run(context.Background(), cfg, testSnapshot(t, asyncRuleset), root, nil)
	if err != nil {
		t.Fatalf("warm run: %v", err)
	}

	var coldJSON, warmJSON bytes.Buffer
	if err := report.RenderJSON(&coldJSON, cold); err != nil {
		t.Fatalf("render cold: %v", err)
	}
	if err := report.RenderJSON(&warmJSON, warm); err != nil {
		t.Fatalf("render warm: %v", err)
	}
	if !bytes.Equal(coldJSON.Bytes(), warmJSON.Bytes()) {
		t.Errorf("cache hit changed the report:\n%s\nvs\n%s", coldJSON.String(), warmJSON.String())
	}
}

func TestRun_ExcludeGlob(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"src/app.py":       "import asyncio\n\ndef go():\n    asyncio.sleep(1)\n",
		"generated/gen.py": "import asyncio\n\ndef go():\n    asyncio.sleep(1)\n",
	})

	cfg := testConfig()
	cfg.Exclude = []string{"generated/**"}
	rep, err := Run(context.Background(), cfg, testSnapshot(t, asyncRuleset), root, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, f := range rep.Findings {
		if strings.HasPrefix(f.File, "generated/") {
			t.Errorf("excluded file was analyzed: %+v", f)
		}
	}
	if got := findingsFor(rep, "missing-async"); len(got) != 1 {
		t.Errorf("missing-async findings = %d, want 1 from src only", len(got))
	}
}
