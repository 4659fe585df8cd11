package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

func loadAlertRules(t *testing.T) alertSpec {
	t.Helper()
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "tradebook.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read alert file: %v", err)
	}
	var spec alertSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		t.Fatalf("failed to unmarshal alert file: %v", err)
	}
	return spec
}

func TestTradebookAlertRules(t *testing.T) {
	spec := loadAlertRules(t)

	if len(spec.Groups) == 0 {
		t.Fatal("expected at least one alert group")
	}

	var group *alertGroup
	for i := range spec.Groups {
		if spec.Groups[i].Name == "tradebook" {
			group = &spec.Groups[i]
			break
		}
	}
	if group == nil {
		t.Fatal("tradebook alert group missing")
	}

	expected := map[string]struct {
		severity string
		runbook  string
	}{
		"SaleFailureRate":     {severity: "critical", runbook: "docs/runbook.md#sale-failures"},
		"HighLatency":         {severity: "warning", runbook: "docs/runbook.md#high-latency"},
		"ReconcileDrift":      {severity: "critical", runbook: "docs/runbook.md#reconcile-drift"},
		"ReconcileJobFailing": {severity: "warning", runbook: "docs/runbook.md#reconcile-failing"},
	}

	if len(group.Rules) != len(expected) {
		t.Fatalf("expected %d rules, got %d", len(expected), len(group.Rules))
	}

	for _, rule := range group.Rules {
		want, ok := expected[rule.Alert]
		if !ok {
			t.Fatalf("unexpected rule %q", rule.Alert)
		}
		if rule.Labels["severity"] != want.severity {
			t.Fatalf("rule %s severity mismatch: %s", rule.Alert, rule.Labels["severity"])
		}
		if rule.Annotations["runbook"] != want.runbook {
			t.Fatalf("rule %s runbook mismatch: %s", rule.Alert, rule.Annotations["runbook"])
		}
		if rule.Annotations["summary"] == "" || rule.Annotations["description"] == "" {
			t.Fatalf("rule %s must include summary and description annotations", rule.Alert)
		}
		if rule.Expr == "" {
			t.Fatalf("rule %s must define an expression", rule.Alert)
		}
		if rule.For == "" {
			t.Fatalf("rule %s must define a hold duration", rule.Alert)
		}
	}
}

var metricName = regexp.MustCompile(`tradebook_[a-z_]+`)

// Every series an alert reads must be exported by Metrics.
func TestAlertExpressionsReferenceExportedMetrics(t *testing.T) {
	m := NewMetrics()
	m.SaleRecorded("success")
	m.PaymentRecorded("success")
	m.StockMoved("STOCK_OUT")
	_ = m.Jobs().Track("reconcile:ledger").End(nil)
	_ = m.Jobs().Track("reconcile:ledger").End(errors.New("boom"))
	m.Jobs().AddDrift("ledger", 1)
	m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/sales", nil))

	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	exported := map[string]bool{}
	for _, f := range families {
		exported[f.GetName()] = true
	}

	for _, group := range loadAlertRules(t).Groups {
		for _, rule := range group.Rules {
			for _, name := range metricName.FindAllString(rule.Expr, -1) {
				base := strings.TrimSuffix(strings.TrimSuffix(strings.TrimSuffix(name, "_bucket"), "_sum"), "_count")
				if !exported[base] {
					t.Fatalf("rule %s reads %s which is not exported", rule.Alert, name)
				}
			}
		}
	}
}

func TestAlertRunbookAnchorsExist(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "docs", "runbook.md"))
	if err != nil {
		t.Fatalf("read runbook: %v", err)
	}
	anchors := map[string]bool{}
	for _, line := range strings.Split(string(data), "\n") {
		if heading, ok := strings.CutPrefix(line, "## "); ok {
			anchors[strings.ReplaceAll(strings.ToLower(strings.TrimSpace(heading)), " ", "-")] = true
		}
	}
	for _, group := range loadAlertRules(t).Groups {
		for _, rule := range group.Rules {
			_, anchor, _ := strings.Cut(rule.Annotations["runbook"], "#")
			if !anchors[anchor] {
				t.Fatalf("rule %s points at missing runbook section %q", rule.Alert, anchor)
			}
		}
	}
}
