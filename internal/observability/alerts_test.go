package observability

import (
	"os"
	"path/filepath"
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

type alertRules struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestClinicAlertRules(t *testing.T) {
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "clinic.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read alert file: %v", err)
	}

	var rules alertRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		t.Fatalf("failed to unmarshal alert file: %v", err)
	}

	var clinic *alertGroup
	for i := range rules.Groups {
		if rules.Groups[i].Name == "clinic" {
			clinic = &rules.Groups[i]
			break
		}
	}
	if clinic == nil {
		t.Fatal("clinic alert group missing")
	}

	expected := map[string]string{
		"HighErrorRate":          "critical",
		"CloseRejectionsSpike":   "warning",
		"ArrearsSnapshotFailing": "warning",
	}
	if len(clinic.Rules) != len(expected) {
		t.Fatalf("expected %d rules, got %d", len(expected), len(clinic.Rules))
	}
	for _, rule := range clinic.Rules {
		severity, ok := expected[rule.Alert]
		if !ok {
			t.Fatalf("unexpected rule %q", rule.Alert)
		}
		if rule.Labels["severity"] != severity {
			t.Fatalf("rule %s severity mismatch: %s", rule.Alert, rule.Labels["severity"])
		}
		if rule.Expr == "" || rule.For == "" {
			t.Fatalf("rule %s must define expr and for", rule.Alert)
		}
		if rule.Annotations["summary"] == "" || rule.Annotations["description"] == "" {
			t.Fatalf("rule %s must include summary and description annotations", rule.Alert)
		}
	}
}
