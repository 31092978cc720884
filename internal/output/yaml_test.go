package output

import (
	"bytes"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestYAMLFormatter_FormatReport(t *testing.T) {
	var buf bytes.Buffer
	if err := NewYAMLFormatter(nil).FormatReport(&buf, sampleReport()); err != nil {
		t.Fatalf("FormatReport() error = %v", err)
	}

	var doc reportDoc
	if err := yaml.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not valid YAML: %v\n%s", err, buf.String())
	}

	if doc.Summary.Successful != 1 || doc.Summary.Failed != 1 {
		t.Errorf("unexpected summary: %+v", doc.Summary)
	}
	if len(doc.Targets) != 2 || doc.Targets[0].Address != "10.0.0.1" {
		t.Errorf("unexpected targets: %+v", doc.Targets)
	}

	out := buf.String()
	for _, want := range []string{"runId: run-1", "byCause:", "auth: 1", "reason: expected 4 fields, got 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	for _, secret := range []string{"0ldS3cret", "n3wS3cret"} {
		if strings.Contains(out, secret) {
			t.Errorf("YAML report leaks %q", secret)
		}
	}
}

func TestYAMLFormatter_EmptyReport(t *testing.T) {
	var buf bytes.Buffer
	if err := NewYAMLFormatter(nil).FormatReport(&buf, Report{}); err != nil {
		t.Fatalf("FormatReport() error = %v", err)
	}
	if !strings.Contains(buf.String(), "targets: []") {
		t.Errorf("empty report should list no targets:\n%s", buf.String())
	}
}
