package kb

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	entries, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected built-in entries")
	}
	for _, e := range entries {
		if _, ok := ParseCategory(string(e.Category)); !ok {
			t.Errorf("entry %s: invalid category %q", e.ID, e.Category)
		}
		if e.RecommendedAction == "" {
			t.Errorf("entry %s: empty recommended action", e.ID)
		}
	}
}

func TestParse_JSONWithComments(t *testing.T) {
	t.Parallel()

	doc := []byte(`[
		// login problems
		{
			"id": "KB-1",
			"title": "Locked out",
			"category": "login",
			"severity": "HIGH",
			"symptoms": ["account locked",],
			"recommended_action": "Unlock it",
		},
	]`)
	entries, err := Parse(doc, FormatJSON)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Category != CategoryLogin {
		t.Errorf("Category = %q, want %q", entries[0].Category, CategoryLogin)
	}
	if entries[0].Severity != SeverityHigh {
		t.Errorf("Severity = %q, want %q", entries[0].Severity, SeverityHigh)
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "unknown category",
			doc:     "- {id: A, title: T, category: Shipping, severity: Low}",
			wantErr: `unknown category "Shipping"`,
		},
		{
			name:    "unknown severity",
			doc:     "- {id: A, title: T, category: Bug, severity: Urgent}",
			wantErr: `unknown severity "Urgent"`,
		},
		{
			name:    "duplicate id",
			doc:     "- {id: A, title: T, category: Bug, severity: Low}\n- {id: A, title: U, category: Bug, severity: Low}",
			wantErr: "duplicate id",
		},
		{
			name:    "missing id",
			doc:     "- {title: T, category: Bug, severity: Low}",
			wantErr: "id is required",
		},
		{
			name:    "not a list",
			doc:     "id: A",
			wantErr: "decode yaml",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.doc), FormatYAML)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "kb.yml")
	doc := "- id: KB-9\n  title: Export fails\n  category: Bug\n  severity: Medium\n  symptoms: [csv export error]\n  recommended_action: Retry\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	entries, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "KB-9" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := LoadFile(filepath.Join(dir, "kb.txt")); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if _, err := LoadFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Category
		ok   bool
	}{
		{"Billing", CategoryBilling, true},
		{" billing ", CategoryBilling, true},
		{"LOGIN", CategoryLogin, true},
		{"question/how-to", CategoryQuestion, true},
		{"How-To", CategoryQuestion, true},
		{"Shipping", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseCategory(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseCategory(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseSeverity(t *testing.T) {
	t.Parallel()

	if got, ok := ParseSeverity("critical"); !ok || got != SeverityCritical {
		t.Errorf("ParseSeverity(critical) = (%q, %v)", got, ok)
	}
	if _, ok := ParseSeverity("urgent"); ok {
		t.Error("ParseSeverity(urgent) should fail")
	}
}
