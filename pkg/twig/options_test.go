package twig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Options
		wantErr string
	}{
		{name: "empty document", input: ""},
		{
			name: "all fields",
			input: `strict_variables: true
strict_types: true
debug: true
template_dirs: [templates, shared]
autoescape: html
`,
			want: Options{
				StrictVariables: true,
				StrictTypes:     true,
				Debug:           true,
				TemplateDirs:    []string{"templates", "shared"},
				Autoescape:      "html",
			},
		},
		{name: "unknown key", input: "strict: true\n", wantErr: "field strict not found"},
		{name: "bad strategy", input: "autoescape: js\n", wantErr: "autoescape must be one of"},
		{name: "empty dir", input: "template_dirs: ['']\n", wantErr: "template_dirs[0] must not be empty"},
		{name: "duplicate dirs", input: "template_dirs: [a, a]\n", wantErr: "duplicate value: a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOptions(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("options mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	err := Options{TemplateDirs: []string{"", ""}, Autoescape: "js"}.Validate()
	if err == nil {
		t.Fatal("want an error")
	}
	for _, want := range []string{"template_dirs[0]", "template_dirs[1]", "duplicate", "autoescape"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("%q is missing from %v", want, err)
		}
	}
}

func TestLoadOptions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "twig.yaml")
	if err := os.WriteFile(path, []byte("debug: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	o, err := LoadOptions(path)
	if err != nil {
		t.Fatal(err)
	}
	if !o.Debug {
		t.Error("debug was not read")
	}

	if _, err := LoadOptions(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("want an error for a missing file")
	}
}

func TestTemplateDirs(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.twig"), []byte("Hello {{ name }}!"), 0o644); err != nil {
		t.Fatal(err)
	}
	env, err := New(Options{TemplateDirs: []string{filepath.Join(dir, "missing"), dir}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := env.Render("hello.twig", map[string]any{"name": "disk"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hello disk!" {
		t.Errorf("got %q", got)
	}
}
