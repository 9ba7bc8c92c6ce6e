package prompts

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolverEmbeddedDefault(t *testing.T) {
	r := NewResolver(nil)
	r.Register(EmbeddedPrompt{
		Key:  "phases.analyze.system",
		Text: "analyze the chapter",
	})

	resolved, err := r.Resolve("phases.analyze.system", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.Text != "analyze the chapter" {
		t.Errorf("Text = %q", resolved.Text)
	}
	if resolved.IsOverride {
		t.Error("embedded default should not be marked as override")
	}

	if _, err := r.Resolve("phases.missing.system", ""); err == nil {
		t.Error("unknown key should error")
	}
	if _, err := r.Resolve("../../etc/passwd", ""); err == nil {
		t.Error("invalid key should error")
	}
}

func TestResolverBookOverride(t *testing.T) {
	r := NewResolver(nil)
	r.Register(EmbeddedPrompt{Key: "phases.analyze.system", Text: "default text"})

	bookDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(bookDir, "prompts"), 0o755); err != nil {
		t.Fatal(err)
	}
	overridePath := OverridePath(bookDir, "phases.analyze.system")
	if err := os.WriteFile(overridePath, []byte("custom text for this book\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	resolved, err := r.Resolve("phases.analyze.system", bookDir)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !resolved.IsOverride {
		t.Error("override file should win")
	}
	if resolved.Text != "custom text for this book" {
		t.Errorf("Text = %q", resolved.Text)
	}

	// Empty override file falls back to the embedded default.
	if err := os.WriteFile(overridePath, []byte("  \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	resolved, err = r.Resolve("phases.analyze.system", bookDir)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.IsOverride || resolved.Text != "default text" {
		t.Errorf("blank override should fall back, got %+v", resolved)
	}
}

func TestRegisterComputesHashAndVariables(t *testing.T) {
	r := NewResolver(nil)
	r.Register(EmbeddedPrompt{Key: "k.v", Text: "Hello {{.Name}}, {{.Count}} items, {{.Name}} again"})

	p, ok := r.GetEmbedded("k.v")
	if !ok {
		t.Fatal("prompt not registered")
	}
	if p.Hash != HashText(p.Text) {
		t.Error("hash should be computed on registration")
	}
	want := []string{"Count", "Name"}
	if len(p.Variables) != len(want) {
		t.Fatalf("Variables = %v, want %v", p.Variables, want)
	}
	for i := range want {
		if p.Variables[i] != want[i] {
			t.Errorf("Variables[%d] = %q, want %q", i, p.Variables[i], want[i])
		}
	}
}

func TestExtractVariables(t *testing.T) {
	vars := ExtractVariables("{{ .Book.Title }} by {{.Author}}")
	if len(vars) != 2 || vars[0] != "Author" || vars[1] != "Book.Title" {
		t.Errorf("ExtractVariables = %v", vars)
	}
	if vars := ExtractVariables("no variables here"); len(vars) != 0 {
		t.Errorf("expected none, got %v", vars)
	}
}
