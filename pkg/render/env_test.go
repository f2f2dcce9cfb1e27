package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRewriteEnvPreservesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	original := `# instance env
POSTGRES_PASSWORD=oldpw
JWT_SECRET=oldsecret

# unrelated
KEEP_ME=yes
`
	if err := os.WriteFile(path, []byte(original), 0o600); err != nil {
		t.Fatal(err)
	}

	err := RewriteEnv(path, Vars{
		"POSTGRES_PASSWORD": "newpw",
		"NEW_VAR":           "added",
	})
	if err != nil {
		t.Fatalf("RewriteEnv: %v", err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(out)

	if !strings.Contains(text, "POSTGRES_PASSWORD=newpw") {
		t.Errorf("password not rewritten:\n%s", text)
	}
	if !strings.Contains(text, "JWT_SECRET=oldsecret") {
		t.Errorf("untouched variable lost:\n%s", text)
	}
	if !strings.Contains(text, "# instance env") || !strings.Contains(text, "# unrelated") {
		t.Errorf("comments lost:\n%s", text)
	}
	if !strings.Contains(text, "KEEP_ME=yes") {
		t.Errorf("unrelated variable lost:\n%s", text)
	}
	if !strings.Contains(text, "NEW_VAR=added") {
		t.Errorf("missing variable not appended:\n%s", text)
	}

	// Ordering preserved: the comment stays above the password line.
	if strings.Index(text, "# instance env") > strings.Index(text, "POSTGRES_PASSWORD") {
		t.Errorf("line order changed:\n%s", text)
	}
}

func TestReadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `# comment
A=1
B = spaced
MALFORMED

C=has=equals
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	vars, err := ReadEnv(path)
	if err != nil {
		t.Fatalf("ReadEnv: %v", err)
	}
	if vars["A"] != "1" {
		t.Errorf("A = %q", vars["A"])
	}
	if vars["B"] != "spaced" {
		t.Errorf("B = %q", vars["B"])
	}
	if vars["C"] != "has=equals" {
		t.Errorf("C = %q", vars["C"])
	}
	if _, ok := vars["MALFORMED"]; ok {
		t.Error("line without = must be skipped")
	}
}
