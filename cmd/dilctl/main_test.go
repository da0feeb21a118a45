package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cart144/dil/pkg/models"
)

const validSpec = `DIL:spec v0
system "demo" {
  capabilities {
    emit_structured_report
  }
  intents {
    intent I1 {
      validations: [V1]
    }
  }
  validations {
    validate V1 {
    }
  }
}
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRunValidateValid(t *testing.T) {
	path := writeTemp(t, "spec.dil", validSpec)
	var out, errOut bytes.Buffer
	code := run([]string{"validate", path}, &out, &errOut)
	if code != models.ExitOK {
		t.Fatalf("exit: %d, stderr: %s", code, errOut.String())
	}
	var rep models.CanonicalReport
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if rep.State != models.StateValid || len(rep.Errors) != 0 {
		t.Fatalf("report: %#v", rep)
	}
}

func TestRunValidateInvalid(t *testing.T) {
	path := writeTemp(t, "spec.dil", "DIL:spec v0\nsystem \"demo\" {\n  change {\n    swap in an LRU\n  }\n}\n")
	var out, errOut bytes.Buffer
	code := run([]string{"validate", path}, &out, &errOut)
	if code != models.ExitInvalid {
		t.Fatalf("exit: %d", code)
	}
	if !strings.Contains(out.String(), models.CodeImplementationLeak) {
		t.Fatalf("output: %s", out.String())
	}
}

func TestRunValidateUnreadableFile(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"validate", filepath.Join(t.TempDir(), "missing.dil")}, &out, &errOut)
	if code != models.ExitInvalid {
		t.Fatalf("exit: %d", code)
	}
	if !strings.Contains(out.String(), models.CodeParseError) {
		t.Fatalf("output: %s", out.String())
	}
}

func TestRunValidateDeterministicOutput(t *testing.T) {
	path := writeTemp(t, "spec.dil", validSpec)
	var a, b bytes.Buffer
	_ = run([]string{"validate", path}, &a, &b)
	var c, d bytes.Buffer
	_ = run([]string{"validate", path}, &c, &d)
	if a.String() != c.String() {
		t.Fatalf("output not byte-identical:\n%s\n---\n%s", a.String(), c.String())
	}
}

func TestRunVerify(t *testing.T) {
	specPath := writeTemp(t, "spec.dil", validSpec)
	target := writeTemp(t, "present.txt", "hello")
	checks := []models.CheckSpec{
		{CheckID: "c1", Capability: "check_file_exists", Predicate: "path=" + target},
	}
	raw, err := json.Marshal(checks)
	if err != nil {
		t.Fatalf("marshal checks: %v", err)
	}
	checksPath := writeTemp(t, "checks.json", string(raw))

	var out, errOut bytes.Buffer
	code := run([]string{"verify", "--spec", specPath, "--receipt", "ref-1", "--checks", checksPath}, &out, &errOut)
	if code != models.ExitOK {
		t.Fatalf("exit: %d, stderr: %s", code, errOut.String())
	}
	var receipt models.VerificationReceipt
	if err := json.Unmarshal(out.Bytes(), &receipt); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if receipt.State != models.StateVerified || receipt.ValidationReceiptRef != "ref-1" {
		t.Fatalf("receipt: %#v", receipt)
	}
	if receipt.ReceiptVersion != models.ReceiptVersion {
		t.Fatalf("receipt version: %q", receipt.ReceiptVersion)
	}
}

func TestRunVerifyMissingFlags(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"verify"}, &out, &errOut); code != 1 {
		t.Fatalf("exit: %d", code)
	}
}

func TestRunHashSpec(t *testing.T) {
	path := writeTemp(t, "spec.dil", validSpec)
	var out, errOut bytes.Buffer
	if code := run([]string{"hash-spec", path}, &out, &errOut); code != 0 {
		t.Fatalf("exit: %d", code)
	}
	got := strings.TrimSpace(out.String())
	if got != models.SpecHash(validSpec) {
		t.Fatalf("hash: %q", got)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run([]string{"frobnicate"}, &out, &errOut); code != 1 {
		t.Fatalf("exit: %d", code)
	}
	if !strings.Contains(errOut.String(), "unknown command") {
		t.Fatalf("stderr: %s", errOut.String())
	}
}

func TestRunNoArgs(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(nil, &out, &errOut); code != 1 {
		t.Fatalf("exit: %d", code)
	}
}
