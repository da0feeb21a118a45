package dsl

import (
	"strings"
	"testing"
)

func TestParseFullSpec(t *testing.T) {
	raw := `DIL:spec v0
# top comment
system "orders" {
  about {
    handles order flow
  }
  capabilities {
    emit_structured_report
    check_http_endpoint
  }
  intents {
    intent I1 {
      validations: [V1]
    }
    intent I2 {
    }
  }
  constraints {
    constraint C1
    constraint C2
    severity: high # attaches to C2
  }
  decisions {
    decision D1 {
      supports: [I1, "I2"]
      respects: [C1]
    }
  }
  validations {
    validate V1 {
      requires_capability: "check_http_endpoint"
    }
  }
}
`
	spec := Parse(raw)
	if spec.SpecVersion != "DIL:spec v0" {
		t.Fatalf("spec version: %q", spec.SpecVersion)
	}
	if spec.SystemID != "orders" {
		t.Fatalf("system id: %q", spec.SystemID)
	}
	if len(spec.Issues) != 0 {
		t.Fatalf("unexpected issues: %#v", spec.Issues)
	}
	if len(spec.Capabilities) != 2 || spec.Capabilities[0] != "emit_structured_report" {
		t.Fatalf("capabilities: %#v", spec.Capabilities)
	}
	if len(spec.Intents) != 2 || spec.Intents[0].ID != "I1" || spec.Intents[1].ID != "I2" {
		t.Fatalf("intents: %#v", spec.Intents)
	}
	if len(spec.Constraints) != 2 {
		t.Fatalf("constraints: %#v", spec.Constraints)
	}
	if spec.Constraints[0].Severity != "" || spec.Constraints[1].Severity != "high" {
		t.Fatalf("severity should attach to most recent constraint: %#v", spec.Constraints)
	}
	if len(spec.Decisions) != 1 {
		t.Fatalf("decisions: %#v", spec.Decisions)
	}
	d := spec.Decisions[0]
	if len(d.Supports) != 2 || d.Supports[0] != "I1" || d.Supports[1] != "I2" {
		t.Fatalf("supports: %#v", d.Supports)
	}
	if len(d.Respects) != 1 || d.Respects[0] != "C1" {
		t.Fatalf("respects: %#v", d.Respects)
	}
	if len(spec.Validations) != 1 || spec.Validations[0].RequiresCapability != "check_http_endpoint" {
		t.Fatalf("validations: %#v", spec.Validations)
	}
	if !strings.Contains(spec.SectionsRaw["intents"], "validations: [V1]") {
		t.Fatalf("intents raw section missing content: %q", spec.SectionsRaw["intents"])
	}
	if !strings.Contains(spec.SectionsRaw["about"], "handles order flow") {
		t.Fatalf("about raw section missing content: %q", spec.SectionsRaw["about"])
	}
}

func TestParseMissingHeaderAndSystem(t *testing.T) {
	spec := Parse("intents {\n}\n")
	if spec.SpecVersion != "unknown" {
		t.Fatalf("expected unknown version, got %q", spec.SpecVersion)
	}
	if spec.SystemID != "unknown" {
		t.Fatalf("expected unknown system, got %q", spec.SystemID)
	}
	if len(spec.Issues) < 2 {
		t.Fatalf("expected header and system issues, got %#v", spec.Issues)
	}
}

func TestParseHeaderlessSystemLineStillRecognized(t *testing.T) {
	spec := Parse("system \"demo\" {\n}\n")
	if spec.SystemID != "demo" {
		t.Fatalf("system id: %q", spec.SystemID)
	}
	if len(spec.Issues) == 0 {
		t.Fatalf("expected missing header issue")
	}
}

func TestParseFirstDeclarationWins(t *testing.T) {
	raw := `DIL:spec v0
system "dup" {
  intents {
    intent I1
    intent I1
  }
}
`
	spec := Parse(raw)
	if len(spec.Intents) != 1 {
		t.Fatalf("expected one intent, got %#v", spec.Intents)
	}
}

func TestParseUnrecognizedSectionSkipped(t *testing.T) {
	raw := `DIL:spec v0
system "demo" {
  mystery {
    intent IX
  }
  intents {
    intent I1
  }
}
`
	spec := Parse(raw)
	if len(spec.Intents) != 1 || spec.Intents[0].ID != "I1" {
		t.Fatalf("intents: %#v", spec.Intents)
	}
	if _, ok := spec.SectionsRaw["mystery"]; ok {
		t.Fatalf("unrecognized section must not be captured")
	}
}

func TestParseStopsAfterSystemCloses(t *testing.T) {
	raw := `DIL:spec v0
system "demo" {
  intents {
    intent I1
  }
}
intents {
  intent I9
}
`
	spec := Parse(raw)
	if len(spec.Intents) != 1 {
		t.Fatalf("text after system close must be ignored: %#v", spec.Intents)
	}
}

func TestParseCommentsStripped(t *testing.T) {
	raw := "DIL:spec v0\nsystem \"demo\" { # trailing\n  capabilities {\n    cap_one # note\n  }\n}\n"
	spec := Parse(raw)
	if len(spec.Capabilities) != 1 || spec.Capabilities[0] != "cap_one" {
		t.Fatalf("capabilities: %#v", spec.Capabilities)
	}
}

func TestParseCursorIssues(t *testing.T) {
	raw := `DIL:spec v0
system "demo" {
  constraints {
    severity: high
  }
  decisions {
    supports: [I1]
  }
  validations {
    requires_capability: "x"
  }
}
`
	spec := Parse(raw)
	if len(spec.Issues) != 3 {
		t.Fatalf("expected three cursor issues, got %#v", spec.Issues)
	}
}

func TestParseNeverPanicsOnGarbage(t *testing.T) {
	inputs := []string{
		"",
		"}}}}",
		"system \"x\" {",
		"DIL:spec v0\nsystem \"x\" {\n  intents {\n    intent\n  }\n",
		strings.Repeat("{", 100),
	}
	for _, in := range inputs {
		_ = Parse(in)
	}
}
