package report

import (
	"strings"
	"testing"

	"github.com/cart144/dil/pkg/models"
)

func TestNormalizeSortsOutcomesAndTargets(t *testing.T) {
	rep := models.CanonicalReport{
		Outcomes: []models.ValidationOutcome{
			{ValidationID: "V-M3", Status: models.StatusSatisfied, Targets: []string{"decisions.D2", "decisions.D1"}},
			{ValidationID: "V-M1", Status: models.StatusSatisfied, Targets: []string{"intents.I1"}},
		},
	}
	got := Normalize(rep)
	if got.Outcomes[0].ValidationID != "V-M1" || got.Outcomes[1].ValidationID != "V-M3" {
		t.Fatalf("outcome order: %#v", got.Outcomes)
	}
	if got.Outcomes[1].Targets[0] != "decisions.D1" {
		t.Fatalf("targets not sorted: %#v", got.Outcomes[1].Targets)
	}
}

func TestNormalizeSortsErrorsByCodeThenRefs(t *testing.T) {
	rep := models.CanonicalReport{
		Errors: []models.StructuredError{
			{Code: models.CodeUntracedDecision, Refs: map[string]string{"decision": "decisions.D9"}},
			{Code: models.CodeIntentNotVerifiable, Refs: map[string]string{"intent": "intents.I2"}},
			{Code: models.CodeIntentNotVerifiable, Refs: map[string]string{"intent": "intents.I1"}},
		},
	}
	got := Normalize(rep)
	if got.Errors[0].Refs["intent"] != "intents.I1" {
		t.Fatalf("errors[0]: %#v", got.Errors[0])
	}
	if got.Errors[1].Refs["intent"] != "intents.I2" {
		t.Fatalf("errors[1]: %#v", got.Errors[1])
	}
	if got.Errors[2].Code != models.CodeUntracedDecision {
		t.Fatalf("errors[2]: %#v", got.Errors[2])
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	rep := models.CanonicalReport{
		Outcomes: []models.ValidationOutcome{
			{ValidationID: "V-M5", Targets: []string{"b", "a"}},
		},
		Errors: []models.StructuredError{
			{Code: "Z", Refs: map[string]string{"k": "v"}},
			{Code: "A", Refs: map[string]string{"k": "v"}},
		},
	}
	_ = Normalize(rep)
	if rep.Outcomes[0].Targets[0] != "b" {
		t.Fatalf("caller targets mutated: %#v", rep.Outcomes[0].Targets)
	}
	if rep.Errors[0].Code != "Z" {
		t.Fatalf("caller errors reordered: %#v", rep.Errors)
	}
}

func TestNormalizeDefaultsEmptyCollections(t *testing.T) {
	rep := models.CanonicalReport{
		Outcomes: []models.ValidationOutcome{{ValidationID: "V-M1"}},
		Errors:   []models.StructuredError{{Code: "X"}},
	}
	got := Normalize(rep)
	if got.Outcomes[0].Targets == nil {
		t.Fatalf("targets must default to an empty slice")
	}
	if got.Errors[0].Refs == nil {
		t.Fatalf("refs must default to an empty map")
	}
}

func TestEmitIsByteStableAcrossAccumulationOrder(t *testing.T) {
	a := models.CanonicalReport{
		SpecVersion: "DIL:spec v0",
		SystemID:    "demo",
		State:       models.StateInvalid,
		Outcomes: []models.ValidationOutcome{
			{ValidationID: "V-M5", Status: models.StatusUnsatisfied, Targets: []string{"system"}},
			{ValidationID: "V-M1", Status: models.StatusSatisfied, Targets: []string{"intents.I2", "intents.I1"}},
		},
		Errors: []models.StructuredError{
			{Code: models.CodeImplementationLeak, Refs: map[string]string{"validation": "V-M5", "constraint": "constraints.C1"}},
		},
	}
	b := models.CanonicalReport{
		SpecVersion: "DIL:spec v0",
		SystemID:    "demo",
		State:       models.StateInvalid,
		Outcomes: []models.ValidationOutcome{
			{ValidationID: "V-M1", Status: models.StatusSatisfied, Targets: []string{"intents.I1", "intents.I2"}},
			{ValidationID: "V-M5", Status: models.StatusUnsatisfied, Targets: []string{"system"}},
		},
		Errors: []models.StructuredError{
			{Code: models.CodeImplementationLeak, Refs: map[string]string{"constraint": "constraints.C1", "validation": "V-M5"}},
		},
	}
	sa, err := Emit(a)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	sb, err := Emit(b)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if sa != sb {
		t.Fatalf("emission depends on accumulation order:\n%s\n---\n%s", sa, sb)
	}
	if strings.HasSuffix(sa, "\n") {
		t.Fatalf("no trailing newline expected")
	}
}

func TestNormalizeReceiptSortsChecks(t *testing.T) {
	r := models.VerificationReceipt{
		ReceiptType:    "verification",
		ReceiptVersion: models.ReceiptVersion,
		Checks: []models.CheckResult{
			{CheckID: "c2", Status: models.CheckPassed},
			{CheckID: "c1", Status: models.CheckFailed},
		},
	}
	got := NormalizeReceipt(r)
	if got.Checks[0].CheckID != "c1" || got.Checks[1].CheckID != "c2" {
		t.Fatalf("checks: %#v", got.Checks)
	}
	if r.Checks[0].CheckID != "c2" {
		t.Fatalf("caller checks mutated: %#v", r.Checks)
	}
}

func TestEmitReceiptDeterminism(t *testing.T) {
	r := models.VerificationReceipt{
		ReceiptType:          "verification",
		ReceiptVersion:       models.ReceiptVersion,
		SpecVersion:          "DIL:spec v0",
		SystemID:             "demo",
		ValidationReceiptRef: "ref-1",
		State:                models.StateVerified,
		Checks: []models.CheckResult{
			{CheckID: "c1", Capability: "check_file_exists", Status: models.CheckPassed},
		},
	}
	a, err := EmitReceipt(r)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	b, err := EmitReceipt(r)
	if err != nil {
		t.Fatalf("emit: %v", err)
	}
	if a != b {
		t.Fatalf("receipt emission not stable")
	}
	if !strings.Contains(a, "\"receipt_version\": \"DIL:verify v0\"") {
		t.Fatalf("missing receipt version:\n%s", a)
	}
}
