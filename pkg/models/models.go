package models

// Validation states for a canonical report.
const (
	StateValid       = "valid"
	StateInvalid     = "invalid"
	StateUndecidable = "undecidable"
)

// Per-rule outcome statuses.
const (
	StatusSatisfied    = "satisfied"
	StatusUnsatisfied  = "unsatisfied"
	StatusUnknown      = "unknown"
	StatusInapplicable = "inapplicable"
)

// Verification aggregate states.
const (
	StateVerified   = "verified"
	StateUnverified = "unverified"
)

// Exit codes shared by validation and verification.
const (
	ExitOK          = 0
	ExitInvalid     = 1
	ExitUndecidable = 2
)

// ParseIssue is a non-fatal anomaly recorded by the tolerant parser.
type ParseIssue struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

type Intent struct {
	ID string `json:"id"`
}

type Constraint struct {
	ID       string `json:"id"`
	Severity string `json:"severity,omitempty"`
}

type Decision struct {
	ID       string   `json:"id"`
	Supports []string `json:"supports"`
	Respects []string `json:"respects"`
}

type Validation struct {
	ID                 string `json:"id"`
	RequiresCapability string `json:"requires_capability,omitempty"`
}

// ParsedSpec is the result of parsing one DIL document. Artifact slices keep
// declaration order; the parser never rejects input, so every field has a
// usable default ("unknown" for the header tokens).
type ParsedSpec struct {
	SpecVersion  string
	SystemID     string
	RawText      string
	SectionsRaw  map[string]string
	Capabilities []string
	Intents      []Intent
	Constraints  []Constraint
	Decisions    []Decision
	Validations  []Validation
	Issues       []ParseIssue
}

// HasCapability reports membership in the declared capability set.
func (p *ParsedSpec) HasCapability(name string) bool {
	for _, c := range p.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// HasIntent reports whether an intent with the given id was declared.
func (p *ParsedSpec) HasIntent(id string) bool {
	for _, it := range p.Intents {
		if it.ID == id {
			return true
		}
	}
	return false
}

// HasConstraint reports whether a constraint with the given id was declared.
func (p *ParsedSpec) HasConstraint(id string) bool {
	for _, c := range p.Constraints {
		if c.ID == id {
			return true
		}
	}
	return false
}

// ValidationOutcome is the result of one mandatory rule. Reason is set iff
// Status is "unknown". Optional fields are omitted from output when empty.
type ValidationOutcome struct {
	ValidationID string   `json:"validation_id"`
	Status       string   `json:"status"`
	Targets      []string `json:"targets"`
	Reason       string   `json:"reason,omitempty"`
	Evidence     []string `json:"evidence,omitempty"`
	Notes        []string `json:"notes,omitempty"`
}

// StructuredError is a rule violation carried as data, never as a Go error.
type StructuredError struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Refs     map[string]string `json:"refs"`
	Evidence []string          `json:"evidence,omitempty"`
	Notes    []string          `json:"notes,omitempty"`
}

// Error codes emitted by the rule engine and the orchestration boundary.
const (
	CodeUnsupportedSpecVersion = "UNSUPPORTED_SPEC_VERSION"
	CodeIntentNotVerifiable    = "INTENT_NOT_VERIFIABLE"
	CodeUntracedDecision       = "UNTRACED_DECISION"
	CodeBrokenReference        = "BROKEN_REFERENCE"
	CodeImplementationLeak     = "IMPLEMENTATION_LEAK"
	CodeParseError             = "PARSE_ERROR"
)

// CanonicalReport is the top-level validation result. It is serialized only
// through report.Emit, which guarantees byte-identical output for
// semantically identical reports.
type CanonicalReport struct {
	SpecVersion string              `json:"spec_version"`
	SystemID    string              `json:"system_id"`
	State       string              `json:"state"`
	Outcomes    []ValidationOutcome `json:"outcomes"`
	Errors      []StructuredError   `json:"errors"`
	Notes       []string            `json:"notes,omitempty"`
	Extensions  map[string]string   `json:"extensions,omitempty"`
}

// ReceiptVersion is the fixed verification receipt header token.
const ReceiptVersion = "DIL:verify v0"

// CheckSpec names one verification check to run: a whitelisted capability
// plus its raw predicate string ("<capability> key=value ...").
type CheckSpec struct {
	CheckID    string `json:"check_id"`
	Capability string `json:"capability"`
	Predicate  string `json:"predicate"`
}

// Per-check statuses.
const (
	CheckPassed  = "passed"
	CheckFailed  = "failed"
	CheckUnknown = "unknown"
)

type CheckResult struct {
	CheckID    string   `json:"check_id"`
	Capability string   `json:"capability"`
	Status     string   `json:"status"`
	Reason     string   `json:"reason,omitempty"`
	Evidence   []string `json:"evidence,omitempty"`
}

// VerificationReceipt is the deterministic output of one verification run.
type VerificationReceipt struct {
	ReceiptType          string        `json:"receipt_type"`
	ReceiptVersion       string        `json:"receipt_version"`
	SpecVersion          string        `json:"spec_version"`
	SystemID             string        `json:"system_id"`
	ValidationReceiptRef string        `json:"validation_receipt_ref"`
	State                string        `json:"state"`
	Checks               []CheckResult `json:"checks"`
}
