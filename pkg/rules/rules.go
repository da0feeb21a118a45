package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cart144/dil/pkg/dsl"
	"github.com/cart144/dil/pkg/models"
)

// Rule identifiers for the five mandatory validations.
const (
	RuleIntentVerifiability = "V-M1"
	RuleConstraintIntegrity = "V-M2"
	RuleDecisionTrace       = "V-M3"
	RuleCapabilityCoverage  = "V-M4"
	RuleNoLeakage           = "V-M5"
)

// Fixed placeholder refs carried verbatim in certain error shapes.
const (
	placeholderLeakConstraint  = "constraints.C1"
	placeholderTraceConstraint = "constraints.C2"
	placeholderNoIntent        = "I_DO_NOT_EXIST"
	placeholderNoConstraint    = "C_DO_NOT_EXIST"
)

// Validate parses raw DIL text and runs the mandatory rule set.
func Validate(raw string) (models.CanonicalReport, int) {
	parsed := dsl.Parse(raw)
	return ValidateCore(parsed)
}

// ValidateCore applies the spec-version gate and rules V-M1..V-M5 to a
// parsed spec. Pure function: no I/O, no clock, no randomness. The returned
// exit code maps valid=0, invalid=1, undecidable=2.
func ValidateCore(parsed models.ParsedSpec) (models.CanonicalReport, int) {
	report := models.CanonicalReport{
		SpecVersion: parsed.SpecVersion,
		SystemID:    parsed.SystemID,
		Outcomes:    []models.ValidationOutcome{},
		Errors:      []models.StructuredError{},
	}

	if !specVersionSupported(parsed.SpecVersion) {
		report.State = models.StateInvalid
		report.Errors = []models.StructuredError{{
			Code:    models.CodeUnsupportedSpecVersion,
			Message: fmt.Sprintf("Spec version %q is not supported.", parsed.SpecVersion),
			Refs: map[string]string{
				"spec":      parsed.SpecVersion,
				"supported": strings.Join(dsl.SupportedSpecVersions, ", "),
			},
		}}
		return report, models.ExitInvalid
	}

	evals := []func(models.ParsedSpec) (models.ValidationOutcome, []models.StructuredError){
		intentVerifiability,
		constraintIntegrity,
		decisionTraceability,
		capabilityCoverage,
		noImplementationLeakage,
	}
	for _, eval := range evals {
		outcome, errs := eval(parsed)
		report.Outcomes = append(report.Outcomes, outcome)
		report.Errors = append(report.Errors, errs...)
	}

	report.State = aggregate(report.Outcomes)
	if report.State == models.StateValid {
		// Valid reports carry no errors. Hard schema contract.
		report.Errors = []models.StructuredError{}
	}
	return report, exitCode(report.State)
}

// ParseFailureReport converts an orchestration-boundary failure (unreadable
// input, I/O error) into a PARSE_ERROR-coded invalid report.
func ParseFailureReport(msg string) (models.CanonicalReport, int) {
	return models.CanonicalReport{
		SpecVersion: "unknown",
		SystemID:    "unknown",
		State:       models.StateInvalid,
		Outcomes:    []models.ValidationOutcome{},
		Errors: []models.StructuredError{{
			Code:    models.CodeParseError,
			Message: fmt.Sprintf("Input could not be read: %s.", msg),
			Refs:    map[string]string{"error": msg},
		}},
	}, models.ExitInvalid
}

func specVersionSupported(version string) bool {
	for _, v := range dsl.SupportedSpecVersions {
		if version == v {
			return true
		}
	}
	return false
}

func aggregate(outcomes []models.ValidationOutcome) string {
	for _, o := range outcomes {
		if o.Status == models.StatusUnsatisfied {
			return models.StateInvalid
		}
	}
	for _, o := range outcomes {
		if o.Status == models.StatusUnknown {
			return models.StateUndecidable
		}
	}
	return models.StateValid
}

func exitCode(state string) int {
	switch state {
	case models.StateInvalid:
		return models.ExitInvalid
	case models.StateUndecidable:
		return models.ExitUndecidable
	default:
		return models.ExitOK
	}
}

// --- V-M1: intent verifiability ---

func intentVerifiability(p models.ParsedSpec) (models.ValidationOutcome, []models.StructuredError) {
	outcome := models.ValidationOutcome{
		ValidationID: RuleIntentVerifiability,
		Status:       models.StatusSatisfied,
		Targets:      []string{},
	}
	if len(p.Intents) == 0 {
		outcome.Notes = []string{"No intents declared."}
		return outcome, nil
	}

	blocks := intentBlocks(p.SectionsRaw["intents"])
	capValidation := firstCapabilityValidation(p)

	var failing []string
	associatedVia := map[string]string{}
	for _, intent := range p.Intents {
		vid, explicit := explicitValidationRef(blocks[intent.ID])
		if explicit {
			associatedVia[intent.ID] = vid
			continue
		}
		if capValidation != "" && decisionSupports(p, intent.ID) {
			associatedVia[intent.ID] = capValidation
			continue
		}
		failing = append(failing, intent.ID)
	}

	if len(failing) == 0 {
		for _, intent := range p.Intents {
			outcome.Targets = append(outcome.Targets, "intents."+intent.ID)
		}
		if len(p.Intents) == 1 {
			id := p.Intents[0].ID
			if vid := associatedVia[id]; vid != "" {
				outcome.Notes = []string{fmt.Sprintf("Intent intents.%s is associated with validation validations.%s.", id, vid)}
			} else {
				outcome.Notes = []string{fmt.Sprintf("Intent intents.%s is associated with a declared validation.", id)}
			}
		} else {
			outcome.Notes = []string{"All declared intents are associated with validations."}
		}
		return outcome, nil
	}

	outcome.Status = models.StatusUnsatisfied
	var errs []models.StructuredError
	for _, id := range failing {
		ref := "intents." + id
		outcome.Targets = append(outcome.Targets, ref)
		errs = append(errs, models.StructuredError{
			Code:    models.CodeIntentNotVerifiable,
			Message: fmt.Sprintf("Intent %s has no associated validation.", ref),
			Refs: map[string]string{
				"intent":     ref,
				"validation": RuleIntentVerifiability,
			},
		})
	}
	return outcome, errs
}

// intentBlocks splits the raw intents section into per-intent text, from
// each `intent <ID>` line to the next intent line or section end.
func intentBlocks(sectionRaw string) map[string]string {
	blocks := map[string]*strings.Builder{}
	current := ""
	for _, line := range strings.Split(sectionRaw, "\n") {
		trimmed := strings.TrimSpace(stripComment(line))
		if id, ok := keywordID(trimmed, "intent"); ok {
			current = id
			if _, exists := blocks[current]; !exists {
				blocks[current] = &strings.Builder{}
			}
			continue
		}
		if current != "" {
			blocks[current].WriteString(line)
			blocks[current].WriteString("\n")
		}
	}
	out := map[string]string{}
	for id, b := range blocks {
		out[id] = b.String()
	}
	return out
}

// explicitValidationRef reports whether an intent block carries a
// `validations:` (or `validation:`) line, and returns the first listed id.
func explicitValidationRef(block string) (string, bool) {
	for _, line := range strings.Split(block, "\n") {
		trimmed := strings.TrimSpace(stripComment(line))
		for _, key := range []string{"validations:", "validation:"} {
			if strings.HasPrefix(trimmed, key) {
				ids := parseIDList(strings.TrimPrefix(trimmed, key))
				if len(ids) > 0 {
					return ids[0], true
				}
				return "", true
			}
		}
	}
	return "", false
}

func firstCapabilityValidation(p models.ParsedSpec) string {
	for _, v := range p.Validations {
		if v.RequiresCapability != "" {
			return v.ID
		}
	}
	return ""
}

func decisionSupports(p models.ParsedSpec, intentID string) bool {
	for _, d := range p.Decisions {
		for _, s := range d.Supports {
			if s == intentID {
				return true
			}
		}
	}
	return false
}

// --- V-M2: constraint integrity ---

// Any syntactically parsed constraint is considered existing and evaluable.
// Deep predicate evaluation is intentionally out of scope; this rule never
// produces unsatisfied or unknown.
func constraintIntegrity(p models.ParsedSpec) (models.ValidationOutcome, []models.StructuredError) {
	outcome := models.ValidationOutcome{
		ValidationID: RuleConstraintIntegrity,
		Status:       models.StatusSatisfied,
		Targets:      []string{},
	}
	switch len(p.Constraints) {
	case 0:
		outcome.Notes = []string{"No constraints declared."}
	case 1:
		outcome.Targets = []string{"constraints." + p.Constraints[0].ID}
		outcome.Notes = []string{fmt.Sprintf("Constraint constraints.%s is declared and evaluable.", p.Constraints[0].ID)}
	default:
		for _, c := range p.Constraints {
			outcome.Targets = append(outcome.Targets, "constraints."+c.ID)
		}
		outcome.Notes = []string{"All declared constraints are evaluable."}
	}
	return outcome, nil
}

// --- V-M3: decision traceability ---

func decisionTraceability(p models.ParsedSpec) (models.ValidationOutcome, []models.StructuredError) {
	outcome := models.ValidationOutcome{
		ValidationID: RuleDecisionTrace,
		Status:       models.StatusSatisfied,
		Targets:      []string{},
	}
	var errs []models.StructuredError
	failing := map[string]struct{}{}

	for _, d := range p.Decisions {
		ref := "decisions." + d.ID
		if len(d.Supports) == 0 {
			failing[ref] = struct{}{}
			errs = append(errs, models.StructuredError{
				Code:    models.CodeUntracedDecision,
				Message: fmt.Sprintf("Decision %s does not support any intent.", ref),
				Refs: map[string]string{
					"constraint": placeholderTraceConstraint,
					"decision":   ref,
				},
			})
			continue
		}
		badIntent := ""
		badConstraint := ""
		for _, s := range d.Supports {
			if !p.HasIntent(s) {
				badIntent = s
				break
			}
		}
		for _, r := range d.Respects {
			if !p.HasConstraint(r) {
				badConstraint = r
				break
			}
		}
		if badIntent == "" && badConstraint == "" {
			continue
		}
		// Multiple broken refs in one decision collapse into a single error.
		failing[ref] = struct{}{}
		intentRef := placeholderNoIntent
		if badIntent != "" {
			intentRef = badIntent
		}
		constraintRef := placeholderNoConstraint
		if badConstraint != "" {
			constraintRef = badConstraint
		}
		errs = append(errs, models.StructuredError{
			Code:    models.CodeBrokenReference,
			Message: fmt.Sprintf("Decision %s references artifacts that do not exist.", ref),
			Refs: map[string]string{
				"decision":   ref,
				"intent":     intentRef,
				"constraint": constraintRef,
			},
		})
	}

	if len(failing) > 0 {
		outcome.Status = models.StatusUnsatisfied
		for ref := range failing {
			outcome.Targets = append(outcome.Targets, ref)
		}
		// Emitter sorts targets; dedup already done via the set.
		return outcome, errs
	}

	switch len(p.Decisions) {
	case 0:
		outcome.Notes = []string{"No decisions declared."}
	case 1:
		d := p.Decisions[0]
		outcome.Targets = []string{"decisions." + d.ID}
		outcome.Notes = []string{fmt.Sprintf(
			"Decision decisions.%s supports [%s] and respects [%s].",
			d.ID, strings.Join(d.Supports, ", "), strings.Join(d.Respects, ", "),
		)}
	default:
		for _, d := range p.Decisions {
			outcome.Targets = append(outcome.Targets, "decisions."+d.ID)
		}
		outcome.Notes = []string{"All declared decisions trace to known intents and constraints."}
	}
	return outcome, nil
}

// --- V-M4: capability coverage ---

func capabilityCoverage(p models.ParsedSpec) (models.ValidationOutcome, []models.StructuredError) {
	outcome := models.ValidationOutcome{
		ValidationID: RuleCapabilityCoverage,
		Status:       models.StatusSatisfied,
		Targets:      []string{},
	}
	firstReason := ""
	for _, v := range p.Validations {
		if v.RequiresCapability == "" {
			continue
		}
		if p.HasCapability(v.RequiresCapability) {
			continue
		}
		outcome.Targets = append(outcome.Targets, "validations."+v.ID)
		if firstReason == "" {
			firstReason = fmt.Sprintf("Validation validations.%s requires undeclared capability '%s'.", v.ID, v.RequiresCapability)
		}
	}
	if firstReason != "" {
		// Missing capability is indeterminacy, not failure: no errors.
		outcome.Status = models.StatusUnknown
		outcome.Reason = firstReason
		return outcome, nil
	}
	var structured []string
	for _, c := range p.Capabilities {
		if strings.HasPrefix(c, "emit_structured_") {
			structured = append(structured, c)
		}
	}
	if len(structured) > 0 {
		outcome.Notes = []string{fmt.Sprintf("Structured emission capabilities declared: %s.", strings.Join(structured, ", "))}
	} else {
		outcome.Notes = []string{"All required capabilities are declared."}
	}
	return outcome, nil
}

// --- V-M5: no implementation leakage ---

var leakSignals = []string{
	"B-Tree",
	"LRU",
	"O(log n)",
	"O(n)",
	"rebalance",
	"background",
	"compaction",
}

var everyMinutesPattern = regexp.MustCompile(`(?i)every\s+\d+\s+minutes`)

func noImplementationLeakage(p models.ParsedSpec) (models.ValidationOutcome, []models.StructuredError) {
	outcome := models.ValidationOutcome{
		ValidationID: RuleNoLeakage,
		Status:       models.StatusSatisfied,
		Targets:      []string{},
	}
	match := findLeakSignal(p.RawText)
	if match == "" {
		return outcome, nil
	}
	evidence := []string{fmt.Sprintf("leak signal %q detected in spec text", match)}
	outcome.Status = models.StatusUnsatisfied
	outcome.Targets = []string{"system"}
	outcome.Evidence = evidence
	return outcome, []models.StructuredError{{
		Code:    models.CodeImplementationLeak,
		Message: "Implementation detail leaked into specification text.",
		Refs: map[string]string{
			"constraint": placeholderLeakConstraint,
			"validation": RuleNoLeakage,
		},
		Evidence: evidence,
	}}
}

// findLeakSignal returns the first matching pattern in the fixed signal
// order, scanning the entire raw input case-insensitively.
func findLeakSignal(raw string) string {
	lower := strings.ToLower(raw)
	for _, sig := range leakSignals {
		if strings.Contains(lower, strings.ToLower(sig)) {
			return sig
		}
	}
	if m := everyMinutesPattern.FindString(raw); m != "" {
		return m
	}
	return ""
}

// Local copies of the parser's tolerant line helpers, applied to raw
// section text during heuristic scanning.

func stripComment(line string) string {
	if i := strings.Index(line, "#"); i >= 0 {
		return line[:i]
	}
	return line
}

func keywordID(trimmed, keyword string) (string, bool) {
	fields := strings.Fields(trimmed)
	if len(fields) < 2 || fields[0] != keyword {
		return "", false
	}
	id := strings.Trim(strings.TrimSuffix(fields[1], "{"), "\"")
	if id == "" {
		return "", false
	}
	return id, true
}

func parseIDList(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.Trim(strings.TrimSpace(p), "\"")
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
