// Package report normalizes and serializes canonical reports and
// verification receipts. Emission is deterministic: semantically identical
// input always yields byte-identical output, regardless of the order in
// which outcomes, errors, or ref keys were accumulated.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cart144/dil/pkg/models"
)

// Emit returns the stable serialized form of a canonical report.
func Emit(r models.CanonicalReport) (string, error) {
	normalized := Normalize(r)
	out, err := models.MarshalCanonical(normalized)
	if err != nil {
		return "", fmt.Errorf("emit report: %w", err)
	}
	return string(out), nil
}

// Normalize returns a sorted copy of the report. The input is never
// mutated; callers keep their original structures untouched.
func Normalize(r models.CanonicalReport) models.CanonicalReport {
	out := r
	out.Outcomes = make([]models.ValidationOutcome, len(r.Outcomes))
	for i, o := range r.Outcomes {
		out.Outcomes[i] = normalizeOutcome(o)
	}
	sort.SliceStable(out.Outcomes, func(i, j int) bool {
		a, b := out.Outcomes[i], out.Outcomes[j]
		if a.ValidationID != b.ValidationID {
			return a.ValidationID < b.ValidationID
		}
		return strings.Join(a.Targets, "\x00") < strings.Join(b.Targets, "\x00")
	})

	out.Errors = make([]models.StructuredError, len(r.Errors))
	for i, e := range r.Errors {
		out.Errors[i] = normalizeError(e)
	}
	sort.SliceStable(out.Errors, func(i, j int) bool {
		a, b := out.Errors[i], out.Errors[j]
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return refsSortKey(a.Refs) < refsSortKey(b.Refs)
	})

	if r.Notes != nil {
		out.Notes = append([]string(nil), r.Notes...)
	}
	if r.Extensions != nil {
		ext := make(map[string]string, len(r.Extensions))
		for k, v := range r.Extensions {
			ext[k] = v
		}
		out.Extensions = ext
	}
	return out
}

// EmitReceipt returns the stable serialized form of a verification receipt,
// with checks ordered by check_id.
func EmitReceipt(r models.VerificationReceipt) (string, error) {
	normalized := NormalizeReceipt(r)
	out, err := models.MarshalCanonical(normalized)
	if err != nil {
		return "", fmt.Errorf("emit receipt: %w", err)
	}
	return string(out), nil
}

// NormalizeReceipt returns a copy of the receipt with checks sorted by
// check_id. Execution order never leaks into the output.
func NormalizeReceipt(r models.VerificationReceipt) models.VerificationReceipt {
	out := r
	out.Checks = make([]models.CheckResult, len(r.Checks))
	for i, c := range r.Checks {
		cc := c
		if c.Evidence != nil {
			cc.Evidence = append([]string(nil), c.Evidence...)
		}
		out.Checks[i] = cc
	}
	sort.SliceStable(out.Checks, func(i, j int) bool {
		return out.Checks[i].CheckID < out.Checks[j].CheckID
	})
	return out
}

func normalizeOutcome(o models.ValidationOutcome) models.ValidationOutcome {
	out := o
	out.Targets = append([]string(nil), o.Targets...)
	if out.Targets == nil {
		out.Targets = []string{}
	}
	sort.Strings(out.Targets)
	if o.Evidence != nil {
		out.Evidence = append([]string(nil), o.Evidence...)
	}
	if o.Notes != nil {
		out.Notes = append([]string(nil), o.Notes...)
	}
	return out
}

func normalizeError(e models.StructuredError) models.StructuredError {
	out := e
	refs := make(map[string]string, len(e.Refs))
	for k, v := range e.Refs {
		refs[k] = v
	}
	out.Refs = refs
	if e.Evidence != nil {
		out.Evidence = append([]string(nil), e.Evidence...)
	}
	if e.Notes != nil {
		out.Notes = append([]string(nil), e.Notes...)
	}
	return out
}

// refsSortKey is the stable stringification of a ref map: deep key-sorted,
// so ref insertion order never affects error ordering.
func refsSortKey(refs map[string]string) string {
	b, err := models.StableStringify(refs)
	if err != nil {
		return ""
	}
	return string(b)
}
