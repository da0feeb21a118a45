package dsl

import (
	"bufio"
	"strings"

	"github.com/cart144/dil/pkg/models"
)

// SupportedSpecVersions is the set of DIL header tokens the rule engine
// accepts. The parser itself captures any header verbatim.
var SupportedSpecVersions = []string{"DIL:spec v0"}

var knownSections = []string{
	"about",
	"capabilities",
	"intents",
	"constraints",
	"decisions",
	"validations",
	"change",
	"implementation_notes",
}

// Parse converts raw DIL text into a ParsedSpec. It never fails: malformed
// or missing structure is recorded as soft issues and defaulted fields, so
// the rule engine can always run and classify.
func Parse(raw string) models.ParsedSpec {
	spec := models.ParsedSpec{
		SpecVersion: "unknown",
		SystemID:    "unknown",
		RawText:     raw,
		SectionsRaw: map[string]string{},
	}

	sections := map[string]*strings.Builder{}

	depth := 0
	enteredSystem := false
	headerSeen := false
	systemSeen := false
	currentSection := ""
	sectionDepth := 0
	curDecision := -1
	curValidation := -1

	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		rawLine := scanner.Text()
		stripped := stripComment(rawLine)
		trimmed := strings.TrimSpace(stripped)

		if !headerSeen && trimmed != "" {
			headerSeen = true
			if strings.HasPrefix(trimmed, "DIL:spec") {
				spec.SpecVersion = trimmed
				continue
			}
			spec.Issues = append(spec.Issues, models.ParseIssue{
				Line:    lineNo,
				Message: "missing DIL:spec header",
			})
			// The line is not a header; keep processing it normally.
		}

		opens := strings.Count(stripped, "{")
		closes := strings.Count(stripped, "}")
		newDepth := depth + opens - closes

		if currentSection != "" {
			if newDepth < sectionDepth {
				currentSection = ""
				curDecision = -1
				curValidation = -1
			} else {
				sections[currentSection].WriteString(rawLine)
				sections[currentSection].WriteString("\n")
				parseSectionLine(&spec, currentSection, trimmed, lineNo, &curDecision, &curValidation)
			}
		} else {
			if !systemSeen && trimmed != "" {
				if name, ok := matchSystemHeader(trimmed); ok {
					spec.SystemID = name
					systemSeen = true
				}
			}
			if depth == 1 {
				if name, ok := matchSectionOpen(trimmed); ok {
					currentSection = name
					sectionDepth = newDepth
					if _, exists := sections[name]; !exists {
						sections[name] = &strings.Builder{}
					}
				}
			}
		}

		if newDepth > 0 {
			enteredSystem = true
		}
		depth = newDepth
		if enteredSystem && depth <= 0 {
			break
		}
	}

	if !systemSeen {
		spec.Issues = append(spec.Issues, models.ParseIssue{
			Line:    0,
			Message: "missing system declaration",
		})
	}

	for name, b := range sections {
		spec.SectionsRaw[name] = strings.TrimSuffix(b.String(), "\n")
	}
	return spec
}

func parseSectionLine(spec *models.ParsedSpec, section, trimmed string, lineNo int, curDecision, curValidation *int) {
	if trimmed == "" {
		return
	}
	switch section {
	case "capabilities":
		if isIdent(trimmed) && !spec.HasCapability(trimmed) {
			spec.Capabilities = append(spec.Capabilities, trimmed)
		}
	case "intents":
		if id, ok := keywordID(trimmed, "intent"); ok {
			if !spec.HasIntent(id) {
				spec.Intents = append(spec.Intents, models.Intent{ID: id})
			}
		}
	case "constraints":
		if id, ok := keywordID(trimmed, "constraint"); ok {
			if !spec.HasConstraint(id) {
				spec.Constraints = append(spec.Constraints, models.Constraint{ID: id})
			}
			return
		}
		if val, ok := fieldValue(trimmed, "severity"); ok {
			// Severity attaches to the most recently registered constraint,
			// not the lexically nearest block.
			if n := len(spec.Constraints); n > 0 {
				spec.Constraints[n-1].Severity = val
			} else {
				spec.Issues = append(spec.Issues, models.ParseIssue{
					Line:    lineNo,
					Message: "severity without a declared constraint",
				})
			}
		}
	case "decisions":
		if id, ok := keywordID(trimmed, "decision"); ok {
			spec.Decisions = append(spec.Decisions, models.Decision{ID: id})
			*curDecision = len(spec.Decisions) - 1
			return
		}
		if raw, ok := fieldValue(trimmed, "supports"); ok {
			if *curDecision >= 0 {
				spec.Decisions[*curDecision].Supports = append(spec.Decisions[*curDecision].Supports, parseIDList(raw)...)
			} else {
				spec.Issues = append(spec.Issues, models.ParseIssue{
					Line:    lineNo,
					Message: "supports without a declared decision",
				})
			}
			return
		}
		if raw, ok := fieldValue(trimmed, "respects"); ok {
			if *curDecision >= 0 {
				spec.Decisions[*curDecision].Respects = append(spec.Decisions[*curDecision].Respects, parseIDList(raw)...)
			} else {
				spec.Issues = append(spec.Issues, models.ParseIssue{
					Line:    lineNo,
					Message: "respects without a declared decision",
				})
			}
		}
	case "validations":
		if id, ok := keywordID(trimmed, "validate"); ok {
			spec.Validations = append(spec.Validations, models.Validation{ID: id})
			*curValidation = len(spec.Validations) - 1
			return
		}
		if val, ok := fieldValue(trimmed, "requires_capability"); ok {
			if *curValidation >= 0 {
				spec.Validations[*curValidation].RequiresCapability = val
			} else {
				spec.Issues = append(spec.Issues, models.ParseIssue{
					Line:    lineNo,
					Message: "requires_capability without a declared validation",
				})
			}
		}
	}
}

// stripComment removes the first "#" and everything after it. No escaping.
func stripComment(line string) string {
	if i := strings.Index(line, "#"); i >= 0 {
		return line[:i]
	}
	return line
}

// matchSystemHeader recognizes `system "<name>" {`.
func matchSystemHeader(trimmed string) (string, bool) {
	if !strings.HasPrefix(trimmed, "system") {
		return "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "system"))
	if !strings.HasPrefix(rest, "\"") {
		return "", false
	}
	end := strings.Index(rest[1:], "\"")
	if end < 0 {
		return "", false
	}
	name := rest[1 : 1+end]
	tail := strings.TrimSpace(rest[2+end:])
	if !strings.HasPrefix(tail, "{") {
		return "", false
	}
	return name, true
}

// matchSectionOpen recognizes `<known-section> {` at the system body level.
func matchSectionOpen(trimmed string) (string, bool) {
	fields := strings.Fields(trimmed)
	if len(fields) != 2 || fields[1] != "{" {
		return "", false
	}
	for _, s := range knownSections {
		if fields[0] == s {
			return s, true
		}
	}
	return "", false
}

// keywordID matches `<keyword> <ID>` with an optional trailing brace.
func keywordID(trimmed, keyword string) (string, bool) {
	fields := strings.Fields(trimmed)
	if len(fields) < 2 || fields[0] != keyword {
		return "", false
	}
	id := trimIdent(fields[1])
	if id == "" {
		return "", false
	}
	return id, true
}

// fieldValue matches `<key>: <value>` and returns the trimmed, unquoted value.
func fieldValue(trimmed, key string) (string, bool) {
	if !strings.HasPrefix(trimmed, key) {
		return "", false
	}
	rest := strings.TrimPrefix(trimmed, key)
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(rest, ":") {
		return "", false
	}
	val := strings.TrimSpace(strings.TrimPrefix(rest, ":"))
	return strings.Trim(val, "\""), true
}

// parseIDList parses a bracketed comma-separated identifier list. Elements
// may be quoted.
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

func trimIdent(tok string) string {
	tok = strings.TrimSuffix(tok, "{")
	tok = strings.Trim(tok, "\"")
	return strings.TrimSpace(tok)
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r == '_' && i > 0:
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
