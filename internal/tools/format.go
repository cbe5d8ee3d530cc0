package tools

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/chartbridge/chartbridge/internal/fhir"
)

var titleCase = cases.Title(language.English, cases.NoLower)

// FormatPatient renders a Patient resource as readable text: name, core
// demographics, then contact details and address when present.
func FormatPatient(data fhir.Resource) string {
	if len(data) == 0 || data["resourceType"] == nil {
		return "No patient data found."
	}

	lines := []string{
		fmt.Sprintf("**Patient: %s**", patientName(data)),
		fmt.Sprintf("FHIR ID: %s", stringOr(data, "id", "unknown")),
		fmt.Sprintf("Gender: %s", capitalize(stringOr(data, "gender", "unknown"))),
		fmt.Sprintf("Birth Date: %s", stringOr(data, "birthDate", "unknown")),
	}

	for _, contact := range items(data, "telecom") {
		system := capitalize(stringOr(contact, "system", ""))
		value := stringOr(contact, "value", "")
		if system != "" && value != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", system, value))
		}
	}

	if addrs := items(data, "address"); len(addrs) > 0 {
		addr := addrs[0]
		parts := []string{}
		for _, line := range stringItems(addr, "line") {
			if line != "" {
				parts = append(parts, line)
			}
		}
		for _, key := range []string{"city", "state", "postalCode"} {
			if v := stringOr(addr, key, ""); v != "" {
				parts = append(parts, v)
			}
		}
		if len(parts) > 0 {
			lines = append(lines, "Address: "+strings.Join(parts, ", "))
		}
	}

	return strings.Join(lines, "\n")
}

// FormatBundle renders a search Bundle as a numbered summary list. The
// heading reports the bundle's total when present, falling back to the
// entry count.
func FormatBundle(bundle fhir.Resource, resourceType string) string {
	entries := items(bundle, "entry")
	if len(entries) == 0 {
		return fmt.Sprintf("No %s found.", resourceType)
	}

	total := len(entries)
	if t, ok := bundle["total"].(float64); ok {
		total = int(t)
	}

	lines := []string{fmt.Sprintf("**Found %d %s(s)**\n", total, resourceType)}
	for i, entry := range entries {
		resource, _ := entry["resource"].(map[string]any)
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, formatResource(resource, resourceType)))
	}

	return strings.Join(lines, "\n")
}

// formatResource summarises a single resource on one line, with fields
// chosen per type.
func formatResource(resource map[string]any, resourceType string) string {
	switch resourceType {
	case "Patient":
		return fmt.Sprintf("%s (ID: %s)", patientName(resource), stringOr(resource, "id", ""))

	case "Condition":
		code := textOr(resource, "code", "Unknown condition")
		status := "unknown"
		if codings := items(child(resource, "clinicalStatus"), "coding"); len(codings) > 0 {
			status = stringOr(codings[0], "code", "unknown")
		}
		onset := stringOr(resource, "onsetDateTime", stringOr(resource, "onsetString", ""))
		line := fmt.Sprintf("%s | Status: %s", code, status)
		if onset != "" {
			line += " | Onset: " + datePart(onset)
		}
		return line

	case "MedicationRequest":
		med := textOr(resource, "medicationCodeableConcept", "Unknown medication")
		line := fmt.Sprintf("%s | Status: %s", med, stringOr(resource, "status", "unknown"))
		if insts := items(resource, "dosageInstruction"); len(insts) > 0 {
			if dosage := stringOr(insts[0], "text", ""); dosage != "" {
				line += " | Dosage: " + dosage
			}
		}
		return line

	case "Observation":
		code := textOr(resource, "code", "Unknown observation")
		value := "No value"
		if qty := child(resource, "valueQuantity"); qty != nil {
			value = strings.TrimSpace(fmt.Sprintf("%v %s", qty["value"], stringOr(qty, "unit", "")))
		} else if s := stringOr(resource, "valueString", ""); s != "" {
			value = s
		} else if b, ok := resource["valueBoolean"].(bool); ok && b {
			value = "true"
		}
		line := fmt.Sprintf("%s: %s", code, value)
		if date := stringOr(resource, "effectiveDateTime", ""); date != "" {
			line += " | Date: " + datePart(date)
		}
		return line

	case "AllergyIntolerance":
		line := textOr(resource, "code", "Unknown substance")
		if reactions := items(resource, "reaction"); len(reactions) > 0 {
			if manifestations := items(reactions[0], "manifestation"); len(manifestations) > 0 {
				line += " -> " + stringOr(manifestations[0], "text", "")
			}
		}
		if severity := stringOr(resource, "criticality", ""); severity != "" {
			line += " | Severity: " + severity
		}
		return line

	case "Immunization":
		vaccine := textOr(resource, "vaccineCode", "Unknown vaccine")
		date := stringOr(resource, "occurrenceDateTime", "Unknown date")
		line := fmt.Sprintf("%s | Date: %s", vaccine, datePart(date))
		if status := stringOr(resource, "status", ""); status != "" {
			line += " | Status: " + status
		}
		return line

	case "Procedure":
		proc := textOr(resource, "code", "Unknown procedure")
		line := fmt.Sprintf("%s | Status: %s", proc, stringOr(resource, "status", ""))
		date := stringOr(resource, "performedDateTime", "")
		if date == "" {
			date = stringOr(child(resource, "performedPeriod"), "start", "")
		}
		if date != "" {
			line += " | Date: " + datePart(date)
		}
		return line

	default:
		return "Resource ID: " + stringOr(resource, "id", "Unknown")
	}
}

func patientName(resource map[string]any) string {
	names := items(resource, "name")
	if len(names) == 0 {
		return "Unknown"
	}
	given := strings.Join(stringItems(names[0], "given"), " ")
	family := stringOr(names[0], "family", "Unknown")
	return strings.TrimSpace(given + " " + family)
}

// datePart strips the time component from a FHIR dateTime.
func datePart(value string) string {
	date, _, _ := strings.Cut(value, "T")
	return date
}

func capitalize(s string) string {
	return titleCase.String(s)
}

// stringOr returns the named field when it is a non-empty string, otherwise
// the fallback.
func stringOr(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// textOr returns the "text" of a nested CodeableConcept field.
func textOr(m map[string]any, key, fallback string) string {
	return stringOr(child(m, key), "text", fallback)
}

func child(m map[string]any, key string) map[string]any {
	c, _ := m[key].(map[string]any)
	return c
}

// items returns the named field as a slice of objects, skipping entries of
// any other shape.
func items(m map[string]any, key string) []map[string]any {
	raw, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if obj, ok := v.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func stringItems(m map[string]any, key string) []string {
	raw, _ := m[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
