package telemetry

import "strings"

// ParseHealthLabel extracts the health label from the inference service's
// status_raw field. The field is a comma-separated string whose last segment
// is the label ("0.91,0.02,POSITIVE" -> "POSITIVE"); a value with no commas
// is the label itself. Whitespace is trimmed either way. This split rule is
// part of the external contract with the inference service.
func ParseHealthLabel(raw string) string {
	if i := strings.LastIndex(raw, ","); i >= 0 {
		raw = raw[i+1:]
	}
	return strings.TrimSpace(raw)
}
