package audit

// phiDetailKeys lists detail keys that carry protected health information
// and must never land in the audit trail in the clear. The list follows
// the HIPAA Safe Harbor identifier categories that appear in encounter
// form payloads: names, dates of birth, geographic data smaller than
// state, phone numbers, email addresses, SSNs.
var phiDetailKeys = map[string]bool{
	"first_name":    true,
	"firstName":     true,
	"last_name":     true,
	"lastName":      true,
	"patient_name":  true,
	"date_of_birth": true,
	"dateOfBirth":   true,
	"dob":           true,
	"address":       true,
	"phone":         true,
	"email":         true,
	"ssn":           true,
}

const redacted = "[REDACTED]"

// sanitizeDetails returns a copy of details with PHI values redacted.
// Nested maps are sanitized recursively; the input is never modified.
func sanitizeDetails(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if phiDetailKeys[k] {
			out[k] = redacted
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = sanitizeDetails(nested)
			continue
		}
		out[k] = v
	}
	return out
}
