package audit

import "strings"

const mask = "*****"

// piiFields are masked in event detail maps, both on exact key match and on
// substring match against the lowercased key. The list is fixed: redaction
// is not optional and not tunable per call site.
var piiFields = []string{
	"password", "token", "secret", "key", "hash", "email", "phone",
	"address", "name", "ssn", "social_security", "credit_card", "card_number",
	"verification_token", "reset_token", "access_token", "refresh_token",
	"backup_code", "code",
}

// Redact returns a copy of detail with PII values replaced by a fixed mask.
// The input map is never modified.
func Redact(detail map[string]string) map[string]string {
	if len(detail) == 0 {
		return detail
	}

	out := make(map[string]string, len(detail))
	for k, v := range detail {
		out[k] = v
		lower := strings.ToLower(k)
		for _, field := range piiFields {
			if strings.Contains(lower, field) {
				out[k] = mask
				break
			}
		}
	}
	return out
}
