// Package pii masks personally identifiable information in query results
// before they leave the tool server. Masking is deterministic: the same
// input always produces the same output, so masked values remain usable as
// grouping keys in an answer.
package pii

import (
	"fmt"
	"regexp"
	"strings"
)

// Category is the kind of PII a column holds.
type Category string

const (
	CategoryEmail      Category = "email"
	CategoryPhone      Category = "phone"
	CategoryNationalID Category = "national_id"
	CategoryName       Category = "name"
	CategoryAddress    Category = "address"
	CategoryIPAddress  Category = "ip_address"
)

// columnPatterns maps column-name substrings to the category they imply.
// Order matters: the first match wins, and ip_address substrings are checked
// before the bare "ip" to avoid misclassifying e.g. "description".
var columnPatterns = []struct {
	category  Category
	fragments []string
}{
	{CategoryEmail, []string{"email_address", "user_email", "email"}},
	{CategoryPhone, []string{"phone_number", "telephone", "phone", "mobile"}},
	{CategoryNationalID, []string{"national_id", "citizen_id", "id_number", "ssn"}},
	{CategoryName, []string{"full_name", "customer_name", "user_name"}},
	{CategoryAddress, []string{"street_address", "home_address", "address"}},
	{CategoryIPAddress, []string{"ip_address", "ip_addr"}},
}

var phoneSeparators = regexp.MustCompile(`[\s\-()]`)

// IdentifyColumn reports the PII category a column name implies, or "" when
// the column is not considered sensitive.
func IdentifyColumn(column string) Category {
	lower := strings.ToLower(column)
	for _, p := range columnPatterns {
		for _, frag := range p.fragments {
			if strings.Contains(lower, frag) {
				return p.category
			}
		}
	}
	if lower == "ip" {
		return CategoryIPAddress
	}
	return ""
}

// MaskValue masks a single value according to its category. Nil values and
// unknown categories pass through untouched.
func MaskValue(value any, category Category) any {
	if value == nil {
		return nil
	}
	s := fmt.Sprintf("%v", value)
	switch category {
	case CategoryEmail:
		return MaskEmail(s)
	case CategoryPhone:
		return MaskPhone(s)
	case CategoryNationalID:
		return MaskNationalID(s)
	case CategoryName:
		return MaskName(s)
	case CategoryIPAddress:
		return MaskIP(s)
	case CategoryAddress:
		return maskGeneric(s)
	default:
		return value
	}
}

// MaskEmail keeps the first two characters of the local part and the full
// domain: john.doe@example.com -> jo***@example.com.
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if email == "" || at < 0 {
		return email
	}
	local, domain := email[:at], email[at+1:]
	if len(local) <= 2 {
		return strings.Repeat("*", len(local)) + "@" + domain
	}
	return local[:2] + "***@" + domain
}

// MaskPhone keeps the first three and last two digits after stripping
// separators: +66-81-234-5678 -> +66****78.
func MaskPhone(phone string) string {
	if phone == "" {
		return phone
	}
	clean := phoneSeparators.ReplaceAllString(phone, "")
	if len(clean) <= 4 {
		return strings.Repeat("*", len(clean))
	}
	return clean[:3] + "****" + clean[len(clean)-2:]
}

// MaskNationalID preserves the leading group of dashed ids
// (1-2345-67890-12-3 -> 1-****-****) and otherwise keeps two characters.
func MaskNationalID(id string) string {
	if id == "" {
		return id
	}
	if strings.Contains(id, "-") {
		parts := strings.Split(id, "-")
		if len(parts) >= 2 {
			return parts[0] + "-****-****"
		}
	}
	if len(id) <= 2 {
		return strings.Repeat("*", len(id))
	}
	return id[:2] + "****"
}

// MaskName keeps the first token: John Doe Smith -> John ***.
func MaskName(name string) string {
	if name == "" {
		return name
	}
	parts := strings.Fields(name)
	if len(parts) <= 1 {
		return name[:1] + "***"
	}
	return parts[0] + " ***"
}

// MaskIP keeps the first two octets: 192.168.1.100 -> 192.168.*.*.
func MaskIP(ip string) string {
	if ip == "" {
		return ip
	}
	parts := strings.Split(ip, ".")
	if len(parts) == 4 {
		return parts[0] + "." + parts[1] + ".*.*"
	}
	return "***"
}

// maskGeneric keeps the first and last character.
func maskGeneric(s string) string {
	if len(s) <= 2 {
		return "***"
	}
	return s[:1] + strings.Repeat("*", len(s)-2) + s[len(s)-1:]
}

// MaskRows masks PII columns across a result set. Sensitive columns are
// identified once from the first row, matching how a SQL result carries a
// uniform column set.
func MaskRows(rows []map[string]any) []map[string]any {
	if len(rows) == 0 {
		return rows
	}

	categories := make(map[string]Category)
	for column := range rows[0] {
		if cat := IdentifyColumn(column); cat != "" {
			categories[column] = cat
		}
	}
	if len(categories) == 0 {
		return rows
	}

	masked := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out := make(map[string]any, len(row))
		for column, value := range row {
			if cat, ok := categories[column]; ok {
				out[column] = MaskValue(value, cat)
			} else {
				out[column] = value
			}
		}
		masked = append(masked, out)
	}
	return masked
}
