package pii

import (
	"reflect"
	"testing"
)

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"john.doe@example.com": "jo***@example.com",
		"jane@test.com":        "ja***@test.com",
		"ab@x.io":              "**@x.io",
		"a@x.io":               "*@x.io",
		"not-an-email":         "not-an-email",
		"":                     "",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskPhone(t *testing.T) {
	cases := map[string]string{
		"+66-81-234-5678": "+66****78",
		"0812345678":      "081****78",
		"1234":            "****",
		"":                "",
	}
	for in, want := range cases {
		if got := MaskPhone(in); got != want {
			t.Fatalf("MaskPhone(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskNationalID(t *testing.T) {
	cases := map[string]string{
		"1-2345-67890-12-3": "1-****-****",
		"9876543210":        "98****",
		"12":                "**",
	}
	for in, want := range cases {
		if got := MaskNationalID(in); got != want {
			t.Fatalf("MaskNationalID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskNameAndIP(t *testing.T) {
	if got := MaskName("John Doe Smith"); got != "John ***" {
		t.Fatalf("MaskName = %q", got)
	}
	if got := MaskName("Cher"); got != "C***" {
		t.Fatalf("MaskName single token = %q", got)
	}
	if got := MaskIP("192.168.1.100"); got != "192.168.*.*" {
		t.Fatalf("MaskIP = %q", got)
	}
	if got := MaskIP("fe80::1"); got != "***" {
		t.Fatalf("MaskIP non-v4 = %q", got)
	}
}

func TestIdentifyColumn(t *testing.T) {
	cases := map[string]Category{
		"email":           CategoryEmail,
		"user_email":      CategoryEmail,
		"phone_number":    CategoryPhone,
		"mobile":          CategoryPhone,
		"national_id":     CategoryNationalID,
		"full_name":       CategoryName,
		"home_address":    CategoryAddress,
		"ip_address":      CategoryIPAddress,
		"customer_uuid":   "",
		"balance":         "",
		"ticket_priority": "",
	}
	for col, want := range cases {
		if got := IdentifyColumn(col); got != want {
			t.Fatalf("IdentifyColumn(%q) = %q, want %q", col, got, want)
		}
	}
}

func TestMaskRows(t *testing.T) {
	rows := []map[string]any{
		{"customer_id": 1, "email": "john.doe@example.com", "balance": 10000.0},
		{"customer_id": 2, "email": "jane@test.com", "balance": 5000.0},
	}
	masked := MaskRows(rows)
	if masked[0]["email"] != "jo***@example.com" || masked[1]["email"] != "ja***@test.com" {
		t.Fatalf("emails not masked: %v", masked)
	}
	if masked[0]["balance"] != 10000.0 || masked[0]["customer_id"] != 1 {
		t.Fatalf("non-PII columns must pass through: %v", masked[0])
	}
	// Input rows are not mutated.
	if rows[0]["email"] != "john.doe@example.com" {
		t.Fatal("input row was mutated")
	}
}

func TestMaskRowsDeterministic(t *testing.T) {
	rows := []map[string]any{{"phone": "+66-81-234-5678", "full_name": "John Doe"}}
	a := MaskRows(rows)
	b := MaskRows(rows)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("masking is not deterministic: %v vs %v", a, b)
	}
	if !reflect.DeepEqual(MaskRows(a), a) {
		t.Fatalf("masking is not idempotent: %v vs %v", MaskRows(a), a)
	}
}
