package validate

import (
	"strings"
	"testing"
)

type codeForm struct {
	Code string `json:"code" validate:"required,len=6,number"`
	Type string `json:"type" validate:"required,oneof=otp static"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name    string
		in      codeForm
		wantErr string
	}{
		{"valid", codeForm{Code: "123456", Type: "otp"}, ""},
		{"short code", codeForm{Code: "12345", Type: "otp"}, "code must be exactly 6"},
		{"letters", codeForm{Code: "12345a", Type: "static"}, "code must contain only digits"},
		{"signed", codeForm{Code: "-12345", Type: "static"}, "code must contain only digits"},
		{"bad type", codeForm{Code: "123456", Type: "temp"}, "type must be one of"},
		{"missing", codeForm{}, "code is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(&tt.in)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestStructRejectsNonStruct(t *testing.T) {
	if err := Struct("x"); err == nil {
		t.Fatal("expected error")
	}
}
