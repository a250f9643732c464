package api

import (
	"strings"
	"testing"

	"github.com/deckvault/deckvault-core/internal/auth"
)

func TestRequestValidator(t *testing.T) {
	v := newRequestValidator()

	tests := []struct {
		name    string
		req     any
		wantErr []string
	}{
		{
			name: "valid",
			req:  &registerRequest{Username: "alice", Email: "a@example.com", Password: "long-enough"},
		},
		{
			name:    "json field names in messages",
			req:     &registerRequest{Email: "nope", Password: "short"},
			wantErr: []string{"username is required", "email must be a valid email address", "password must be at least 8 characters"},
		},
		{
			name:    "oneof",
			req:     &updateUserRequest{Role: rolePtr("owner")},
			wantErr: []string{"role must be one of: admin editor viewer"},
		},
		{
			name: "omitted optional fields",
			req:  &updateUserRequest{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.req)
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q missing %q", err, want)
				}
			}
		})
	}
}

func rolePtr(r string) *auth.Role {
	role := auth.Role(r)
	return &role
}
