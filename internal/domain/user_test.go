package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateUserRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		user    string
		wantErr error
	}{
		{"plain", "alice", nil},
		{"empty", "", ErrInvalidRequest},
		{"shadowed by rankings route", "top", ErrInvalidName},
		{"path separator", "a/b", ErrInvalidName},
		{"reserved word inside a longer name", "topcat", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := CreateUserRequest{Name: tt.user}
			err := req.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
