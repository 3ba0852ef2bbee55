package auth

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMakeJWT(t *testing.T) {
	userID := uuid.New()
	secret := "test-secret"

	token, err := MakeJWT(userID, secret, time.Hour)
	if err != nil {
		t.Fatalf("MakeJWT() error = %v", err)
	}

	if token == "" {
		t.Error("MakeJWT() returned empty token")
	}

	parsedUserID, err := ValidateJWT(token, secret)
	if err != nil {
		t.Fatalf("ValidateJWT() error = %v", err)
	}

	if parsedUserID != userID {
		t.Errorf("ValidateJWT() = %v, want %v", parsedUserID, userID)
	}
}

func TestValidateJWT(t *testing.T) {
	userID := uuid.New()
	secret := "test-secret"

	tests := []struct {
		name    string
		token   string
		secret  string
		wantErr bool
	}{
		{
			name:    "Valid token",
			token:   mustMakeJWT(userID, secret, time.Hour),
			secret:  secret,
			wantErr: false,
		},
		{
			name:    "Invalid secret",
			token:   mustMakeJWT(userID, secret, time.Hour),
			secret:  "wrong-secret",
			wantErr: true,
		},
		{
			name:    "Expired token",
			token:   mustMakeJWT(userID, secret, -time.Hour),
			secret:  secret,
			wantErr: true,
		},
		{
			name:    "Malformed token",
			token:   "not.a.valid.token",
			secret:  secret,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateJWT(tt.token, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateJWT() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "Valid header", header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "Missing header", header: "", wantErr: true},
		{name: "Wrong scheme", header: "Basic abc", wantErr: true},
		{name: "No token", header: "Bearer", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			if tt.header != "" {
				headers.Set("Authorization", tt.header)
			}

			got, err := GetBearerToken(headers)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetBearerToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Expected token %q, got %q", tt.want, got)
			}
		})
	}

	if _, err := GetBearerToken(http.Header{}); !errors.Is(err, ErrNoAuthHeader) {
		t.Errorf("Expected ErrNoAuthHeader, got %v", err)
	}
}

func mustMakeJWT(userID uuid.UUID, secret string, duration time.Duration) string {
	token, err := MakeJWT(userID, secret, duration)
	if err != nil {
		panic(err)
	}
	return token
}

func BenchmarkValidateJWT(b *testing.B) {
	userID := uuid.New()
	secret := "test-secret"
	token := mustMakeJWT(userID, secret, time.Hour)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ValidateJWT(token, secret)
	}
}
