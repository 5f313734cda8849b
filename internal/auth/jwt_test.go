package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openeld/journal/internal/journal"
)

// 44-character base64 string, as produced by `openssl rand -base64 32`
const testSecret = "wJ6Qk8Qn1v9Qw1Zb2l8Qk9J3p6Qk8Qn1v9Qw1Zb2l8Qk="

func testDriver() journal.Actor {
	return journal.Actor{ID: "driver-4521", Kind: journal.ActorDriver, DisplayName: "J. Alvarez"}
}

func TestGenerateAccessToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	tests := []struct {
		name    string
		actor   journal.Actor
		wantErr bool
	}{
		{
			name:    "valid access token",
			actor:   testDriver(),
			wantErr: false,
		},
		{
			name:    "empty actor ID",
			actor:   journal.Actor{Kind: journal.ActorDriver},
			wantErr: true,
		},
		{
			name:    "no display name",
			actor:   journal.Actor{ID: "carrier-88", Kind: journal.ActorCarrier},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.GenerateAccessToken(tt.actor)
			if (err != nil) != tt.wantErr {
				t.Errorf("GenerateAccessToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil && token == "" {
				t.Error("GenerateAccessToken() returned empty token")
			}
		})
	}
}

func TestGenerateRefreshToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	tests := []struct {
		name    string
		actorID string
		wantErr bool
	}{
		{
			name:    "valid refresh token",
			actorID: "driver-4521",
			wantErr: false,
		},
		{
			name:    "empty actor ID",
			actorID: "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.GenerateRefreshToken(tt.actorID)
			if (err != nil) != tt.wantErr {
				t.Errorf("GenerateRefreshToken() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err == nil && token == "" {
				t.Error("GenerateRefreshToken() returned empty token")
			}
		})
	}
}

func TestValidateAccessToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	validToken, err := svc.GenerateAccessToken(testDriver())
	if err != nil {
		t.Fatalf("Failed to generate access token: %v", err)
	}

	tests := []struct {
		name     string
		token    string
		wantSub  string
		wantKind string
		wantType string
		wantErr  error
	}{
		{
			name:     "valid access token",
			token:    validToken,
			wantSub:  "driver-4521",
			wantKind: journal.ActorDriver.String(),
			wantType: TokenTypeAccess,
			wantErr:  nil,
		},
		{
			name:    "invalid token format",
			token:   "not-a-valid-token",
			wantErr: ErrInvalidToken,
		},
		{
			name:    "empty token",
			token:   "",
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := svc.ValidateToken(tt.token)
			if tt.wantErr != nil {
				if err != tt.wantErr {
					t.Errorf("ValidateToken() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidateToken() unexpected error = %v", err)
				return
			}
			if claims.Subject != tt.wantSub {
				t.Errorf("ValidateToken() Subject = %v, want %v", claims.Subject, tt.wantSub)
			}
			if claims.ActorKind != tt.wantKind {
				t.Errorf("ValidateToken() ActorKind = %v, want %v", claims.ActorKind, tt.wantKind)
			}
			if claims.Type != tt.wantType {
				t.Errorf("ValidateToken() Type = %v, want %v", claims.Type, tt.wantType)
			}
		})
	}
}

func TestClaimsActor(t *testing.T) {
	svc := NewJWTService(testSecret)

	token, err := svc.GenerateAccessToken(testDriver())
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}

	actor, err := claims.Actor()
	if err != nil {
		t.Fatalf("Actor() error = %v", err)
	}
	if actor != testDriver() {
		t.Errorf("Actor() = %+v, want %+v", actor, testDriver())
	}

	t.Run("unknown actor kind", func(t *testing.T) {
		bad := &Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "x-1"},
			ActorKind:        "auditor",
		}
		if _, err := bad.Actor(); err != ErrUnknownActorKind {
			t.Errorf("Actor() error = %v, want %v", err, ErrUnknownActorKind)
		}
	})
}

func TestValidateRefreshToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	validToken, err := svc.GenerateRefreshToken("carrier-88")
	if err != nil {
		t.Fatalf("Failed to generate refresh token: %v", err)
	}

	claims, err := svc.ValidateToken(validToken)
	if err != nil {
		t.Fatalf("ValidateToken() unexpected error = %v", err)
	}
	if claims.Subject != "carrier-88" {
		t.Errorf("ValidateToken() Subject = %v, want carrier-88", claims.Subject)
	}
	if claims.ActorKind != "" {
		t.Errorf("ValidateToken() ActorKind = %v, want empty", claims.ActorKind)
	}
	if claims.Type != TokenTypeRefresh {
		t.Errorf("ValidateToken() Type = %v, want %v", claims.Type, TokenTypeRefresh)
	}
}

func TestExpiredToken(t *testing.T) {
	svc := NewJWTServiceWithLeeway(testSecret, 0) // No leeway for this test

	// Create an expired token manually
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "driver-expired",
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-1 * time.Hour)), // Expired 1 hour ago
		},
		ActorKind: journal.ActorDriver.String(),
		Type:      TokenTypeAccess,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("Failed to create expired token: %v", err)
	}

	_, err = svc.ValidateToken(tokenString)
	if err != ErrExpiredToken {
		t.Errorf("ValidateToken() error = %v, want %v", err, ErrExpiredToken)
	}
}

func TestTamperedToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	validToken, err := svc.GenerateAccessToken(testDriver())
	if err != nil {
		t.Fatalf("Failed to generate access token: %v", err)
	}

	parts := strings.Split(validToken, ".")
	if len(parts) != 3 {
		t.Fatalf("Invalid token format")
	}

	// Corrupt the signature
	tamperedToken := parts[0] + "." + parts[1] + ".tamperedsignature"

	_, err = svc.ValidateToken(tamperedToken)
	if err != ErrInvalidToken {
		t.Errorf("ValidateToken() error = %v, want %v", err, ErrInvalidToken)
	}
}

func TestWrongSecretToken(t *testing.T) {
	svc1 := NewJWTService("secret-one")
	svc2 := NewJWTService("secret-two")

	token, err := svc1.GenerateAccessToken(testDriver())
	if err != nil {
		t.Fatalf("Failed to generate access token: %v", err)
	}

	_, err = svc2.ValidateToken(token)
	if err != ErrInvalidToken {
		t.Errorf("ValidateToken() error = %v, want %v", err, ErrInvalidToken)
	}
}

func TestLeewayValidation(t *testing.T) {
	// Create a token that expired just now (within leeway)
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "driver-leeway",
			IssuedAt:  jwt.NewNumericDate(now.Add(-1 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-10 * time.Second)), // Expired 10 seconds ago
		},
		ActorKind: journal.ActorDriver.String(),
		Type:      TokenTypeAccess,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("Failed to create token: %v", err)
	}

	t.Run("with default leeway (30s) - should pass", func(t *testing.T) {
		svc := NewJWTService(testSecret) // Default 30s leeway
		_, err := svc.ValidateToken(tokenString)
		if err != nil {
			t.Errorf("ValidateToken() error = %v, expected no error (within leeway)", err)
		}
	})

	t.Run("with no leeway - should fail", func(t *testing.T) {
		svc := NewJWTServiceWithLeeway(testSecret, 0)
		_, err := svc.ValidateToken(tokenString)
		if err != ErrExpiredToken {
			t.Errorf("ValidateToken() error = %v, want %v", err, ErrExpiredToken)
		}
	})
}

// TestKeyRotation tests the dual-key rotation feature for zero-downtime secret rotation.
func TestKeyRotation(t *testing.T) {
	currentSecret := "current-secret-key-12345678"
	previousSecret := "previous-secret-key-87654321"

	t.Run("token signed with current secret validates with current", func(t *testing.T) {
		svc := NewJWTServiceWithRotation(currentSecret, previousSecret)
		token, err := svc.GenerateAccessToken(testDriver())
		if err != nil {
			t.Fatalf("GenerateAccessToken() error = %v", err)
		}

		claims, err := svc.ValidateToken(token)
		if err != nil {
			t.Fatalf("ValidateToken() error = %v", err)
		}
		if claims.Subject != "driver-4521" {
			t.Errorf("ValidateToken() Subject = %v, want driver-4521", claims.Subject)
		}
	})

	t.Run("token signed with previous secret still validates", func(t *testing.T) {
		// Create token with previous secret (simulating old token)
		oldSvc := NewJWTService(previousSecret)
		oldToken, err := oldSvc.GenerateAccessToken(journal.Actor{ID: "support-7", Kind: journal.ActorSupport})
		if err != nil {
			t.Fatalf("GenerateAccessToken() error = %v", err)
		}

		// Validate with new service that has both secrets
		newSvc := NewJWTServiceWithRotation(currentSecret, previousSecret)
		claims, err := newSvc.ValidateToken(oldToken)
		if err != nil {
			t.Fatalf("ValidateToken() error = %v, expected old token to validate with previousSecret", err)
		}
		if claims.Subject != "support-7" {
			t.Errorf("ValidateToken() Subject = %v, want support-7", claims.Subject)
		}
	})

	t.Run("new tokens always use current secret", func(t *testing.T) {
		svc := NewJWTServiceWithRotation(currentSecret, previousSecret)
		token, err := svc.GenerateAccessToken(testDriver())
		if err != nil {
			t.Fatalf("GenerateAccessToken() error = %v", err)
		}

		// Should validate with current secret only
		currentOnlySvc := NewJWTService(currentSecret)
		if _, err := currentOnlySvc.ValidateToken(token); err != nil {
			t.Errorf("ValidateToken() error = %v, token should be signed with current secret", err)
		}

		// Should NOT validate with previous secret only
		previousOnlySvc := NewJWTService(previousSecret)
		if _, err := previousOnlySvc.ValidateToken(token); err != ErrInvalidToken {
			t.Errorf("ValidateToken() error = %v, want %v (token should not validate with previous secret only)", err, ErrInvalidToken)
		}
	})

	t.Run("rotation without previous secret works", func(t *testing.T) {
		svc := NewJWTServiceWithRotation(currentSecret, "")
		token, err := svc.GenerateAccessToken(testDriver())
		if err != nil {
			t.Fatalf("GenerateAccessToken() error = %v", err)
		}

		if _, err := svc.ValidateToken(token); err != nil {
			t.Errorf("ValidateToken() error = %v", err)
		}
	})

	t.Run("token with wrong secret fails", func(t *testing.T) {
		wrongSvc := NewJWTService("wrong-secret-key-99999999")
		wrongToken, err := wrongSvc.GenerateAccessToken(testDriver())
		if err != nil {
			t.Fatalf("GenerateAccessToken() error = %v", err)
		}

		svc := NewJWTServiceWithRotation(currentSecret, previousSecret)
		if _, err := svc.ValidateToken(wrongToken); err != ErrInvalidToken {
			t.Errorf("ValidateToken() error = %v, want %v", err, ErrInvalidToken)
		}
	})
}

func TestRotationWithCustomLeeway(t *testing.T) {
	currentSecret := "current-leeway-key-123456"
	previousSecret := "previous-leeway-key-654321"

	// Create an expired token with previous secret
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "driver-expired-leeway",
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-10 * time.Second)), // Expired 10 seconds ago
		},
		ActorKind: journal.ActorDriver.String(),
		Type:      TokenTypeAccess,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(previousSecret))
	if err != nil {
		t.Fatalf("Failed to create token: %v", err)
	}

	t.Run("expired token with leeway validates through previous secret", func(t *testing.T) {
		svc := NewJWTServiceWithRotationAndLeeway(currentSecret, previousSecret, 30*time.Second)
		if _, err := svc.ValidateToken(tokenString); err != nil {
			t.Errorf("ValidateToken() error = %v, expected token to validate with leeway", err)
		}
	})

	t.Run("expired token without leeway fails", func(t *testing.T) {
		svc := NewJWTServiceWithRotationAndLeeway(currentSecret, previousSecret, 0)
		if _, err := svc.ValidateToken(tokenString); err != ErrExpiredToken {
			t.Errorf("ValidateToken() error = %v, want %v", err, ErrExpiredToken)
		}
	})
}
