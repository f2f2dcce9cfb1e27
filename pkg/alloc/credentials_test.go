package alloc

import (
	"strings"
	"testing"
	"time"
)

func TestGeneratePasswordClasses(t *testing.T) {
	for i := 0; i < 20; i++ {
		pw, err := GeneratePassword(passwordLength)
		if err != nil {
			t.Fatalf("GeneratePassword: %v", err)
		}
		if len(pw) != passwordLength {
			t.Fatalf("password length = %d, want %d", len(pw), passwordLength)
		}
		for _, class := range []string{upperChars, lowerChars, digitChars, symbolChars} {
			if !strings.ContainsAny(pw, class) {
				t.Errorf("password %q missing a character from %q", pw, class)
			}
		}
	}
}

func TestGeneratePasswordTooShort(t *testing.T) {
	if _, err := GeneratePassword(3); err == nil {
		t.Error("expected error for length below 4")
	}
}

func TestGenerateCredentials(t *testing.T) {
	creds, err := GenerateCredentials()
	if err != nil {
		t.Fatalf("GenerateCredentials: %v", err)
	}

	if len(creds.JWTSecret) != jwtSecretBytes*2 {
		t.Errorf("jwt secret length = %d, want %d hex chars", len(creds.JWTSecret), jwtSecretBytes*2)
	}
	if creds.DashboardUsername != defaultDashUser {
		t.Errorf("dashboard username = %q", creds.DashboardUsername)
	}

	// Both API tokens must verify against the signing secret with the
	// right role claims.
	for token, wantRole := range map[string]string{
		creds.AnonKey:        "anon",
		creds.ServiceRoleKey: "service_role",
	} {
		role, err := VerifyAPIToken(creds.JWTSecret, token)
		if err != nil {
			t.Errorf("VerifyAPIToken(%s): %v", wantRole, err)
			continue
		}
		if role != wantRole {
			t.Errorf("role = %q, want %q", role, wantRole)
		}
	}
}

func TestCredentialsNeverShared(t *testing.T) {
	a, err := GenerateCredentials()
	if err != nil {
		t.Fatalf("GenerateCredentials: %v", err)
	}
	b, err := GenerateCredentials()
	if err != nil {
		t.Fatalf("GenerateCredentials: %v", err)
	}

	if a.JWTSecret == b.JWTSecret {
		t.Error("two credential sets share a signing secret")
	}
	if a.AnonKey == b.AnonKey {
		t.Error("two credential sets share an anon token")
	}
	if a.PostgresPassword == b.PostgresPassword {
		t.Error("two credential sets share a database password")
	}
}

func TestVerifyAPITokenWrongSecret(t *testing.T) {
	token, err := SignAPIToken("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "anon", time.Now())
	if err != nil {
		t.Fatalf("SignAPIToken: %v", err)
	}
	if _, err := VerifyAPIToken("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", token); err == nil {
		t.Error("token verified with the wrong secret")
	}
}
