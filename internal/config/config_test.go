package config

import "testing"

func validBase() Config {
	return Config{
		App:    AppConfig{Env: "local", Port: 8080},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "crmvoice", SSLMode: ""},
		Redis:  RedisConfig{Host: "localhost", Port: 6379},
		Auth:   AuthConfig{JWTSecret: "secret"},
		Telnyx: TelnyxConfig{PublicKey: "dGVzdA=="},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validBase()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "issuer"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_RequiresWebhookKeyMaterial(t *testing.T) {
	c := validBase()
	c.Telnyx = TelnyxConfig{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error without telnyx keys")
	}

	c.Telnyx.AllowUnverified = true
	if err := c.Validate(); err != nil {
		t.Fatalf("local override should pass: %v", err)
	}
}

func TestValidate_RejectsUnverifiedInProduction(t *testing.T) {
	c := validBase()
	c.App.Env = "production"
	c.DB.SSLMode = "require"
	c.Auth.JWTIssuer = "issuer"
	c.Auth.JWTAudience = "aud"
	c.Telnyx.AllowUnverified = true
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for TELNYX_ALLOW_UNVERIFIED in production")
	}
}
