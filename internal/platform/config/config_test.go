package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "lm-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "lm-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Store.Backend != "firestore" {
		t.Errorf("expected firestore store backend, got %s", cfg.Store.Backend)
	}
	if cfg.Redis.Enabled() {
		t.Errorf("expected redis disabled without an address")
	}
	if cfg.Database.DSN != "" {
		t.Errorf("expected relational mirror disabled by default, got %q", cfg.Database.DSN)
	}
	if cfg.Carrier.Format != "json" || cfg.Carrier.Timeout != defaultCarrierTimeout {
		t.Errorf("unexpected carrier defaults: %+v", cfg.Carrier)
	}
	if cfg.Security.HMAC.SignatureHeader != defaultHMACSignatureHeader {
		t.Errorf("expected default signature header, got %s", cfg.Security.HMAC.SignatureHeader)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != 24*time.Hour {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Idempotency.Backend != "firestore" {
		t.Errorf("unexpected idempotency backend: %s", cfg.Idempotency.Backend)
	}
	if cfg.Loyalty.SilverPoints != 2_000_000 || cfg.Loyalty.GoldPoints != 10_000_000 || cfg.Loyalty.DiamondPoints != 50_000_000 {
		t.Errorf("unexpected loyalty tiers: %+v", cfg.Loyalty)
	}
	if cfg.Outbox.Topic != defaultOutboxTopic {
		t.Errorf("unexpected outbox topic: %s", cfg.Outbox.Topic)
	}
	if cfg.Checkout.RateLimit != 20 || cfg.Checkout.RateWindow != time.Minute {
		t.Errorf("unexpected checkout throttle: %+v", cfg.Checkout)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                    "9090",
		"API_SERVER_IDLE_TIMEOUT":            "2m",
		"API_LOG_LEVEL":                      "DEBUG",
		"API_FIREBASE_PROJECT_ID":            "lm-prod",
		"API_FIRESTORE_PROJECT_ID":           "lm-fire",
		"API_DATABASE_DRIVER":                "postgres",
		"API_DATABASE_DSN":                   "secret://db/dsn",
		"API_REDIS_ADDR":                     "redis:6379",
		"API_REDIS_DB":                       "2",
		"API_CARRIER_BASE_URL":               "https://carrier.example.com",
		"API_CARRIER_TOKEN":                  "secret://carrier/token",
		"API_CARRIER_FORMAT":                 "form",
		"API_CARRIER_WEBHOOK_TOKEN":          "hook-token",
		"API_SHOPEE_PARTNER_ID":              "2001234",
		"API_SHOPEE_SHOP_ID":                 "778899",
		"API_SHOPEE_PARTNER_KEY":             "secret://shopee/key",
		"API_LAZADA_APP_KEY":                 "120011",
		"API_LAZADA_APP_SECRET":              "lazada-secret",
		"API_OUTBOX_TOPIC":                   "orders",
		"API_OUTBOX_BATCH":                   "25",
		"API_LOYALTY_TIER_SILVER":            "1_000_000",
		"API_SECURITY_HMAC_SECRETS":          "shopee=secret://hmac/shopee,lazada=lazada-hmac",
		"API_SECURITY_HMAC_HEADER_SIGNATURE": "X-Custom-Signature",
		"API_SECURITY_HMAC_CLOCK_SKEW":       "3m",
		"API_IDEMPOTENCY_HEADER":             "X-Idem-Key",
		"API_IDEMPOTENCY_BACKEND":            "redis",
		"API_IDEMPOTENCY_TTL":                "48h",
		"API_IDEMPOTENCY_WAIT":               "2s",
		"API_IDEMPOTENCY_CLEANUP_BATCH":      "500",
	}

	secrets := map[string]string{
		"secret://db/dsn":        "postgres://lm:pw@db/lm",
		"secret://carrier/token": "carrier-token",
		"secret://shopee/key":    "shopee-key",
		"secret://hmac/shopee":   "shopee-hmac",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected lower-cased log level, got %s", cfg.LogLevel)
	}
	if cfg.Database.DSN != "postgres://lm:pw@db/lm" {
		t.Errorf("expected resolved dsn, got %s", cfg.Database.DSN)
	}
	if !cfg.Redis.Enabled() || cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.Carrier.Token != "carrier-token" || cfg.Carrier.Format != "form" {
		t.Errorf("unexpected carrier config %+v", cfg.Carrier)
	}
	if cfg.Channels.Shopee.PartnerID != 2001234 || cfg.Channels.Shopee.ShopID != 778899 {
		t.Errorf("unexpected shopee ids %+v", cfg.Channels.Shopee)
	}
	if cfg.Channels.Shopee.PartnerKey != "shopee-key" {
		t.Errorf("expected resolved shopee key, got %s", cfg.Channels.Shopee.PartnerKey)
	}
	if cfg.Channels.Lazada.AppSecret != "lazada-secret" {
		t.Errorf("expected literal lazada secret, got %s", cfg.Channels.Lazada.AppSecret)
	}
	if cfg.Outbox.Topic != "orders" || cfg.Outbox.BatchSize != 25 {
		t.Errorf("unexpected outbox config %+v", cfg.Outbox)
	}
	if cfg.Loyalty.SilverPoints != 1_000_000 {
		t.Errorf("unexpected silver threshold %d", cfg.Loyalty.SilverPoints)
	}
	if cfg.Security.HMAC.Secrets["shopee"] != "shopee-hmac" {
		t.Errorf("expected resolved shopee hmac secret, got %s", cfg.Security.HMAC.Secrets["shopee"])
	}
	if cfg.Security.HMAC.Secrets["lazada"] != "lazada-hmac" {
		t.Errorf("expected literal lazada hmac secret, got %s", cfg.Security.HMAC.Secrets["lazada"])
	}
	if cfg.Security.HMAC.ClockSkew != 3*time.Minute {
		t.Errorf("unexpected clock skew %s", cfg.Security.HMAC.ClockSkew)
	}
	if cfg.Idempotency.Backend != "redis" || cfg.Idempotency.WaitTimeout != 2*time.Second {
		t.Errorf("unexpected idempotency config %+v", cfg.Idempotency)
	}
	if cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency ttl %s", cfg.Idempotency.TTL)
	}
}

func TestLoadMemoryBackendWithoutFirebase(t *testing.T) {
	env := map[string]string{"API_STORE_BACKEND": "memory"}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Idempotency.Backend != "memory" {
		t.Fatalf("expected idempotency to follow the memory store, got %s", cfg.Idempotency.Backend)
	}
}

func TestLoadRejectsInvalidCombinations(t *testing.T) {
	env := map[string]string{
		"API_STORE_BACKEND":       "memory",
		"API_IDEMPOTENCY_BACKEND": "redis",
		"API_CARRIER_FORMAT":      "xml",
		"API_LOYALTY_TIER_GOLD":   "1",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := map[string]bool{"Redis.Addr": true, "Carrier.Format": true, "Loyalty": true}
	for _, field := range validation.Fields() {
		delete(want, field)
	}
	if len(want) != 0 {
		t.Fatalf("missing expected fields %v in %v", want, validation.Fields())
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nexport API_FIREBASE_PROJECT_ID='lm-dot'\n# comment\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "lm-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "lm-dev",
		"API_CARRIER_TOKEN":       "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "lm-dev",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Carrier.Token"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != redactSecretName("Carrier.Token") {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "lm-dev",
	}

	defer func() {
		rec := recover()
		missing, ok := rec.(*MissingSecretsError)
		if !ok {
			t.Fatalf("expected MissingSecretsError panic, got %T", rec)
		}
		if len(missing.Names()) != 1 || missing.Names()[0] != "Channels.Lazada.AppSecret" {
			t.Fatalf("unexpected missing secrets %v", missing.Names())
		}
	}()

	_, _ = Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Channels.Lazada.AppSecret"),
		WithPanicOnMissingSecrets(),
	)
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID":   "lm-dev",
		"API_CARRIER_WEBHOOK_TOKEN": "sm://carrier/webhook",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://carrier/webhook" {
			return "legacy-secret", nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Carrier.WebhookToken != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Carrier.WebhookToken)
	}
}
