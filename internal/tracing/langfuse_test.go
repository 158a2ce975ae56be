package tracing

import "testing"

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LANGFUSE_HOST", "")
	t.Setenv("LANGFUSE_PUBLIC_KEY", "pk-lf-test")
	t.Setenv("LANGFUSE_SECRET_KEY", "")

	cfg := ConfigFromEnv()
	if cfg.Host != "http://localhost:3000" {
		t.Errorf("host default: got %q", cfg.Host)
	}
	if cfg.Enabled() {
		t.Error("enabled with only a public key")
	}

	t.Setenv("LANGFUSE_SECRET_KEY", "sk-lf-test")
	if !ConfigFromEnv().Enabled() {
		t.Error("not enabled with both keys")
	}
}

func TestSetup_DisabledIsNoop(t *testing.T) {
	t.Parallel()

	flush, ok := Setup(Config{}, nil)
	if ok {
		t.Fatal("tracing enabled without keys")
	}
	flush()
}
