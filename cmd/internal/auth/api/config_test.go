package authapi

import "testing"

func TestLoadConfigFromEnv(t *testing.T) {
	tests := []struct {
		name       string
		env        map[string]string
		wantProxy  bool
		wantMaxLen int64
	}{
		{name: "defaults", wantMaxLen: 1 << 20},
		{name: "trust proxy", env: map[string]string{"LATCH_AUTH_TRUST_PROXY": "true"}, wantProxy: true, wantMaxLen: 1 << 20},
		{name: "custom body limit", env: map[string]string{"LATCH_AUTH_MAX_BODY_BYTES": "4096"}, wantMaxLen: 4096},
		{name: "zero body limit", env: map[string]string{"LATCH_AUTH_MAX_BODY_BYTES": "0"}, wantMaxLen: 1 << 20},
		{name: "huge body limit", env: map[string]string{"LATCH_AUTH_MAX_BODY_BYTES": "1073741824"}, wantMaxLen: 1 << 20},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			cfg, err := LoadConfigFromEnv()
			if err != nil {
				t.Fatalf("LoadConfigFromEnv: %v", err)
			}
			if cfg.TrustProxy != tc.wantProxy || cfg.MaxBodyBytes != tc.wantMaxLen {
				t.Fatalf("got %+v", cfg)
			}
		})
	}
}

func TestLoadConfigFromEnv_BadBool(t *testing.T) {
	t.Setenv("LATCH_AUTH_TRUST_PROXY", "maybe")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatalf("expected parse error")
	}
}
