package webhook

import (
	"testing"
	"time"

	"github.com/mattjoyce/hookguard/internal/config"
)

func TestParseMaxBodySize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", DefaultMaxBodySize, false},
		{"2048", 2048, false},
		{"512KB", 512 * 1024, false},
		{"2mb", 2 * 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"0", 0, true},
		{"-5", 0, true},
		{"lots", 0, true},
		{"9999999999GB", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMaxBodySize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMaxBodySize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseMaxBodySize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFromGlobalConfig(t *testing.T) {
	c := config.Defaults()
	c.Webhook.MaxBodySize = "64KB"
	c.Webhook.ReadTimeout = 3 * time.Second

	cfg, err := FromGlobalConfig(c)
	if err != nil {
		t.Fatalf("FromGlobalConfig: %v", err)
	}
	if cfg.MaxBodySize != 64*1024 {
		t.Errorf("MaxBodySize = %d", cfg.MaxBodySize)
	}
	if cfg.ReadTimeout != 3*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.ReadTimeout)
	}
	if cfg.Path != DefaultPath {
		t.Errorf("Path = %q", cfg.Path)
	}

	c.Webhook.Path = "no-slash"
	if _, err := FromGlobalConfig(c); err == nil {
		t.Error("expected error for relative path")
	}

	if _, err := FromGlobalConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
}
