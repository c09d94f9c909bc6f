package app

import (
	"testing"

	"poold/internal/config"
)

func TestMapHistoryConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		history *config.HistoryConfig
		enabled bool
	}{
		{"absent section", nil, false},
		{"empty driver", &config.HistoryConfig{Driver: ""}, false},
		{"driver none", &config.HistoryConfig{Driver: "none"}, false},
		{"driver none padded", &config.HistoryConfig{Driver: " None "}, false},
		{"driver file", &config.HistoryConfig{Driver: "file", Path: "/tmp/h"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{History: tc.history}
			hc, enabled, err := mapHistoryConfig(cfg)
			if err != nil {
				t.Fatalf("mapHistoryConfig: %v", err)
			}
			if enabled != tc.enabled {
				t.Fatalf("enabled = %v, want %v", enabled, tc.enabled)
			}
			if enabled && hc.Driver != tc.history.Driver {
				t.Fatalf("Driver = %q, want %q", hc.Driver, tc.history.Driver)
			}
		})
	}
}
