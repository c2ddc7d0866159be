package main

import (
	"testing"
	"time"
)

func TestBeaconConfigPeriodDefault(t *testing.T) {
	cases := []struct {
		name string
		cfg  BeaconConfig
		want time.Duration
	}{
		{"zero value defaults to 32s", BeaconConfig{}, 32 * time.Second},
		{"negative treated as unset", BeaconConfig{PeriodSeconds: -1}, 32 * time.Second},
		{"explicit value honored", BeaconConfig{PeriodSeconds: 15}, 15 * time.Second},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.cfg.period(); got != c.want {
				t.Fatalf("period() = %s, want %s", got, c.want)
			}
		})
	}
}

func TestMqttConfigPrefixDefault(t *testing.T) {
	if got := (MqttConfig{}).prefix(); got != "heymac" {
		t.Fatalf("prefix() = %q, want %q", got, "heymac")
	}
	if got := (MqttConfig{Prefix: "custom"}).prefix(); got != "custom" {
		t.Fatalf("prefix() = %q, want %q", got, "custom")
	}
}
