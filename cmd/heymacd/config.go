// Copyright (c) 2016 by Thorsten von Eicken, see LICENSE file for details

package main

import "time"

// Config is the on-disk TOML shape for heymacd, generalized from the
// teacher's cmd/mqttradio Config: one radio block instead of a slice
// (a node has exactly one link-layer identity), plus Beacon and
// Credentials blocks the teacher has no equivalent for.
type Config struct {
	Debug  bool
	Radio  RadioConfig
	Mqtt   MqttConfig
	Beacon BeaconConfig
}

// RadioConfig describes the single SX127x chip heymacd drives, the same
// SPI/GPIO shape as the teacher's RadioConfig with LoRa-only fields
// (Rate/Type dropped, since spec.md §4.A has exactly one modulation).
type RadioConfig struct {
	SpiBus     int    `toml:"spi_bus"`
	SpiCS      int    `toml:"spi_cs"`
	CSMuxPin   string `toml:"cs_mux_pin"`
	CSMuxValue int    `toml:"cs_mux_value"`
	ResetPin   string `toml:"reset_pin"`
	// DioPins names the GPIO line wired to each DIO0-DIO5 pad that
	// matters for phy's IRQ mapping (dioMapListening/dioMapTxing and the
	// txing state's DIO5=ModeReady backstop wake): index 0 = DIO0,
	// index 3 = DIO3, index 5 = DIO5. An empty string leaves that pad
	// unwired.
	DioPins      [6]string `toml:"dio_pins"`
	Freq         int64     // Hz, staged as FieldFrequency
	Bandwidth    int64     // Hz, staged as FieldBandwidth
	SpreadFactor int64     `toml:"spread_factor"`
	CodingRate   int64     `toml:"coding_rate"`
	SyncWord     int64     `toml:"sync_word"`
	Power        int64     // dBm, staged as FieldOutputPower
}

// MqttConfig is identical in shape to the teacher's, since the wire
// protocol to the broker doesn't change.
type MqttConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Prefix   string // topic prefix, default "heymac"
}

func (c MqttConfig) prefix() string {
	if c.Prefix == "" {
		return "heymac"
	}
	return c.Prefix
}

// BeaconConfig parameterizes the LNK state machine and where it finds
// node credentials; CredentialsPath is the on-disk file spec.md §1
// treats as out of scope to generate but not out of scope to load.
type BeaconConfig struct {
	CredentialsPath string `toml:"credentials_path"`
	PeriodSeconds   int    `toml:"period_seconds"`
	Capabilities    uint16
	Status          uint16
	ListenByDefault bool `toml:"listen_by_default"`
}

func (b BeaconConfig) period() time.Duration {
	if b.PeriodSeconds <= 0 {
		return 32 * time.Second
	}
	return time.Duration(b.PeriodSeconds) * time.Second
}
