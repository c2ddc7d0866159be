// Copyright (c) 2016 by Thorsten von Eicken, see LICENSE file for details

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// telemetry is a publish-only MQTT bridge: heymacd never subscribes
// (there is no MQTT->radio path, unlike the teacher's mqttradio), so it
// only needs the half of the teacher's mq that pushes JSON to a broker.
type telemetry struct {
	conn   mqtt.Client
	prefix string
}

// newTelemetry connects to the broker and returns a handle, or nil (not
// an error) if conf.Host is empty, which disables telemetry entirely.
func newTelemetry(conf MqttConfig, debug LogPrintf) (*telemetry, error) {
	if conf.Host == "" {
		return nil, nil
	}
	if debug != nil {
		debug("Configuring MQTT: %+v", conf)
	}
	mqtt.ERROR = log.New(os.Stderr, "", 0)
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", conf.Host, conf.Port))
	opts.ClientID = "heymacd"
	opts.Username = conf.User
	opts.Password = conf.Password

	conn := mqtt.NewClient(opts)
	if token := conn.Connect(); !token.WaitTimeout(10 * time.Second) {
		return nil, token.Error()
	}
	log.Printf("MQTT connected")
	return &telemetry{conn: conn, prefix: conf.prefix()}, nil
}

// publish marshals payload as JSON and publishes it under
// prefix/suffix. A nil receiver is a valid no-op, so callers don't need
// to guard every call site with a telemetry-enabled check.
func (t *telemetry) publish(suffix string, payload interface{}) {
	if t == nil {
		return
	}
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		log.Printf("heymacd: cannot marshal %s payload: %v", suffix, err)
		return
	}
	t.conn.Publish(t.prefix+"/"+suffix, 1, false, jsonPayload)
}

// neighborSnapshot is the JSON shape heymacd publishes every 30 seconds
// with the current neighbor table, for dashboards to graph mesh
// topology over time.
type neighborSnapshot struct {
	At        time.Time `json:"at"`
	Count     int       `json:"count"`
	Addrs     []string  `json:"addrs"`
}

// rxSummary is the JSON shape published for every reception heymacd's
// LNK layer hands up, mirroring the teacher's RawRxPacket but at the
// command layer instead of the raw-bytes layer.
type rxSummary struct {
	At      time.Time `json:"at"`
	Rssi    int32     `json:"rssi"`
	Snr     float32   `json:"snr"`
	Command string    `json:"command"`
	Saddr   string    `json:"saddr,omitempty"`
}
