package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/kc4ksu/heymac/lnk"
)

// credFile is the on-disk shape of a credentials file: hex-encoded
// binary fields, TOML-wrapped like every other heymacd config file.
// Generating one (key pairs, X.509) is out of scope per spec.md §1;
// this only loads what a provisioning step already dropped in place.
type credFile struct {
	Callsign string
	PubKey   string `toml:"pub_key"`
	LinkAddr string `toml:"link_addr"`
}

// fileLoader returns an lnk.Loader that reads path once per call,
// reporting ok=false (not an error) when the file doesn't exist yet so
// lurking simply retries on its next timer, per spec.md §4.D.
func fileLoader(path string) lnk.Loader {
	return func() (lnk.Credentials, bool, error) {
		raw, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return lnk.Credentials{}, false, nil
		}
		if err != nil {
			return lnk.Credentials{}, false, err
		}
		var cf credFile
		if err := toml.Unmarshal(raw, &cf); err != nil {
			return lnk.Credentials{}, false, fmt.Errorf("parse %s: %w", path, err)
		}
		creds, err := cf.decode()
		if err != nil {
			return lnk.Credentials{}, false, fmt.Errorf("decode %s: %w", path, err)
		}
		return creds, true, nil
	}
}

func (cf credFile) decode() (lnk.Credentials, error) {
	var creds lnk.Credentials
	creds.Callsign = cf.Callsign

	addr, err := hex.DecodeString(cf.LinkAddr)
	if err != nil {
		return creds, fmt.Errorf("link_addr: %w", err)
	}
	if len(addr) != len(creds.LinkAddr) {
		return creds, fmt.Errorf("link_addr: want %d bytes, got %d", len(creds.LinkAddr), len(addr))
	}
	copy(creds.LinkAddr[:], addr)

	if cf.PubKey != "" {
		key, err := hex.DecodeString(cf.PubKey)
		if err != nil {
			return creds, fmt.Errorf("pub_key: %w", err)
		}
		if len(key) != len(creds.PubKey) {
			return creds, fmt.Errorf("pub_key: want %d bytes, got %d", len(creds.PubKey), len(key))
		}
		copy(creds.PubKey[:], key)
	}

	return creds, nil
}
