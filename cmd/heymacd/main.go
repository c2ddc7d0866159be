// Copyright (c) 2016 by Thorsten von Eicken, see LICENSE file for details

// Command heymacd ties the sx127x, phy, and lnk packages together into
// a running Heymac link-layer node, the way the teacher's
// cmd/mqttradio ties sx1276/sx1231/spimux/mqtt into a raw packet
// gateway: parse flags, load a TOML config, open the radio, and run
// forever.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kc4ksu/heymac/hsm"
	"github.com/kc4ksu/heymac/lnk"
	"github.com/kc4ksu/heymac/phy"
	"github.com/kc4ksu/heymac/spimux"
	"github.com/kc4ksu/heymac/sx127x"
	"github.com/kc4ksu/heymac/thread"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

// LogPrintf matches the teacher's shape: a nil value means "don't log".
type LogPrintf func(format string, v ...interface{})

func main() {
	help := flag.Bool("help", false, "print usage help")
	configFile := flag.String("config", "heymacd.toml", "path to config file")
	flag.Parse()

	if *help {
		fmt.Fprintf(os.Stderr, "Usage: %s [-config file.toml]\n", os.Args[0])
		os.Exit(1)
	}

	config := &Config{}
	rawConfig, err := os.ReadFile(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot access config file: %s\n", err)
		os.Exit(1)
	}
	if err := toml.Unmarshal(rawConfig, config); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot parse config file: %s\n", err)
		os.Exit(1)
	}

	logger := LogPrintf(func(format string, v ...interface{}) {})
	if config.Debug {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
		logger = log.Printf
	}

	mq, err := newTelemetry(config.Mqtt, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to MQTT broker: %s\n", err)
		os.Exit(2)
	}

	if _, err := host.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot initialize host drivers: %s\n", err)
		os.Exit(1)
	}

	conn, reset, err := openRadioConn(config.Radio)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot open radio: %s\n", err)
		os.Exit(1)
	}

	loop := hsm.NewLoop()
	base := radioSettings(config.Radio)

	p := phy.New(loop, conn, reset, base, config.Beacon.ListenByDefault, sx127x.LogPrintf(logger))
	l := lnk.New(loop, p, lnk.Config{
		BeaconPeriod: config.Beacon.period(),
		Capabilities: config.Beacon.Capabilities,
		Status:       config.Beacon.Status,
	}, fileLoader(config.Beacon.CredentialsPath), sx127x.LogPrintf(logger))

	l.SetRxCallback(func(rf lnk.RxFrame) {
		handleReception(mq, rf)
	})

	p.Start()
	l.Start()
	p.WireDIO(openDioPins(config.Radio.DioPins)...)

	go func() {
		for {
			time.Sleep(30 * time.Second)
			n := l.Neighbors()
			addrs := make([]string, len(n))
			for i, nb := range n {
				addrs[i] = fmt.Sprintf("%x", nb.Addr)
			}
			mq.publish("neighbors", neighborSnapshot{At: time.Now(), Count: len(n), Addrs: addrs})
		}
	}()

	if err := thread.Realtime(); err != nil {
		log.Printf("heymacd: could not get realtime scheduling, timing may jitter under load: %s", err)
	}

	log.Printf("heymacd ready, state=%s", l.Current())
	loop.Run()
}

// handleReception publishes an rxSummary for every reception the LNK
// layer hands up, whether or not its command payload decoded cleanly.
func handleReception(mq *telemetry, rf lnk.RxFrame) {
	cmdName := "unknown"
	if rf.CmdErr != nil {
		cmdName = "undecoded"
	} else if rf.Cmd != nil {
		cmdName = fmt.Sprintf("%T", rf.Cmd)
	}
	mq.publish("rx", rxSummary{
		At:      rf.HdrTime,
		Rssi:    rf.RSSI,
		Snr:     rf.SNR,
		Command: cmdName,
		Saddr:   fmt.Sprintf("%x", rf.Frame.Saddr),
	})
}

// radioHz is the SX127x's max SPI clock (its datasheet allows up to
// 10MHz), passed to DevParams for both the muxed and non-muxed cases.
const radioHz = 10000000

// openRadioConn opens the SPI connection and reset pin for the
// configured radio, handling the muxed-chip-select case the same way
// the teacher's startRadio does.
func openRadioConn(r RadioConfig) (spi.Conn, gpio.PinIO, error) {
	var conn spi.Conn
	if r.CSMuxPin == "" {
		port, err := spireg.Open(fmt.Sprintf("SPI%d.%d", r.SpiBus, r.SpiCS))
		if err != nil {
			return nil, nil, err
		}
		conn, err = port.DevParams(radioHz, spi.Mode0, 8)
		if err != nil {
			return nil, nil, err
		}
	} else {
		selPin := gpioreg.ByName(r.CSMuxPin)
		if selPin == nil {
			return nil, nil, fmt.Errorf("cannot open mux pin %s", r.CSMuxPin)
		}
		bus, err := spireg.Open(fmt.Sprintf("SPI%d.%d", r.SpiBus, r.SpiCS))
		if err != nil {
			return nil, nil, err
		}
		radio0, radio1 := spimux.New(bus, selPin)
		if r.CSMuxValue < 0 || r.CSMuxValue > 1 {
			return nil, nil, fmt.Errorf("cs_mux_value must be 0 or 1")
		}
		muxed := radio0
		if r.CSMuxValue == 1 {
			muxed = radio1
		}
		conn, err = muxed.DevParams(radioHz, spi.Mode0, 8)
		if err != nil {
			return nil, nil, err
		}
	}

	var reset gpio.PinIO
	if r.ResetPin != "" {
		reset = gpioreg.ByName(r.ResetPin)
		if reset == nil {
			return nil, nil, fmt.Errorf("cannot open reset pin %s", r.ResetPin)
		}
	}
	return conn, reset, nil
}

// openDioPins resolves whichever DIO pad names are set into gpio.PinIO
// handles for phy.WireDIO, skipping unwired pads rather than failing:
// a board only needs the pads its dioMapListening/dioMapTxing
// configuration actually uses (typically DIO0 and DIO3 for RX, DIO0
// and DIO5 for TX).
func openDioPins(names [6]string) []gpio.PinIO {
	var pins []gpio.PinIO
	for _, name := range names {
		if name == "" {
			continue
		}
		pin := gpioreg.ByName(name)
		if pin == nil {
			log.Printf("heymacd: cannot open DIO pin %s, IRQs on it will be missed", name)
			continue
		}
		pins = append(pins, pin)
	}
	return pins
}

// radioSettings stages the base field overlay phy.New applies before
// every write_settings call, from the config's plain values.
func radioSettings(r RadioConfig) map[string]int64 {
	s := map[string]int64{
		sx127x.FieldLoRaMode:        1,
		sx127x.FieldFrequency:       r.Freq,
		sx127x.FieldBandwidth:       r.Bandwidth,
		sx127x.FieldSpreadingFactor: r.SpreadFactor,
		sx127x.FieldCodingRate:      r.CodingRate,
		sx127x.FieldOutputPower:     r.Power,
		sx127x.FieldCRCOn:           1,
	}
	if r.SyncWord != 0 {
		s[sx127x.FieldSyncWord] = r.SyncWord
	} else {
		s[sx127x.FieldSyncWord] = lnk.SyncWord
	}
	return s
}
