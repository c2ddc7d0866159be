package phy

import (
	"time"

	"github.com/kc4ksu/heymac/hsm"
	"periph.io/x/periph/conn/gpio"
)

// WireDIO starts one goroutine per physical DIO pin that converts its
// rising edges into sigIRQ events posted to the PHY's loop, directly
// modeled on the teacher's sx1276.Radio.worker interrupt-to-channel
// goroutine (WaitForEdge in a loop, forward to the single event loop).
// Real hardware bring-up calls this once, with every configured pin,
// after Start; tests drive the state machine directly via loop.Post
// instead.
func (p *PHY) WireDIO(pins ...gpio.PinIO) {
	for _, pin := range pins {
		go p.watchDIO(pin)
	}
}

func (p *PHY) watchDIO(pin gpio.PinIO) {
	for {
		if !pin.WaitForEdge(time.Second) {
			if pin.Read() != gpio.High {
				continue
			}
		}
		p.loop.Post(p.m, hsm.Event{Signal: sigIRQ})
	}
}
