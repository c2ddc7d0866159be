// Package heymac implements the HeyMac link-layer radio networking stack
// for Semtech SX127x LoRa modems: neighbor discovery via beacons, CSMA
// frame exchange, a compact binary frame format, and a hierarchical
// (HONR) addressing and routing discipline.
//
// The packages are organized the way github.com/tve/devices organizes
// its radio drivers: one package per concern, each usable standalone.
//
//   - sx127x: the register driver for a single SX127x chip.
//   - phy: the cooperative state machine that schedules TX/RX/sleep on
//     top of the driver.
//   - frame: the Heymac wire format and its command catalog.
//   - lnk: the link-layer state machine (lurk/beacon/link) and neighbor
//     table.
//   - honr: pure functions over hierarchical HONR addresses.
//   - hsm: the shared hierarchical-state-machine/timer substrate used by
//     phy and lnk.
package heymac
