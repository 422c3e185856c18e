// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

package chunker

// gearTable is the 256-entry pseudo-random table FastCDC's gear hash
// multiplies into the rolling fingerprint, one entry per possible
// input byte value. Per §4.A the table must be fixed across runs and
// across processes so that chunk boundaries are reproducible; it is
// generated once, at package init, from a fixed-seed splitmix64
// stream rather than hand-transcribed, so the derivation is visible
// and auditable instead of 256 magic constants.
var gearTable [256]uint64

// gearTableSeed fixes the splitmix64 stream. Changing it would change
// every chunk boundary ever produced — treat it as part of the wire
// format.
const gearTableSeed uint64 = 0x9e3779b97f4a7c15

func init() {
	state := gearTableSeed
	for i := range gearTable {
		state += 0x9e3779b97f4a7c15
		z := state
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z = z ^ (z >> 31)
		gearTable[i] = z
	}
}
