// corerun is a thin headless driver: it loads a cartridge image, steps
// the core, taps serial output, and on request reports a CRC32 of the
// framebuffer. It is the one concession to an external caller this
// module makes — no rendering, no windowing, no presentation layer.
package main

import (
	"flag"
	"fmt"
	"hash/crc32"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fmnoll/dmgcore/internal/machine"
)

func main() {
	romPath := flag.String("rom", "", "path to ROM (.gb)")
	maxCycles := flag.Int("cycles", 50_000_000, "max machine cycles to run")
	trace := flag.Bool("trace", false, "print each CPU step")
	traceTimer := flag.Bool("traceTimer", false, "print each timer update")
	until := flag.String("until", "Passed", "stop when serial output contains this substring (case-insensitive); empty to disable")
	timeout := flag.Duration("timeout", 0, "optional wall-clock timeout (e.g. 30s); 0 disables")
	checksum := flag.Bool("checksum", false, "print a CRC32 of the final framebuffer on exit")
	flag.Parse()

	if *romPath == "" {
		log.Fatal("-rom is required")
	}
	rom, err := os.ReadFile(*romPath)
	if err != nil {
		log.Fatalf("read rom: %v", err)
	}

	m := machine.New(machine.Config{Trace: *trace, TraceTimer: *traceTimer})
	if err := m.LoadROM(rom); err != nil {
		log.Printf("dmgcore: %v", err)
	}

	start := time.Now()
	var deadline time.Time
	if *timeout > 0 {
		deadline = start.Add(*timeout)
	}

	var serial strings.Builder
	cycles := 0
	for i := 0; i < *maxCycles; {
		c, err := m.Step()
		if err != nil {
			fmt.Printf("\ncore error after %d cycles: %v\n", cycles, err)
			os.Exit(1)
		}
		cycles += c
		i += c

		// Test harness serial tap (spec §6): poll SC for 0x81, consume SB.
		b := m.Bus()
		if b.Read(0xFF02) == 0x81 {
			ch := b.Read(0xFF01)
			serial.WriteByte(ch)
			fmt.Print(string(ch))
			b.Write(0xFF02, 0x01)
		}

		if *until != "" && strings.Contains(strings.ToLower(serial.String()), strings.ToLower(*until)) {
			fmt.Printf("\nDetected %q in serial output.\n", *until)
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			fmt.Printf("\nTimeout after %s.\n", time.Since(start).Truncate(time.Millisecond))
			break
		}
	}

	fmt.Printf("\nDone: cycles=%d elapsed=%s\n", cycles, time.Since(start).Truncate(time.Millisecond))

	if *checksum {
		sum := crc32.ChecksumIEEE(m.Framebuffer())
		fmt.Printf("framebuffer crc32=%08x\n", sum)
	}
}
