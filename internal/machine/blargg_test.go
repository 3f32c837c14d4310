package machine

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
)

// findROMs recursively collects .gb files under dir.
func findROMs(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".gb") {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

// runBlargg steps a Machine, tapping serial the way spec §6 describes the
// harness doing it: poll SC (0xFF02) for 0x81, consume SB (0xFF01), and
// clear SC.
func runBlargg(t *testing.T, romPath string, maxCycles int) {
	t.Helper()
	m := New(Config{})
	if err := m.LoadROMFromFile(romPath); err != nil {
		t.Fatalf("load ROM: %v", err)
	}

	var serial bytes.Buffer
	cycles := 0
	for cycles < maxCycles {
		c, err := m.Step()
		if err != nil {
			t.Fatalf("%s: %v", filepath.Base(romPath), err)
		}
		cycles += c

		b := m.Bus()
		if b.Read(0xFF02) == 0x81 {
			serial.WriteByte(b.Read(0xFF01))
			b.Write(0xFF02, 0x01)
		}

		out := serial.String()
		if strings.Contains(out, "Passed") {
			return
		}
		if strings.Contains(out, "Failed") {
			t.Fatalf("%s reported failure via serial:\n%s", filepath.Base(romPath), out)
		}
	}
	t.Fatalf("timeout waiting for serial 'Passed' in %s; last output:\n%s", filepath.Base(romPath), serial.String())
}

// TestBlargg scans testroms/blargg (or BLARGG_DIR) and runs all .gb ROMs
// found, opt-in via RUN_BLARGG to avoid a slow default test run (spec §8,
// scenarios S1/S2).
func TestBlargg(t *testing.T) {
	if os.Getenv("RUN_BLARGG") == "" {
		t.Skip("set RUN_BLARGG=1 and place ROMs under testroms/blargg or set BLARGG_DIR to run")
	}

	base := os.Getenv("BLARGG_DIR")
	if base == "" {
		var root string
		if _, file, _, ok := runtime.Caller(0); ok {
			dir := filepath.Dir(file)
			for {
				if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
					root = dir
					break
				}
				parent := filepath.Dir(dir)
				if parent == dir {
					break
				}
				dir = parent
			}
		}
		if root == "" {
			if wd, err := os.Getwd(); err == nil {
				root = wd
			} else {
				root = "."
			}
		}
		base = filepath.Join(root, "testroms", "blargg")
	}
	if _, err := os.Stat(base); err != nil {
		t.Skipf("blargg ROM dir missing: %s", base)
	}

	roms, err := findROMs(base)
	if err != nil {
		t.Fatalf("scan ROMs: %v", err)
	}
	if len(roms) == 0 {
		t.Skipf("no ROMs found in %s", base)
	}

	maxCycles := 1800 * 17556
	if v := os.Getenv("BLARGG_MAX_CYCLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxCycles = n
		}
	}

	for _, rom := range roms {
		rom := rom
		name := strings.TrimSuffix(filepath.Base(rom), filepath.Ext(rom))
		t.Run(name, func(t *testing.T) { runBlargg(t, rom, maxCycles) })
	}
}
