package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	data := `
sources:
  - channel: whales
    position_size: 200
    leverage: 20
    margin_mode: isolated
    dynamic_sl: true
  - channel: scalps
    position_size: 25
    leverage: 5
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	profiles, err := LoadSources(path)
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("profiles = %d, want 2", len(profiles))
	}
	w := profiles["whales"]
	if w.PositionSize != 200 || w.Leverage != 20 || !w.DynamicSL || w.MarginMode != "isolated" {
		t.Errorf("whales profile wrong: %+v", w)
	}
	if profiles["scalps"].DynamicSL {
		t.Error("scalps profile should not trail")
	}
}

func TestLoadSourcesMissingFile(t *testing.T) {
	profiles, err := LoadSources(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(profiles) != 0 {
		t.Errorf("profiles = %d, want 0", len(profiles))
	}
}
