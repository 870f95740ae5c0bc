package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeProfile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
}

func TestScanProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "butler.yaml", "name: butler\nvoice: onyx\nsystem_prompt: You are a butler.\n")
	writeProfile(t, dir, "narrator.yml", "voice: fable\ntemperature: 0.9\n")
	writeProfile(t, dir, "broken.yaml", "voice: [not a voice\n")
	writeProfile(t, dir, "notes.txt", "ignored")

	profiles, err := ScanProfiles(dir)
	if err != nil {
		t.Fatalf("ScanProfiles error: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("len(profiles)=%d, want 2", len(profiles))
	}

	butler, ok := FindProfile(profiles, "butler")
	if !ok {
		t.Fatal("FindProfile(butler) not found")
	}
	if butler.Voice != "onyx" {
		t.Fatalf("butler.Voice=%q, want onyx", butler.Voice)
	}

	narrator, ok := FindProfile(profiles, "narrator")
	if !ok {
		t.Fatal("FindProfile(narrator) not found")
	}
	if narrator.Temperature == nil || *narrator.Temperature != 0.9 {
		t.Fatalf("narrator.Temperature=%v, want 0.9", narrator.Temperature)
	}
}

func TestScanProfilesMissingDir(t *testing.T) {
	profiles, err := ScanProfiles(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("ScanProfiles error: %v", err)
	}
	if len(profiles) != 0 {
		t.Fatalf("len(profiles)=%d, want 0", len(profiles))
	}
}

func TestReadProfileRejectsUnknownVoice(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "bad.yaml", "voice: hal9000\n")
	if _, err := ReadProfile(filepath.Join(dir, "bad.yaml")); err == nil {
		t.Fatal("ReadProfile error=nil, want non-nil")
	}
}
