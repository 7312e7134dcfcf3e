package config

import (
	"path/filepath"
	"testing"
)

func TestConfig_ValidateRejectsMissingTrain(t *testing.T) {
	c := &Config{NumLatent: 4, Priors: []string{"normal"}}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for missing --train")
	}
}

func TestConfig_ValidateRejectsSideInfoWithoutMacau(t *testing.T) {
	c := &Config{
		Train: "x.mtx", NumLatent: 4, Priors: []string{"normal"},
		SideInfo: map[int]string{0: "f.mtx"},
	}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for side info on a non-macau mode")
	}
}

func TestConfig_ValidateAcceptsWellFormed(t *testing.T) {
	c := &Config{
		Train: "x.mtx", NumLatent: 4, Burnin: 10, NSamples: 20,
		Priors: []string{"normal", "macau"}, SideInfo: map[int]string{1: "f.mtx"},
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestOptionsIni_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opts.ini")

	c := &Config{
		Train: "train.mtx", Test: "test.mtx", NumLatent: 8, Burnin: 50, NSamples: 200,
		Priors: []string{"normal", "macau"}, SideInfo: map[int]string{1: "side.mtx"},
		Seed: 12345, SavePrefix: "out", SaveFreq: 10, Threshold: 0.5, Verbose: true, NumWorkers: 4,
	}
	if err := WriteOptionsIni(path, c); err != nil {
		t.Fatalf("WriteOptionsIni: %v", err)
	}
	got, err := ReadOptionsIni(path)
	if err != nil {
		t.Fatalf("ReadOptionsIni: %v", err)
	}
	if got.Train != c.Train || got.NumLatent != c.NumLatent || got.Seed != c.Seed {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, c)
	}
	if len(got.Priors) != 2 || got.Priors[1] != "macau" {
		t.Fatalf("priors round trip mismatch: %v", got.Priors)
	}
	if got.SideInfo[1] != "side.mtx" {
		t.Fatalf("side info round trip mismatch: %v", got.SideInfo)
	}
}

func TestRootIndex_AppendIsAtomicAndReadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "root.ini")
	r := NewRootIndex(path)

	for _, iter := range []int{0, 1, 2} {
		if err := r.Append(iter); err != nil {
			t.Fatalf("Append(%d): %v", iter, err)
		}
	}

	got, err := ReadRootIndex(path)
	if err != nil {
		t.Fatalf("ReadRootIndex: %v", err)
	}
	last, ok := got.LastIter()
	if !ok || last != 2 {
		t.Fatalf("LastIter() = (%d, %v), want (2, true)", last, ok)
	}
	if len(got.Steps) != 3 {
		t.Fatalf("Steps = %v, want 3 entries", got.Steps)
	}
}
