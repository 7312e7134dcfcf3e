// Package config holds the sampler's run configuration (spec §6's CLI
// surface) and the plain-text .ini echo Session writes alongside every
// checkpoint. Grounded on the teacher's CSV writers (functions.go's
// OutputForecastsToCSV/OutputGrangerMatrixToCSV: one fmt.Fprintf per
// line, no encoding library) applied to "[section]\nkey=value" instead
// of CSV.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/smurff-go/smurff/internal/errs"
)

// Config mirrors the CLI flags of spec §6.
type Config struct {
	Train      string
	Test       string
	NumLatent  int
	Burnin     int
	NSamples   int
	Priors     []string       // one entry per mode, e.g. ["normal", "macau"]
	SideInfo   map[int]string // mode -> side-information file path
	Seed       uint64
	SavePrefix string
	SaveFreq   int
	Threshold  float64
	Verbose    bool
	NumWorkers int // 0 means "all cores", per spec §5
}

// Validate checks the cross-field invariants spec §6/§1 require before
// Session ever touches a file: --train set, num-latent >= 1,
// burnin/nsamples non-negative, at least one recognized prior, and
// side information only on macau/macauone modes. The number of priors is
// not checked against the relation's mode count here.
func (c *Config) Validate() error {
	if c.Train == "" {
		return errs.Newf(errs.Config, "config.Validate", "--train is required")
	}
	if c.NumLatent < 1 {
		return errs.Newf(errs.Config, "config.Validate", "--num-latent must be >= 1, got %d", c.NumLatent)
	}
	if c.Burnin < 0 {
		return errs.Newf(errs.Config, "config.Validate", "--burnin must be >= 0, got %d", c.Burnin)
	}
	if c.NSamples < 0 {
		return errs.Newf(errs.Config, "config.Validate", "--nsamples must be >= 0, got %d", c.NSamples)
	}
	if len(c.Priors) == 0 {
		return errs.Newf(errs.Config, "config.Validate", "at least one --prior is required")
	}
	for _, p := range c.Priors {
		switch p {
		case "normal", "normalone", "macau", "macauone", "spikeandslab":
		default:
			return errs.Newf(errs.Config, "config.Validate", "unrecognized prior %q", p)
		}
	}
	for mode := range c.SideInfo {
		if mode < 0 || mode >= len(c.Priors) {
			return errs.Newf(errs.Config, "config.Validate", "--side-info mode %d has no matching --prior entry", mode)
		}
		if !strings.HasPrefix(c.Priors[mode], "macau") {
			return errs.Newf(errs.Config, "config.Validate", "--side-info given for mode %d but its prior %q is not macau/macauone", mode, c.Priors[mode])
		}
	}
	return nil
}

// WriteOptionsIni writes the canonical config echo to path; Session
// passes "PFX-options.ini" (spec §6's checkpoint layout).
func WriteOptionsIni(path string, c *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.New(errs.IO, path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "[global]")
	fmt.Fprintf(w, "train=%s\n", c.Train)
	fmt.Fprintf(w, "test=%s\n", c.Test)
	fmt.Fprintf(w, "num_latent=%d\n", c.NumLatent)
	fmt.Fprintf(w, "burnin=%d\n", c.Burnin)
	fmt.Fprintf(w, "nsamples=%d\n", c.NSamples)
	fmt.Fprintf(w, "priors=%s\n", strings.Join(c.Priors, ","))
	fmt.Fprintf(w, "seed=%d\n", c.Seed)
	fmt.Fprintf(w, "save_prefix=%s\n", c.SavePrefix)
	fmt.Fprintf(w, "save_freq=%d\n", c.SaveFreq)
	fmt.Fprintf(w, "threshold=%g\n", c.Threshold)
	fmt.Fprintf(w, "verbose=%t\n", c.Verbose)
	fmt.Fprintf(w, "num_workers=%d\n", c.NumWorkers)
	if len(c.SideInfo) > 0 {
		fmt.Fprintln(w, "[side_info]")
		for mode, path := range c.SideInfo {
			fmt.Fprintf(w, "%d=%s\n", mode, path)
		}
	}
	if err := w.Flush(); err != nil {
		return errs.New(errs.IO, path, err)
	}
	return nil
}

// ReadOptionsIni reads back the layout WriteOptionsIni writes.
func ReadOptionsIni(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.IO, path, err)
	}
	defer f.Close()

	c := &Config{SideInfo: map[int]string{}}
	section := ""
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.Trim(line, "[]")
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return nil, errs.Newf(errs.IO, path, "malformed line %q", line)
		}
		if err := c.setField(path, section, key, val); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errs.New(errs.IO, path, err)
	}
	return c, nil
}

func (c *Config) setField(path, section, key, val string) error {
	if section == "side_info" {
		mode, err := strconv.Atoi(key)
		if err != nil {
			return errs.New(errs.IO, path, err)
		}
		c.SideInfo[mode] = val
		return nil
	}
	var err error
	switch key {
	case "train":
		c.Train = val
	case "test":
		c.Test = val
	case "num_latent":
		c.NumLatent, err = strconv.Atoi(val)
	case "burnin":
		c.Burnin, err = strconv.Atoi(val)
	case "nsamples":
		c.NSamples, err = strconv.Atoi(val)
	case "priors":
		if val != "" {
			c.Priors = strings.Split(val, ",")
		}
	case "seed":
		c.Seed, err = strconv.ParseUint(val, 10, 64)
	case "save_prefix":
		c.SavePrefix = val
	case "save_freq":
		c.SaveFreq, err = strconv.Atoi(val)
	case "threshold":
		c.Threshold, err = strconv.ParseFloat(val, 64)
	case "verbose":
		c.Verbose, err = strconv.ParseBool(val)
	case "num_workers":
		c.NumWorkers, err = strconv.Atoi(val)
	default:
		return errs.Newf(errs.IO, path, "unknown config key %q", key)
	}
	if err != nil {
		return errs.New(errs.IO, path, err)
	}
	return nil
}

// RootIndex is the "PFX-root.ini" index of completed sample steps (spec
// §6): one line per saved iteration, rewritten atomically on every save
// so a reader never observes a partially written index.
type RootIndex struct {
	Path  string
	Steps []int
}

// NewRootIndex builds an empty index at path.
func NewRootIndex(path string) *RootIndex { return &RootIndex{Path: path} }

// Append records iter as saved and rewrites the index file atomically:
// write to a temp file in the same directory, then rename over path,
// which is atomic on every platform Go's os.Rename supports for
// same-filesystem renames.
func (r *RootIndex) Append(iter int) error {
	r.Steps = append(r.Steps, iter)
	tmp := r.Path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errs.New(errs.IO, r.Path, err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "[samples]")
	for _, s := range r.Steps {
		fmt.Fprintf(w, "iter=%d\n", s)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errs.New(errs.IO, r.Path, err)
	}
	if err := f.Close(); err != nil {
		return errs.New(errs.IO, r.Path, err)
	}
	if err := os.Rename(tmp, r.Path); err != nil {
		return errs.New(errs.IO, r.Path, err)
	}
	return nil
}

// ReadRootIndex reads back the iteration list an earlier RootIndex wrote.
func ReadRootIndex(path string) (*RootIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.IO, path, err)
	}
	defer f.Close()

	r := &RootIndex{Path: path}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line == "[samples]" {
			continue
		}
		_, val, ok := strings.Cut(line, "=")
		if !ok {
			return nil, errs.Newf(errs.IO, path, "malformed line %q", line)
		}
		iter, err := strconv.Atoi(val)
		if err != nil {
			return nil, errs.New(errs.IO, path, err)
		}
		r.Steps = append(r.Steps, iter)
	}
	if err := sc.Err(); err != nil {
		return nil, errs.New(errs.IO, path, err)
	}
	return r, nil
}

// LastIter returns the most recently saved iteration, and whether any
// sample has been saved yet.
func (r *RootIndex) LastIter() (int, bool) {
	if len(r.Steps) == 0 {
		return 0, false
	}
	return r.Steps[len(r.Steps)-1], true
}
