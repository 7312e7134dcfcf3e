// Package session drives the Gibbs sampler's burn-in and sampling
// loop: mode ordering, per-mode parallel column resampling, prediction
// aggregation, status printing, checkpoint scheduling, and SIGINT
// handling (spec §4.8-§4.9, §5, §6, §7).
//
// Grounded on _examples/original_source/lib/smurff-cpp/SmurffCpp/Sessions/Session.h
// for the loop shape (init/run/step/save); the interrupt check follows
// the context.Context cancellation idiom of the cartographus trainers
// (ContextCancelled checked at the top of each outer loop iteration),
// adapted here to signal.NotifyContext since no pack file wires up OS
// signals itself.
package session

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/smurff-go/smurff/internal/aggregate"
	"github.com/smurff-go/smurff/internal/config"
	"github.com/smurff-go/smurff/internal/data"
	"github.com/smurff-go/smurff/internal/errs"
	"github.com/smurff-go/smurff/internal/model"
	"github.com/smurff-go/smurff/internal/prior"
	"github.com/smurff-go/smurff/internal/rng"
)

// Session owns the Model single-ownership-style (spec §9): Priors and
// Data hold only non-owning references with a lifetime bounded by this
// Session.
type Session struct {
	cfg   *config.Config
	model *model.Model
	train *data.Data

	priors []prior.Prior
	pool   *rng.Pool

	testCoords [][]int
	testTruth  []float64
	agg        *aggregate.PredictionAggregator

	root *config.RootIndex

	iter int // current iter, starts at -Burnin

	ctx    context.Context
	cancel context.CancelFunc
}

// PriorFactory builds prior m's Prior implementation given the shared
// Model/Data; cmd/smurff supplies one per --prior flag (wiring in side
// information for macau/macauone) so this package stays free of CLI
// concerns.
type PriorFactory func(mode, numLatent int, train *data.Data, m *model.Model) (prior.Prior, error)

// New builds a Session: it allocates Model from trainRel's dims,
// constructs Data over trainRel with the given noise model, builds one
// Prior per mode via factories, and sets up the test PredictionAggregator
// from testRel's observations (spec §4.8 "init").
func New(cfg *config.Config, trainRel *data.Relation, testRel *data.Relation, noise data.Noise, factories []PriorFactory) (*Session, error) {
	if len(factories) != trainRel.NModes() {
		return nil, errs.Newf(errs.Assertion, "session.New", "got %d prior factories, want %d (one per mode)", len(factories), trainRel.NModes())
	}

	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	pool := rng.NewPool(cfg.Seed, numWorkers)

	m := model.New()
	initType := model.InitRandom
	if err := m.Init(cfg.NumLatent, trainRel.Dims(), initType, pool.Worker(0)); err != nil {
		return nil, err
	}

	trainData := data.New(trainRel, noise)

	priors := make([]prior.Prior, trainRel.NModes())
	for mode, factory := range factories {
		p, err := factory(mode, cfg.NumLatent, trainData, m)
		if err != nil {
			return nil, err
		}
		priors[mode] = p
	}

	s := &Session{
		cfg:    cfg,
		model:  m,
		train:  trainData,
		priors: priors,
		pool:   pool,
		iter:   -cfg.Burnin,
	}
	s.ctx, s.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if testRel != nil {
		s.testCoords = make([][]int, testRel.Nnz())
		s.testTruth = make([]float64, testRel.Nnz())
		for i := 0; i < testRel.Nnz(); i++ {
			pos := make([]int, testRel.NModes())
			for mm := 0; mm < testRel.NModes(); mm++ {
				pos[mm] = int(testRel.Coords(mm)[i])
			}
			s.testCoords[i] = pos
			s.testTruth[i] = testRel.Vals()[i]
		}
		s.agg = aggregate.New(s.testTruth)
	}

	return s, nil
}

// Model exposes the Session-owned Model (factor matrices and dims).
func (s *Session) Model() *model.Model { return s.model }

// Aggregator exposes the running prediction accumulator, nil if no test
// relation was supplied.
func (s *Session) Aggregator() *aggregate.PredictionAggregator { return s.agg }

// Iter returns the current iteration counter (negative during burn-in).
func (s *Session) Iter() int { return s.iter }

// Run executes burn-in and sampling iterations until NSamples-1 or an
// interrupt/error, per spec §4.8's pseudocode. It returns a
// *errs.Error wrapping Interrupted if a SIGINT/SIGTERM was observed at
// an iteration boundary, after flushing a final checkpoint when a save
// prefix is configured.
func (s *Session) Run() error {
	for ; s.iter < s.cfg.NSamples; s.iter++ {
		select {
		case <-s.ctx.Done():
			return s.handleInterrupt()
		default:
		}

		t0 := time.Now()
		driver := s.pool.Worker(0)
		for _, p := range s.priors {
			if err := p.SampleLatents(s.pool); err != nil {
				return err
			}
			if err := p.UpdatePrior(driver); err != nil {
				return err
			}
		}
		s.train.UpdateNoise(s.model.NLatent(), s.model, driver)

		if s.iter >= 0 && s.agg != nil {
			if err := s.updatePredictions(); err != nil {
				return err
			}
		}

		if s.checkpointDue() {
			if err := s.Save(s.iter); err != nil {
				return err
			}
		}

		s.printStatus(time.Since(t0))
	}
	return nil
}

func (s *Session) handleInterrupt() error {
	if s.cfg.SavePrefix != "" {
		if err := s.Save(s.iter); err != nil {
			return err
		}
	}
	return errs.Newf(errs.Interrupted, "session.Run", "interrupted at iteration %d", s.iter)
}

func (s *Session) checkpointDue() bool {
	if s.cfg.SavePrefix == "" || s.cfg.SaveFreq <= 0 {
		return false
	}
	return s.iter >= 0 && s.iter%s.cfg.SaveFreq == 0
}

// updatePredictions asks Model for every test cell's prediction and
// folds it into the running Welford accumulator (spec §3 "Session
// refreshes the n_test-long pred_mean and pred_var vectors").
func (s *Session) updatePredictions() error {
	preds := make([]float64, len(s.testCoords))
	for i, pos := range s.testCoords {
		p, err := s.model.Predict(pos)
		if err != nil {
			return err
		}
		preds[i] = p
	}
	return s.agg.Add(preds)
}

// printStatus writes a one-line progress update to stderr, mirroring the
// teacher's plain fmt.Fprintf progress style.
func (s *Session) printStatus(elapsed time.Duration) {
	if !s.cfg.Verbose {
		return
	}
	phase := "burnin"
	if s.iter >= 0 {
		phase = "sample"
	}
	line := fmt.Sprintf("iter=%d [%s] took=%s noise_alpha=%.4g", s.iter, phase, elapsed.Round(time.Millisecond), s.train.Noise().Alpha())
	if s.agg != nil && s.agg.NSamples() > 0 {
		line += fmt.Sprintf(" train_rmse=%.4g test_rmse=%.4g", s.trainRMSE(), s.agg.RMSE())
	}
	for _, p := range s.priors {
		line += " | " + p.Status()
	}
	fmt.Fprintln(os.Stderr, line)
}

func (s *Session) trainRMSE() float64 {
	rel := s.train.Relation()
	var sse float64
	for i := 0; i < rel.Nnz(); i++ {
		pos := make([]int, rel.NModes())
		for m := 0; m < rel.NModes(); m++ {
			pos[m] = int(rel.Coords(m)[i])
		}
		pred, err := s.model.Predict(pos)
		if err != nil {
			continue
		}
		d := pred - rel.Vals()[i]
		sse += d * d
	}
	if rel.Nnz() == 0 {
		return 0
	}
	return math.Sqrt(sse / float64(rel.Nnz()))
}

// Save writes a full checkpoint for iteration iter under
// cfg.SavePrefix (spec §6's layout): the model's factor matrices, every
// prior's state, the config echo (once), and the root index (every
// call, atomically rewritten).
func (s *Session) Save(iter int) error {
	if s.cfg.SavePrefix == "" {
		return errs.Newf(errs.Config, "session.Save", "no --save-prefix configured")
	}
	if s.root == nil {
		optionsPath := s.cfg.SavePrefix + "-options.ini"
		cfgCopy := *s.cfg
		cfgCopy.Seed = s.pool.Seed()
		if err := config.WriteOptionsIni(optionsPath, &cfgCopy); err != nil {
			return err
		}
		s.root = config.NewRootIndex(s.cfg.SavePrefix + "-root.ini")
	}

	prefix := fmt.Sprintf("%s-sample-%d", s.cfg.SavePrefix, iter)
	if _, err := s.model.Save(prefix); err != nil {
		return err
	}
	for _, p := range s.priors {
		if _, err := p.Save(prefix); err != nil {
			return err
		}
	}
	return s.root.Append(iter)
}

// Restore reads the most recent checkpoint under prefix back into this
// Session's Model and Priors, and positions iter to resume immediately
// after it. The RNG streams, the noise model's state and the prediction
// aggregator are not restored: the streams restart from the configured
// seed and the aggregator starts empty.
func (s *Session) Restore(prefix string) error {
	root, err := config.ReadRootIndex(prefix + "-root.ini")
	if err != nil {
		return err
	}
	last, ok := root.LastIter()
	if !ok {
		return errs.Newf(errs.Config, "session.Restore", "root index %s has no saved samples", prefix+"-root.ini")
	}
	s.root = root

	samplePrefix := fmt.Sprintf("%s-sample-%d", prefix, last)
	if err := s.model.Restore(samplePrefix); err != nil {
		return err
	}
	for _, p := range s.priors {
		if err := p.Restore(samplePrefix); err != nil {
			return err
		}
	}
	s.iter = last + 1
	return nil
}

// Close releases the signal-notification context. Safe to call once
// Run has returned.
func (s *Session) Close() { s.cancel() }
