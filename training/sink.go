package training

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/whitebrush/go-cartoon/checkpoints"
	"github.com/whitebrush/go-cartoon/models"
	"github.com/whitebrush/go-cartoon/tensor"
	"github.com/whitebrush/go-cartoon/vision/preprocessing"
)

// ArtifactSink persists periodic training artifacts: qualitative preview
// images of the generator on a fixed tracked batch, and weight checkpoints
// for both models. Failure to write any single artifact is logged and
// skipped; the in-memory training state is still valid, so the run
// continues.
//
// Trigger conventions, driven by the global iteration counter observed
// after each step:
//   - previews fire when iters%PreviewInterval == 0, including iteration 0
//     (a pretrained-baseline preview);
//   - checkpoints fire when iters > 0 and iters%CheckpointInterval == 0,
//     so an interval of 2 over 5 steps yields exactly 2 checkpoint events.
type ArtifactSink struct {
	previewInterval    int
	checkpointInterval int
	previewDir         string
	checkpointDir      string
	logger             *log.Logger

	previewEvents    int
	checkpointEvents int
}

// NewArtifactSink builds a sink from the trainer config. A non-positive
// interval disables that artifact kind.
func NewArtifactSink(config TrainerConfig, logger *log.Logger) *ArtifactSink {
	if logger == nil {
		logger = log.Default()
	}
	return &ArtifactSink{
		previewInterval:    config.PreviewInterval,
		checkpointInterval: config.CheckpointInterval,
		previewDir:         config.PreviewDir,
		checkpointDir:      config.CheckpointDir,
		logger:             logger,
	}
}

// PreviewEvents returns how many preview triggers have fired.
func (s *ArtifactSink) PreviewEvents() int { return s.previewEvents }

// CheckpointEvents returns how many checkpoint triggers have fired.
func (s *ArtifactSink) CheckpointEvents() int { return s.checkpointEvents }

func shouldPreview(iters, interval int) bool {
	return interval > 0 && iters%interval == 0
}

func shouldCheckpoint(iters, interval int) bool {
	return interval > 0 && iters > 0 && iters%interval == 0
}

// Observe checks the counters after a step and writes whatever artifacts
// are due.
func (s *ArtifactSink) Observe(netG, netD models.Model, tracked *tensor.Tensor, epoch, batchIdx, iters int, errG float32) {
	if shouldPreview(iters, s.previewInterval) {
		s.previewEvents++
		s.writePreview(netG, tracked, epoch, batchIdx)
	}
	if shouldCheckpoint(iters, s.checkpointInterval) {
		s.checkpointEvents++
		s.writeCheckpoints(netG, netD, epoch, iters, errG)
	}
}

// writePreview runs the generator in inference mode on the tracked batch
// and saves the denormalized output as a PNG grid.
func (s *ArtifactSink) writePreview(netG models.Model, tracked *tensor.Tensor, epoch, batchIdx int) {
	prev := tensor.SetGradEnabled(false)
	fake, err := netG.Forward(tracked)
	tensor.SetGradEnabled(prev)
	if err != nil {
		s.logger.Printf("preview generation failed: %v", err)
		return
	}

	path := filepath.Join(s.previewDir, fmt.Sprintf("%d_%d.png", epoch, batchIdx))
	if err := preprocessing.SaveImageGrid(path, fake, 2); err != nil {
		s.logger.Printf("preview write failed: %v", err)
	}
}

// writeCheckpoints persists both models' parameter sets, filenames keyed
// by epoch, iteration and current generator loss.
func (s *ArtifactSink) writeCheckpoints(netG, netD models.Model, epoch, iters int, errG float32) {
	state := checkpoints.TrainingState{Epoch: epoch, Step: iters, GeneratorLoss: errG}

	for _, m := range []struct {
		prefix string
		model  models.Model
	}{
		{"netG", netG},
		{"netD", netD},
	} {
		path := filepath.Join(s.checkpointDir, checkpoints.Filename(m.prefix, epoch, iters, errG))
		ckpt, err := checkpoints.FromModel(m.model, state)
		if err != nil {
			s.logger.Printf("checkpoint build failed for %s: %v", m.prefix, err)
			continue
		}
		if err := checkpoints.Save(path, ckpt); err != nil {
			s.logger.Printf("checkpoint write failed for %s: %v", m.prefix, err)
		}
	}
}
