// Command go-cartoon trains the photo-to-cartoon GAN: a generator learning
// the cartoon style against a patch discriminator that treats edge-smoothed
// cartoons as negatives.
//
// The cartoon directory must hold paired images, each twice as wide as it is
// tall, cartoon frame on the left and its edge-smoothed counterpart on the
// right. The photo directory holds ordinary photos.
package main

import (
	"flag"
	"log"
	"math/rand"
	"os"

	"github.com/whitebrush/go-cartoon/checkpoints"
	"github.com/whitebrush/go-cartoon/models"
	"github.com/whitebrush/go-cartoon/training"
	"github.com/whitebrush/go-cartoon/vision/dataloader"
	"github.com/whitebrush/go-cartoon/vision/dataset"
)

func main() {
	cartoonDir := flag.String("cartoon-dir", "", "Directory of paired cartoon|edge images (required)")
	photoDir := flag.String("photo-dir", "", "Directory of real photos (required)")
	pretrained := flag.String("pretrained", "", "Generator checkpoint to start from (required)")
	previewDir := flag.String("preview-dir", "previews", "Directory for preview image grids")
	checkpointDir := flag.String("checkpoint-dir", "checkpoints", "Directory for model checkpoints")
	plotPath := flag.String("plot", "losses.png", "Loss-history chart path (empty disables)")

	epochs := flag.Int("epochs", 100, "Number of training epochs")
	batchSize := flag.Int("batch-size", 16, "Batch size")
	imageSize := flag.Int("image-size", 64, "Square image resolution")
	hidden := flag.Int("hidden", 64, "Hidden channel width of both networks")

	lr := flag.Float64("lr", 1e-4, "AdamW learning rate")
	beta1 := flag.Float64("beta1", 0.5, "AdamW beta1")
	beta2 := flag.Float64("beta2", 0.99, "AdamW beta2")
	weightDecay := flag.Float64("weight-decay", 1e-4, "AdamW weight decay")

	logInterval := flag.Int("log-interval", 125, "Batches between console log lines")
	previewInterval := flag.Int("preview-interval", 200, "Iterations between preview grids")
	checkpointInterval := flag.Int("checkpoint-interval", 1000, "Iterations between checkpoints")
	initScale := flag.Float64("init-scale", 65536, "Initial gradient scale")
	seed := flag.Int64("seed", 1337, "PRNG seed")

	flag.Parse()

	if *cartoonDir == "" || *photoDir == "" || *pretrained == "" {
		flag.Usage()
		os.Exit(2)
	}

	rng := rand.New(rand.NewSource(*seed))

	netG, err := models.NewGenerator(3, *hidden, rng)
	if err != nil {
		log.Fatalf("build generator: %v", err)
	}
	netD, err := models.NewDiscriminator(3, *hidden, rng)
	if err != nil {
		log.Fatalf("build discriminator: %v", err)
	}

	// The adversarial phase builds on a generator already trained to
	// reconstruct photos; starting from random weights collapses early.
	if err := checkpoints.LoadInto(*pretrained, netG); err != nil {
		log.Fatalf("load pretrained generator %s: %v", *pretrained, err)
	}
	log.Printf("loaded pretrained generator from %s", *pretrained)

	cartoonFolder, err := dataset.NewImageFolder(*cartoonDir, *imageSize, true)
	if err != nil {
		log.Fatalf("cartoon dataset: %v", err)
	}
	photoFolder, err := dataset.NewImageFolder(*photoDir, *imageSize, false)
	if err != nil {
		log.Fatalf("photo dataset: %v", err)
	}
	log.Printf("datasets: %d paired cartoons, %d photos", cartoonFolder.Len(), photoFolder.Len())

	cartoonLoader, err := dataloader.NewDataLoader(cartoonFolder, *batchSize, rng)
	if err != nil {
		log.Fatalf("cartoon loader: %v", err)
	}
	photoLoader, err := dataloader.NewDataLoader(photoFolder, *batchSize, rng)
	if err != nil {
		log.Fatalf("photo loader: %v", err)
	}

	adamConfig := training.AdamWConfig{
		LearningRate: *lr,
		Beta1:        *beta1,
		Beta2:        *beta2,
		Epsilon:      1e-8,
		WeightDecay:  *weightDecay,
	}
	optG := training.NewAdamW(netG.Parameters(), adamConfig)
	optD := training.NewAdamW(netD.Parameters(), adamConfig)

	scalerConfig := training.DefaultGradScalerConfig()
	scalerConfig.InitScale = float32(*initScale)
	scaler := training.NewGradScaler(scalerConfig)

	trainerConfig := training.TrainerConfig{
		Epochs:             *epochs,
		ImageSize:          *imageSize,
		BatchSize:          *batchSize,
		LogInterval:        *logInterval,
		PreviewInterval:    *previewInterval,
		CheckpointInterval: *checkpointInterval,
		PreviewDir:         *previewDir,
		CheckpointDir:      *checkpointDir,
		PlotPath:           *plotPath,
	}
	trainer, err := training.NewTrainer(trainerConfig, netG, netD, optG, optD, scaler, log.Default())
	if err != nil {
		log.Fatalf("build trainer: %v", err)
	}

	if err := trainer.Run(cartoonLoader, photoLoader); err != nil {
		log.Fatalf("training failed: %v", err)
	}
	log.Printf("training complete: %d iterations", trainer.Iters())
}
