package checkpoints

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whitebrush/go-cartoon/models"
	"github.com/whitebrush/go-cartoon/tensor"
)

func newGenerator(t *testing.T, seed int64) *models.Generator {
	t.Helper()
	g, err := models.NewGenerator(3, 4, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return g
}

func TestRoundTripRestoresForwardBehavior(t *testing.T) {
	source := newGenerator(t, 1)
	target := newGenerator(t, 2)

	input, err := tensor.Randn([]int{1, 3, 8, 8}, 0.5, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	input = input.Detach()

	want, err := source.Forward(input)
	require.NoError(t, err)
	before, err := target.Forward(input)
	require.NoError(t, err)
	require.NotEqual(t, want.Data, before.Data, "differently seeded models should disagree")

	path := filepath.Join(t.TempDir(), Filename("netG", 3, 1200, 0.75))
	ckpt, err := FromModel(source, TrainingState{Epoch: 3, Step: 1200, GeneratorLoss: 0.75})
	require.NoError(t, err)
	require.NoError(t, Save(path, ckpt))

	require.NoError(t, LoadInto(path, target))

	got, err := target.Forward(input)
	require.NoError(t, err)
	require.Equal(t, want.Shape, got.Shape)
	for i := range want.Data {
		require.InDelta(t, float64(want.Data[i]), float64(got.Data[i]), 1e-7)
	}
}

func TestLoadPreservesTrainingState(t *testing.T) {
	source := newGenerator(t, 1)
	path := filepath.Join(t.TempDir(), "ckpt.json")

	ckpt, err := FromModel(source, TrainingState{Epoch: 2, Step: 500, GeneratorLoss: 1.25})
	require.NoError(t, err)
	require.NoError(t, Save(path, ckpt))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.TrainingState.Epoch)
	require.Equal(t, 500, loaded.TrainingState.Step)
	require.InDelta(t, 1.25, float64(loaded.TrainingState.GeneratorLoss), 1e-7)
	require.Equal(t, "1.0", loaded.Metadata.Version)
	require.Equal(t, "go-cartoon", loaded.Metadata.Framework)
}

func TestSnapshotIsDecoupledFromLiveWeights(t *testing.T) {
	source := newGenerator(t, 1)
	ckpt, err := FromModel(source, TrainingState{})
	require.NoError(t, err)

	first := source.Parameters()[0]
	saved := ckpt.Weights[0].Data[0]
	first.Data[0] = saved + 10

	require.Equal(t, saved, ckpt.Weights[0].Data[0])
}

func TestApplyToRejectsMissingParameter(t *testing.T) {
	source := newGenerator(t, 1)
	ckpt, err := FromModel(source, TrainingState{})
	require.NoError(t, err)

	ckpt.Weights = ckpt.Weights[1:]
	err = ckpt.ApplyTo(newGenerator(t, 2))
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing parameter")
}

func TestApplyToRejectsShapeMismatch(t *testing.T) {
	source := newGenerator(t, 1)
	ckpt, err := FromModel(source, TrainingState{})
	require.NoError(t, err)

	// Wider hidden layer: same parameter names, different shapes.
	wide, err := models.NewGenerator(3, 8, rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	err = ckpt.ApplyTo(wide)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestLoadIntoMissingFile(t *testing.T) {
	err := LoadInto(filepath.Join(t.TempDir(), "absent.json"), newGenerator(t, 1))
	require.Error(t, err)
}

func TestFilenameFormat(t *testing.T) {
	require.Equal(t, "netG_e4_i2000_l1.2345.json", Filename("netG", 4, 2000, 1.2345))
}
