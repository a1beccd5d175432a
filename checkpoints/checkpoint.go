package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/whitebrush/go-cartoon/models"
	"github.com/whitebrush/go-cartoon/tensor"
)

// WeightTensor is one named model parameter with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState captures where in the run the checkpoint was taken.
type TrainingState struct {
	Epoch         int     `json:"epoch"`
	Step          int     `json:"step"`
	GeneratorLoss float32 `json:"generator_loss"`
}

// Metadata describes the checkpoint itself.
type Metadata struct {
	Version   string    `json:"version"`
	Framework string    `json:"framework"`
	CreatedAt time.Time `json:"created_at"`
}

// Checkpoint is a complete serialized parameter set for one model plus
// training progress metadata.
type Checkpoint struct {
	Weights       []WeightTensor `json:"weights"`
	TrainingState TrainingState  `json:"training_state"`
	Metadata      Metadata       `json:"metadata"`
}

// Filename builds the canonical checkpoint name, encoding epoch, step and
// the generator loss at save time for traceability.
func Filename(prefix string, epoch, step int, loss float32) string {
	return fmt.Sprintf("%s_e%d_i%d_l%.4f.json", prefix, epoch, step, loss)
}

// FromModel snapshots a model's parameters into a checkpoint. The data is
// copied, so later training steps do not mutate the snapshot.
func FromModel(m models.Model, state TrainingState) (*Checkpoint, error) {
	named := m.NamedParameters()
	if len(named) == 0 {
		return nil, fmt.Errorf("model exposes no named parameters")
	}

	weights := make([]WeightTensor, 0, len(named))
	for _, np := range named {
		data := make([]float32, len(np.Tensor.Data))
		copy(data, np.Tensor.Data)
		weights = append(weights, WeightTensor{
			Name:  np.Name,
			Shape: append([]int(nil), np.Tensor.Shape...),
			Data:  data,
		})
	}

	return &Checkpoint{
		Weights:       weights,
		TrainingState: state,
		Metadata: Metadata{
			Version:   "1.0",
			Framework: "go-cartoon",
			CreatedAt: time.Now().UTC(),
		},
	}, nil
}

// ApplyTo copies the checkpoint's weights into a model of the same
// architecture, matching parameters by name and verifying shapes.
func (c *Checkpoint) ApplyTo(m models.Model) error {
	byName := make(map[string]WeightTensor, len(c.Weights))
	for _, w := range c.Weights {
		byName[w.Name] = w
	}

	for _, np := range m.NamedParameters() {
		w, ok := byName[np.Name]
		if !ok {
			return fmt.Errorf("checkpoint is missing parameter %q", np.Name)
		}
		saved, err := tensor.NewTensor(w.Shape, w.Data)
		if err != nil {
			return fmt.Errorf("parameter %q: %w", np.Name, err)
		}
		if !saved.ShapeEquals(np.Tensor) {
			return fmt.Errorf("%w: parameter %q has shape %v, model expects %v",
				tensor.ErrShapeMismatch, np.Name, w.Shape, np.Tensor.Shape)
		}
		copy(np.Tensor.Data, w.Data)
	}
	return nil
}

// Save writes the checkpoint as JSON, creating the directory if needed.
func Save(path string, c *Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Load reads a checkpoint from disk.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return &c, nil
}

// LoadInto loads a checkpoint file directly into a model. Used at startup
// to restore the pretrained generator; a missing file is the caller's
// fatal error.
func LoadInto(path string, m models.Model) error {
	c, err := Load(path)
	if err != nil {
		return err
	}
	return c.ApplyTo(m)
}
