// Package classifier runs the zone classifier: a small fully connected
// network mapping per-sensor mean signal strengths to one of the south gate
// zones. Parameters are produced offline and only loaded here.
package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Architecture is the layer widths of the exported model, input first.
var Architecture = []int{7, 256, 128, 64, 4}

// layerNames are the parameter keys of the exported model, in order.
var layerNames = []string{"layer_1", "layer_2", "layer_3", "layer_out"}

// ErrShapeMismatch is returned when parameters or inputs do not fit the
// network.
var ErrShapeMismatch = errors.New("classifier shape mismatch")

// maxParamsSize bounds the parameter file read by Load.
const maxParamsSize = 16 << 20

// Layer is one fully connected layer. Weights has one row per output unit.
type Layer struct {
	Weights *mat.Dense
	Bias    []float64
}

// Model is a feed-forward network with ReLU between layers and no activation
// on the output layer. It is safe for concurrent use.
type Model struct {
	layers  []Layer
	Version string
}

// New builds a model from layers, checking that consecutive widths agree.
func New(layers []Layer) (*Model, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrShapeMismatch)
	}
	for i, l := range layers {
		if l.Weights == nil {
			return nil, fmt.Errorf("%w: layer %d has no weights", ErrShapeMismatch, i)
		}
		out, in := l.Weights.Dims()
		if len(l.Bias) != out {
			return nil, fmt.Errorf("%w: layer %d has %d outputs but %d biases", ErrShapeMismatch, i, out, len(l.Bias))
		}
		if i > 0 {
			if prevOut, _ := layers[i-1].Weights.Dims(); prevOut != in {
				return nil, fmt.Errorf("%w: layer %d expects %d inputs, previous layer has %d outputs", ErrShapeMismatch, i, in, prevOut)
			}
		}
	}
	return &Model{layers: layers}, nil
}

// Inputs returns the number of features the model expects.
func (m *Model) Inputs() int {
	_, in := m.layers[0].Weights.Dims()
	return in
}

// Classes returns the number of output classes.
func (m *Model) Classes() int {
	out, _ := m.layers[len(m.layers)-1].Weights.Dims()
	return out
}

// paramFile is the exported parameter set: the model's state dict with each
// tensor as a nested JSON array, keyed "<layer>.weight" and "<layer>.bias".
type paramFile struct {
	Version string                     `json:"version,omitempty"`
	Params  map[string]json.RawMessage `json:"params"`
}

// Load reads a parameter set and checks it against Architecture.
func Load(path string) (*Model, error) {
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat model parameters: %w", err)
	}
	if info.Size() > maxParamsSize {
		return nil, fmt.Errorf("model parameters %s too large: %d bytes", path, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model parameters: %w", err)
	}
	var pf paramFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse model parameters %s: %w", path, err)
	}

	layers := make([]Layer, 0, len(layerNames))
	for i, name := range layerNames {
		var w [][]float64
		var b []float64
		if err := decodeParam(pf.Params, name+".weight", &w); err != nil {
			return nil, err
		}
		if err := decodeParam(pf.Params, name+".bias", &b); err != nil {
			return nil, err
		}
		in, out := Architecture[i], Architecture[i+1]
		if len(w) != out {
			return nil, fmt.Errorf("%w: %s.weight has %d rows, want %d", ErrShapeMismatch, name, len(w), out)
		}
		flat := make([]float64, 0, out*in)
		for r, row := range w {
			if len(row) != in {
				return nil, fmt.Errorf("%w: %s.weight row %d has %d columns, want %d", ErrShapeMismatch, name, r, len(row), in)
			}
			flat = append(flat, row...)
		}
		layers = append(layers, Layer{Weights: mat.NewDense(out, in, flat), Bias: b})
	}
	m, err := New(layers)
	if err != nil {
		return nil, err
	}
	m.Version = pf.Version
	return m, nil
}

func decodeParam(params map[string]json.RawMessage, key string, v any) error {
	raw, ok := params[key]
	if !ok {
		return fmt.Errorf("model parameters missing %q", key)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

// MinMaxScale rescales each column of features to [0, 1] using that
// column's minimum and maximum over the batch. NaN entries are imputed as 0
// before scaling and constant columns scale to 0. The input is not modified.
func MinMaxScale(features [][]float64) [][]float64 {
	if len(features) == 0 {
		return nil
	}
	cols := len(features[0])
	out := make([][]float64, len(features))
	for i, row := range features {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			if math.IsNaN(v) {
				v = 0
			}
			out[i][j] = v
		}
	}
	col := make([]float64, len(out))
	for j := 0; j < cols; j++ {
		for i := range out {
			col[i] = out[i][j]
		}
		lo, hi := floats.Min(col), floats.Max(col)
		span := hi - lo
		for i := range out {
			if span == 0 {
				out[i][j] = 0
				continue
			}
			out[i][j] = (out[i][j] - lo) / span
		}
	}
	return out
}

// Predict scales the batch with MinMaxScale and returns the index of the
// largest output logit for each row. Because scaling is fitted on the batch,
// a row's class can depend on the other rows it is classified with.
func (m *Model) Predict(features [][]float64) ([]int, error) {
	if len(features) == 0 {
		return nil, nil
	}
	in := m.Inputs()
	for i, row := range features {
		if len(row) != in {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrShapeMismatch, i, len(row), in)
		}
	}
	scaled := MinMaxScale(features)
	x := mat.NewDense(len(scaled), in, nil)
	for i, row := range scaled {
		x.SetRow(i, row)
	}

	out := m.forward(x)
	rows, _ := out.Dims()
	classes := make([]int, rows)
	for i := 0; i < rows; i++ {
		classes[i] = floats.MaxIdx(out.RawRowView(i))
	}
	return classes, nil
}

func (m *Model) forward(x *mat.Dense) *mat.Dense {
	act := x
	for li, l := range m.layers {
		n, _ := act.Dims()
		out, _ := l.Weights.Dims()
		next := mat.NewDense(n, out, nil)
		next.Mul(act, l.Weights.T())
		last := li == len(m.layers)-1
		next.Apply(func(_, j int, v float64) float64 {
			v += l.Bias[j]
			if !last && v < 0 {
				return 0
			}
			return v
		}, next)
		act = next
	}
	return act
}
