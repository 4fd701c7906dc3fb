package g2o

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"posegraph_bench/factorgraph"
)

// Write writes values as vertices and every BetweenFactor of graph as an edge.
// Prior factors have no g2o representation and are skipped.
func Write(w io.Writer, graph *factorgraph.Graph, values *factorgraph.Values) error {
	bw := bufio.NewWriter(w)
	for _, key := range values.Keys() {
		v, _ := values.At(key)
		var line string
		switch p := v.(type) {
		case factorgraph.Pose2:
			line = record(TagVertexSE2, []uint64{uint64(key)}, p.X, p.Y, p.Theta)
		case factorgraph.Pose3:
			line = record(TagVertexSE3, []uint64{uint64(key)}, pose3Fields(p)...)
		default:
			return errors.Errorf("g2o: unsupported variable %T for key %d", v, key)
		}
		if _, err := bw.WriteString(line); err != nil {
			return errors.Wrap(err, "g2o")
		}
	}

	for _, f := range graph.Factors() {
		between, ok := f.(*factorgraph.BetweenFactor)
		if !ok {
			continue
		}
		keys := between.Keys()
		ids := []uint64{uint64(keys[0]), uint64(keys[1])}
		info, err := information(between.Noise())
		if err != nil {
			return err
		}
		var line string
		switch z := between.Measured().(type) {
		case factorgraph.Pose2:
			line = record(TagEdgeSE2, ids, append([]float64{z.X, z.Y, z.Theta}, upperFields(info)...)...)
		case factorgraph.Pose3:
			line = record(TagEdgeSE3, ids, append(pose3Fields(z), upperFields(rotationFirst(info))...)...)
		default:
			return errors.Errorf("g2o: unsupported measurement %T on edge %d-%d", z, keys[0], keys[1])
		}
		if _, err := bw.WriteString(line); err != nil {
			return errors.Wrap(err, "g2o")
		}
	}
	return errors.Wrap(bw.Flush(), "g2o")
}

func record(tag string, ids []uint64, v ...float64) string {
	var sb strings.Builder
	sb.WriteString(tag)
	for _, id := range ids {
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatUint(id, 10))
	}
	for _, x := range v {
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	}
	sb.WriteByte('\n')
	return sb.String()
}

func pose3Fields(p factorgraph.Pose3) []float64 {
	x, y, z, w := p.R.Quaternion()
	return []float64{p.T[0], p.T[1], p.T[2], x, y, z, w}
}

func upperFields(m *mat.SymDense) []float64 {
	n := m.SymmetricDim()
	out := make([]float64, 0, n*(n+1)/2)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}

func information(noise factorgraph.NoiseModel) (*mat.SymDense, error) {
	switch n := noise.(type) {
	case *factorgraph.Diagonal:
		variances := n.Variances()
		m := mat.NewSymDense(len(variances), nil)
		for i, v := range variances {
			m.SetSym(i, i, 1/v)
		}
		return m, nil
	case *factorgraph.Gaussian:
		return n.Information(), nil
	default:
		return nil, errors.Errorf("g2o: unsupported noise model %T", noise)
	}
}
