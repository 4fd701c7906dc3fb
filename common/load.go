package common

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"

	"posegraph_bench/factorgraph"
	"posegraph_bench/g2o"
)

// PriorKey は事前分布で固定するポーズの ID です。
const PriorKey factorgraph.Key = 0

// Problem は読み込み済みのベンチマーク問題です。計測中はテンプレートとして扱い、変更しません。
type Problem struct {
	Dataset Dataset
	Graph   *factorgraph.Graph
	Values  *factorgraph.Values
}

// DatasetLoadError はデータセットを読み込めなかったことを表します。
type DatasetLoadError struct {
	Path string
	Err  error
}

func (e *DatasetLoadError) Error() string {
	return fmt.Sprintf("failed to load dataset %s: %v", e.Path, e.Err)
}

func (e *DatasetLoadError) Unwrap() error {
	return e.Err
}

// PriorVariances は次元ごとの事前分布の分散を接空間の順序で返します。
// 2D は (x, y, θ)、3D は (ωx, ωy, ωz, vx, vy, vz) です。
func PriorVariances(dim Dimension) []float64 {
	switch dim {
	case Dim3:
		return []float64{1e-6, 1e-6, 1e-6, 1e-4, 1e-4, 1e-4}
	default:
		return []float64{1e-6, 1e-6, 1e-8}
	}
}

// Load は g2o ファイルを読み込み、ポーズ 0 を原点に固定する事前分布を追加します。
// 失敗した場合は *DatasetLoadError を返し、Problem は nil です。
func Load(path string, dim Dimension) (*Problem, error) {
	if dim != Dim2 && dim != Dim3 {
		return nil, &DatasetLoadError{Path: path, Err: errors.Errorf("unsupported dimension %d", dim)}
	}
	graph, values, err := g2o.ReadFile(path, dim == Dim3)
	if err != nil {
		return nil, &DatasetLoadError{Path: path, Err: err}
	}
	if _, ok := values.At(PriorKey); !ok {
		return nil, &DatasetLoadError{Path: path, Err: errors.Errorf("no vertex %d to anchor", PriorKey)}
	}

	noise, err := factorgraph.NewDiagonalVariances(PriorVariances(dim)...)
	if err != nil {
		return nil, &DatasetLoadError{Path: path, Err: err}
	}
	var origin factorgraph.Variable = factorgraph.Pose2Identity()
	if dim == Dim3 {
		origin = factorgraph.Pose3Identity()
	}
	if err := graph.AddPrior(PriorKey, origin, noise); err != nil {
		return nil, &DatasetLoadError{Path: path, Err: err}
	}

	return &Problem{
		Dataset: Dataset{File: filepath.Base(path), Dim: dim},
		Graph:   graph,
		Values:  values,
	}, nil
}

// Clone は計測 1 回分の独立したコピーを作ります。
func (p *Problem) Clone() (*factorgraph.Graph, *factorgraph.Values) {
	return p.Graph.Clone(), p.Values.Clone()
}
