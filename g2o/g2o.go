// Package g2o reads and writes pose graphs in the g2o text format.
//
// Supported records:
//
//	VERTEX_SE2 id x y θ
//	EDGE_SE2 i j dx dy dθ I11 I12 I13 I22 I23 I33
//	VERTEX_SE3:QUAT id x y z qx qy qz qw
//	EDGE_SE3:QUAT i j x y z qx qy qz qw I11 I12 ... I66
//
// SE(3) information matrices are stored translation-first in g2o and are
// reordered to the rotation-first tangent layout of factorgraph.Pose3.
// Other record types (FIX, landmarks, parameters) are skipped.
package g2o

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"posegraph_bench/factorgraph"
)

const (
	TagVertexSE2 = "VERTEX_SE2"
	TagEdgeSE2   = "EDGE_SE2"
	TagVertexSE3 = "VERTEX_SE3:QUAT"
	TagEdgeSE3   = "EDGE_SE3:QUAT"
)

// ParseError は入力の行番号付きのエラーです。
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("g2o: line %d: %s", e.Line, e.Msg)
}

// ReadFile opens path and reads it with Read.
func ReadFile(path string, is3D bool) (*factorgraph.Graph, *factorgraph.Values, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "g2o")
	}
	defer f.Close()
	return Read(f, is3D)
}

// Read は g2o 形式のグラフと初期値を読み込みます。
// is3D が false なら SE(2)、true なら SE(3) のレコードだけを受け付けます。
func Read(r io.Reader, is3D bool) (*factorgraph.Graph, *factorgraph.Values, error) {
	graph := factorgraph.NewGraph()
	values := factorgraph.NewValues()
	var edgeKeys [][2]factorgraph.Key
	var edgeLines []int

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		p := &parser{line: line, fields: fields}

		switch fields[0] {
		case TagVertexSE2, TagEdgeSE2:
			if is3D {
				return nil, nil, p.errorf("%s record in a 3D dataset", fields[0])
			}
		case TagVertexSE3, TagEdgeSE3:
			if !is3D {
				return nil, nil, p.errorf("%s record in a 2D dataset", fields[0])
			}
		default:
			continue
		}

		switch fields[0] {
		case TagVertexSE2:
			key, pose, err := p.vertexSE2()
			if err != nil {
				return nil, nil, err
			}
			if err := values.Insert(key, pose); err != nil {
				return nil, nil, p.errorf("duplicate vertex %d", key)
			}
		case TagVertexSE3:
			key, pose, err := p.vertexSE3()
			if err != nil {
				return nil, nil, err
			}
			if err := values.Insert(key, pose); err != nil {
				return nil, nil, p.errorf("duplicate vertex %d", key)
			}
		case TagEdgeSE2, TagEdgeSE3:
			var f *factorgraph.BetweenFactor
			var err error
			if fields[0] == TagEdgeSE2 {
				f, err = p.edgeSE2()
			} else {
				f, err = p.edgeSE3()
			}
			if err != nil {
				return nil, nil, err
			}
			graph.Add(f)
			keys := f.Keys()
			edgeKeys = append(edgeKeys, [2]factorgraph.Key{keys[0], keys[1]})
			edgeLines = append(edgeLines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "g2o")
	}
	if values.Len() == 0 {
		return nil, nil, &ParseError{Line: line, Msg: "no vertices"}
	}
	for i, keys := range edgeKeys {
		for _, key := range keys {
			if _, ok := values.At(key); !ok {
				return nil, nil, &ParseError{Line: edgeLines[i], Msg: fmt.Sprintf("edge refers to unknown vertex %d", key)}
			}
		}
	}
	return graph, values, nil
}

type parser struct {
	line   int
	fields []string
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return &ParseError{Line: p.line, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(n int) error {
	if len(p.fields) != n {
		return p.errorf("%s needs %d fields, got %d", p.fields[0], n-1, len(p.fields)-1)
	}
	return nil
}

func (p *parser) key(i int) (factorgraph.Key, error) {
	k, err := strconv.ParseUint(p.fields[i], 10, 64)
	if err != nil {
		return 0, p.errorf("invalid id %q", p.fields[i])
	}
	return factorgraph.Key(k), nil
}

func (p *parser) floats(from, n int) ([]float64, error) {
	out := make([]float64, n)
	for i := range out {
		v, err := strconv.ParseFloat(p.fields[from+i], 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", p.fields[from+i])
		}
		out[i] = v
	}
	return out, nil
}

// upperTriangular は上三角の並びから n x n の対称行列を作ります。
func upperTriangular(n int, v []float64) *mat.SymDense {
	m := mat.NewSymDense(n, nil)
	k := 0
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			m.SetSym(i, j, v[k])
			k++
		}
	}
	return m
}

func (p *parser) vertexSE2() (factorgraph.Key, factorgraph.Pose2, error) {
	if err := p.expect(5); err != nil {
		return 0, factorgraph.Pose2{}, err
	}
	key, err := p.key(1)
	if err != nil {
		return 0, factorgraph.Pose2{}, err
	}
	v, err := p.floats(2, 3)
	if err != nil {
		return 0, factorgraph.Pose2{}, err
	}
	return key, factorgraph.Pose2{X: v[0], Y: v[1], Theta: v[2]}, nil
}

func (p *parser) vertexSE3() (factorgraph.Key, factorgraph.Pose3, error) {
	if err := p.expect(9); err != nil {
		return 0, factorgraph.Pose3{}, err
	}
	key, err := p.key(1)
	if err != nil {
		return 0, factorgraph.Pose3{}, err
	}
	v, err := p.floats(2, 7)
	if err != nil {
		return 0, factorgraph.Pose3{}, err
	}
	return key, pose3(v), nil
}

func pose3(v []float64) factorgraph.Pose3 {
	return factorgraph.Pose3{
		R: factorgraph.Rot3FromQuaternion(v[3], v[4], v[5], v[6]),
		T: [3]float64{v[0], v[1], v[2]},
	}
}

func (p *parser) edgeKeys() (factorgraph.Key, factorgraph.Key, error) {
	i, err := p.key(1)
	if err != nil {
		return 0, 0, err
	}
	j, err := p.key(2)
	if err != nil {
		return 0, 0, err
	}
	return i, j, nil
}

func (p *parser) edgeSE2() (*factorgraph.BetweenFactor, error) {
	if err := p.expect(12); err != nil {
		return nil, err
	}
	i, j, err := p.edgeKeys()
	if err != nil {
		return nil, err
	}
	v, err := p.floats(3, 9)
	if err != nil {
		return nil, err
	}
	noise, err := factorgraph.NewInformation(upperTriangular(3, v[3:]))
	if err != nil {
		return nil, p.errorf("%v", err)
	}
	return factorgraph.NewBetweenFactor(i, j, factorgraph.Pose2{X: v[0], Y: v[1], Theta: v[2]}, noise)
}

func (p *parser) edgeSE3() (*factorgraph.BetweenFactor, error) {
	if err := p.expect(31); err != nil {
		return nil, err
	}
	i, j, err := p.edgeKeys()
	if err != nil {
		return nil, err
	}
	v, err := p.floats(3, 28)
	if err != nil {
		return nil, err
	}
	noise, err := factorgraph.NewInformation(rotationFirst(upperTriangular(6, v[7:])))
	if err != nil {
		return nil, p.errorf("%v", err)
	}
	return factorgraph.NewBetweenFactor(i, j, pose3(v[:7]), noise)
}

// rotationFirst は (t, r) 順の 6x6 情報行列を (r, t) 順に並べ替えます。自身が逆変換です。
func rotationFirst(m *mat.SymDense) *mat.SymDense {
	perm := [6]int{3, 4, 5, 0, 1, 2}
	out := mat.NewSymDense(6, nil)
	for i := 0; i < 6; i++ {
		for j := i; j < 6; j++ {
			out.SetSym(i, j, m.At(perm[i], perm[j]))
		}
	}
	return out
}
