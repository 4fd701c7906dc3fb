package factorgraph

import (
	"sort"

	"github.com/pkg/errors"
)

// Key identifies a variable in a graph. g2o vertex ids are used directly.
type Key uint64

// Variable は多様体上の変数です。Retract と Local は互いに逆の関係にあります:
// x.Retract(x.Local(y)) == y
type Variable interface {
	// Dim returns the dimension of the tangent space.
	Dim() int
	// Retract returns x ⊕ delta = x · Exp(delta).
	Retract(delta []float64) Variable
	// Local returns Log(x⁻¹ · other).
	Local(other Variable) []float64
	Compose(other Variable) Variable
	Inverse() Variable
}

// Values maps keys to variables. The zero value is not usable; use NewValues.
type Values struct {
	vars map[Key]Variable
}

func NewValues() *Values {
	return &Values{vars: make(map[Key]Variable)}
}

// Insert adds a new variable. Inserting an existing key is an error.
func (v *Values) Insert(key Key, value Variable) error {
	if _, ok := v.vars[key]; ok {
		return errors.Errorf("key %d already exists", key)
	}
	v.vars[key] = value
	return nil
}

// Update replaces an existing variable.
func (v *Values) Update(key Key, value Variable) error {
	if _, ok := v.vars[key]; !ok {
		return errors.Wrapf(ErrMissingKey, "key %d", key)
	}
	v.vars[key] = value
	return nil
}

func (v *Values) At(key Key) (Variable, bool) {
	value, ok := v.vars[key]
	return value, ok
}

func (v *Values) Pose2At(key Key) (Pose2, bool) {
	value, ok := v.vars[key].(Pose2)
	return value, ok
}

func (v *Values) Pose3At(key Key) (Pose3, bool) {
	value, ok := v.vars[key].(Pose3)
	return value, ok
}

func (v *Values) Len() int {
	return len(v.vars)
}

// Keys returns all keys in ascending order.
func (v *Values) Keys() []Key {
	keys := make([]Key, 0, len(v.vars))
	for key := range v.vars {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})
	return keys
}

// Clone はすべての変数を複製します。Pose2/Pose3 は値型なので代入で独立したコピーになります。
func (v *Values) Clone() *Values {
	out := &Values{vars: make(map[Key]Variable, len(v.vars))}
	for key, value := range v.vars {
		out.vars[key] = value
	}
	return out
}

// retract applies delta to every variable. The layout of delta follows o.
func (v *Values) retract(o *ordering, delta []float64) *Values {
	out := &Values{vars: make(map[Key]Variable, len(v.vars))}
	for key, value := range v.vars {
		i, ok := o.index[key]
		if !ok {
			out.vars[key] = value
			continue
		}
		off := o.offsets[i]
		out.vars[key] = value.Retract(delta[off : off+o.dims[i]])
	}
	return out
}

// ordering は変数を連立方程式の列ブロックに割り当てます。
type ordering struct {
	keys    []Key
	index   map[Key]int
	dims    []int
	offsets []int
	n       int
}

func newOrdering(v *Values) *ordering {
	keys := v.Keys()
	o := &ordering{
		keys:    keys,
		index:   make(map[Key]int, len(keys)),
		dims:    make([]int, len(keys)),
		offsets: make([]int, len(keys)),
	}
	for i, key := range keys {
		o.index[key] = i
		o.dims[i] = v.vars[key].Dim()
		o.offsets[i] = o.n
		o.n += o.dims[i]
	}
	return o
}
