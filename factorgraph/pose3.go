package factorgraph

import (
	"fmt"
	"math"
)

// Rot3 is a 3x3 rotation matrix in row-major order.
type Rot3 [3][3]float64

// Rot3Identity returns the identity rotation.
func Rot3Identity() Rot3 {
	return Rot3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

func (r Rot3) Mul(o Rot3) Rot3 {
	var out Rot3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r[i][0]*o[0][j] + r[i][1]*o[1][j] + r[i][2]*o[2][j]
		}
	}
	return out
}

func (r Rot3) Transpose() Rot3 {
	var out Rot3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r[j][i]
		}
	}
	return out
}

func (r Rot3) Apply(v [3]float64) [3]float64 {
	return [3]float64{
		r[0][0]*v[0] + r[0][1]*v[1] + r[0][2]*v[2],
		r[1][0]*v[0] + r[1][1]*v[1] + r[1][2]*v[2],
		r[2][0]*v[0] + r[2][1]*v[1] + r[2][2]*v[2],
	}
}

// Rot3FromQuaternion は単位四元数 (x, y, z, w) から回転行列を作ります。
// 入力は正規化してから使います。
func Rot3FromQuaternion(x, y, z, w float64) Rot3 {
	n := math.Sqrt(x*x + y*y + z*z + w*w)
	if n == 0 {
		return Rot3Identity()
	}
	x, y, z, w = x/n, y/n, z/n, w/n
	return Rot3{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w)},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w)},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y)},
	}
}

// Quaternion returns the rotation as (x, y, z, w) with w >= 0.
func (r Rot3) Quaternion() (x, y, z, w float64) {
	trace := r[0][0] + r[1][1] + r[2][2]
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		w = 0.25 / s
		x = (r[2][1] - r[1][2]) * s
		y = (r[0][2] - r[2][0]) * s
		z = (r[1][0] - r[0][1]) * s
	case r[0][0] > r[1][1] && r[0][0] > r[2][2]:
		s := 2 * math.Sqrt(1+r[0][0]-r[1][1]-r[2][2])
		w = (r[2][1] - r[1][2]) / s
		x = 0.25 * s
		y = (r[0][1] + r[1][0]) / s
		z = (r[0][2] + r[2][0]) / s
	case r[1][1] > r[2][2]:
		s := 2 * math.Sqrt(1+r[1][1]-r[0][0]-r[2][2])
		w = (r[0][2] - r[2][0]) / s
		x = (r[0][1] + r[1][0]) / s
		y = 0.25 * s
		z = (r[1][2] + r[2][1]) / s
	default:
		s := 2 * math.Sqrt(1+r[2][2]-r[0][0]-r[1][1])
		w = (r[1][0] - r[0][1]) / s
		x = (r[0][2] + r[2][0]) / s
		y = (r[1][2] + r[2][1]) / s
		z = 0.25 * s
	}
	if w < 0 {
		x, y, z, w = -x, -y, -z, -w
	}
	return x, y, z, w
}

func hat(w [3]float64) Rot3 {
	return Rot3{
		{0, -w[2], w[1]},
		{w[2], 0, -w[0]},
		{-w[1], w[0], 0},
	}
}

// Rot3Exp はロドリゲスの公式で so(3) から SO(3) へ写します。
func Rot3Exp(w [3]float64) Rot3 {
	theta2 := w[0]*w[0] + w[1]*w[1] + w[2]*w[2]
	var a, b float64
	if theta2 < 1e-10 {
		a, b = 1-theta2/6, 0.5-theta2/24
	} else {
		theta := math.Sqrt(theta2)
		a = math.Sin(theta) / theta
		b = (1 - math.Cos(theta)) / theta2
	}
	k := hat(w)
	k2 := k.Mul(k)
	out := Rot3Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] += a*k[i][j] + b*k2[i][j]
		}
	}
	return out
}

// Rot3Log is the inverse of Rot3Exp. The angle of the result is in [0, π].
func Rot3Log(r Rot3) [3]float64 {
	trace := r[0][0] + r[1][1] + r[2][2]
	cosTheta := math.Max(-1, math.Min(1, (trace-1)/2))
	skew := [3]float64{r[2][1] - r[1][2], r[0][2] - r[2][0], r[1][0] - r[0][1]}

	// θ ≈ π では反対称部分が小さすぎるので、軸は対称部分 (1-cosθ)nnᵀ から、
	// 符号は反対称部分 2sinθ n から求める
	if cosTheta < -0.99 {
		sinTheta := 0.5 * math.Sqrt(skew[0]*skew[0]+skew[1]*skew[1]+skew[2]*skew[2])
		theta := math.Atan2(sinTheta, cosTheta)

		var b Rot3
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				b[i][j] = 0.5 * (r[i][j] + r[j][i])
			}
			b[i][i] -= cosTheta
		}
		k := 0
		for i := 1; i < 3; i++ {
			if b[i][i] > b[k][k] {
				k = i
			}
		}
		axis := [3]float64{b[0][k], b[1][k], b[2][k]}
		norm := math.Sqrt(axis[0]*axis[0] + axis[1]*axis[1] + axis[2]*axis[2])
		if axis[0]*skew[0]+axis[1]*skew[1]+axis[2]*skew[2] < 0 {
			norm = -norm
		}
		return [3]float64{theta * axis[0] / norm, theta * axis[1] / norm, theta * axis[2] / norm}
	}

	theta := math.Acos(cosTheta)
	var k float64
	if theta < 1e-8 {
		k = 0.5 + theta*theta/12
	} else {
		k = theta / (2 * math.Sin(theta))
	}
	return [3]float64{k * skew[0], k * skew[1], k * skew[2]}
}

// Pose3 は三次元の剛体変換 SE(3) です。接空間の並びは (ωx, ωy, ωz, vx, vy, vz) です。
type Pose3 struct {
	R Rot3
	T [3]float64
}

var _ Variable = Pose3{}

// Pose3Identity returns the identity pose.
func Pose3Identity() Pose3 {
	return Pose3{R: Rot3Identity()}
}

func (p Pose3) Dim() int {
	return 6
}

func (p Pose3) Compose(other Variable) Variable {
	q := other.(Pose3)
	t := p.R.Apply(q.T)
	return Pose3{
		R: p.R.Mul(q.R),
		T: [3]float64{t[0] + p.T[0], t[1] + p.T[1], t[2] + p.T[2]},
	}
}

func (p Pose3) Inverse() Variable {
	rt := p.R.Transpose()
	t := rt.Apply(p.T)
	return Pose3{R: rt, T: [3]float64{-t[0], -t[1], -t[2]}}
}

func (p Pose3) Retract(delta []float64) Variable {
	return p.Compose(Pose3Exp(delta))
}

func (p Pose3) Local(other Variable) []float64 {
	return Pose3Log(p.Inverse().Compose(other).(Pose3))
}

func (p Pose3) String() string {
	x, y, z, w := p.R.Quaternion()
	return fmt.Sprintf("Pose3(t=[%g %g %g] q=[%g %g %g %g])", p.T[0], p.T[1], p.T[2], x, y, z, w)
}

// leftJacobianCoeffs は V = I + B[ω]x + C[ω]x² の係数を返します。
func leftJacobianCoeffs(w [3]float64) (b, c float64) {
	w2 := w[0]*w[0] + w[1]*w[1] + w[2]*w[2]
	if w2 < 1e-5 {
		return 0.5 - w2/24, 1.0/6 - w2/120
	}
	theta := math.Sqrt(w2)
	a := math.Sin(theta) / theta
	return (1 - math.Cos(theta)) / w2, (1 - a) / w2
}

// Pose3Exp maps (ω, v) to SE(3).
func Pose3Exp(xi []float64) Pose3 {
	w := [3]float64{xi[0], xi[1], xi[2]}
	v := [3]float64{xi[3], xi[4], xi[5]}
	b, c := leftJacobianCoeffs(w)
	k := hat(w)
	k2 := k.Mul(k)
	V := Rot3Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			V[i][j] += b*k[i][j] + c*k2[i][j]
		}
	}
	return Pose3{R: Rot3Exp(w), T: V.Apply(v)}
}

// Pose3Log is the inverse of Pose3Exp.
func Pose3Log(p Pose3) []float64 {
	w := Rot3Log(p.R)
	w2 := w[0]*w[0] + w[1]*w[1] + w[2]*w[2]

	// V⁻¹ = I - ½[ω]x + d[ω]x²
	var d float64
	if w2 < 1e-5 {
		d = 1.0/12 + w2/720
	} else {
		theta := math.Sqrt(w2)
		half := theta / 2
		d = (1 - half*math.Cos(half)/math.Sin(half)) / w2
	}
	k := hat(w)
	k2 := k.Mul(k)
	Vinv := Rot3Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			Vinv[i][j] += -0.5*k[i][j] + d*k2[i][j]
		}
	}
	v := Vinv.Apply(p.T)
	return []float64{w[0], w[1], w[2], v[0], v[1], v[2]}
}
