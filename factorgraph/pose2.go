package factorgraph

import (
	"fmt"
	"math"
)

// Pose2 は平面上の剛体変換 SE(2) です。接空間の並びは (x, y, θ) です。
type Pose2 struct {
	X, Y, Theta float64
}

var _ Variable = Pose2{}

// Pose2Identity returns the identity pose.
func Pose2Identity() Pose2 {
	return Pose2{}
}

func (p Pose2) Dim() int {
	return 3
}

func (p Pose2) Compose(other Variable) Variable {
	q := other.(Pose2)
	s, c := math.Sincos(p.Theta)
	return Pose2{
		X:     p.X + c*q.X - s*q.Y,
		Y:     p.Y + s*q.X + c*q.Y,
		Theta: wrapAngle(p.Theta + q.Theta),
	}
}

func (p Pose2) Inverse() Variable {
	s, c := math.Sincos(p.Theta)
	return Pose2{
		X:     -c*p.X - s*p.Y,
		Y:     s*p.X - c*p.Y,
		Theta: wrapAngle(-p.Theta),
	}
}

func (p Pose2) Retract(delta []float64) Variable {
	return p.Compose(Pose2Exp(delta))
}

func (p Pose2) Local(other Variable) []float64 {
	return Pose2Log(p.Inverse().Compose(other).(Pose2))
}

func (p Pose2) String() string {
	return fmt.Sprintf("Pose2(%g, %g, %g)", p.X, p.Y, p.Theta)
}

// Pose2Exp は接ベクトル (vx, vy, ω) を SE(2) に写します。
func Pose2Exp(v []float64) Pose2 {
	w := v[2]
	if math.Abs(w) < 1e-10 {
		return Pose2{X: v[0], Y: v[1], Theta: w}
	}
	s, c := math.Sincos(w)
	a := s / w
	b := (1 - c) / w
	return Pose2{
		X:     a*v[0] - b*v[1],
		Y:     b*v[0] + a*v[1],
		Theta: wrapAngle(w),
	}
}

// Pose2Log is the inverse of Pose2Exp.
func Pose2Log(p Pose2) []float64 {
	w := p.Theta
	if math.Abs(w) < 1e-10 {
		return []float64{p.X, p.Y, w}
	}
	s, c := math.Sincos(w)
	oneMinusC := 1 - c
	k := w / (s*s + oneMinusC*oneMinusC)
	return []float64{
		k * (s*p.X + oneMinusC*p.Y),
		k * (-oneMinusC*p.X + s*p.Y),
		w,
	}
}

// wrapAngle は角度を (-π, π] に正規化します。
func wrapAngle(theta float64) float64 {
	theta = math.Mod(theta+math.Pi, 2*math.Pi)
	if theta <= 0 {
		theta += 2 * math.Pi
	}
	return theta - math.Pi
}
