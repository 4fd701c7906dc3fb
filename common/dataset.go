package common

import (
	"path/filepath"
)

// Dimension は g2o ファイルの次元です。
type Dimension int

const (
	Dim2 Dimension = 2
	Dim3 Dimension = 3
)

func (d Dimension) String() string {
	switch d {
	case Dim2:
		return "2d"
	case Dim3:
		return "3d"
	default:
		return "unknown"
	}
}

// Dataset はベンチマーク対象の g2o ファイルです。
type Dataset struct {
	File string
	Dim  Dimension
}

// Group は同じタイトルで 1 つの表にまとめられるデータセットの並びです。
type Group struct {
	Title    string
	Datasets []Dataset
}

// Registry はデータセットの置き場所とグループの一覧です。
type Registry struct {
	Dir    string
	Groups []Group
}

// DefaultRegistry は標準のデータセット一覧を返します。
func DefaultRegistry(dir string) *Registry {
	return &Registry{
		Dir: dir,
		Groups: []Group{
			{
				Title: "3d benchmarks",
				Datasets: []Dataset{
					{File: "sphere2500.g2o", Dim: Dim3},
					{File: "parking-garage.g2o", Dim: Dim3},
				},
			},
			{
				Title: "2d benchmarks",
				Datasets: []Dataset{
					{File: "M3500.g2o", Dim: Dim2},
				},
			},
		},
	}
}

func (r *Registry) Path(ds Dataset) string {
	return filepath.Join(r.Dir, ds.File)
}
