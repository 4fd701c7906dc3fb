// Package iavl は計測結果を LevelDB 上の IAVL+ 木にバージョン付きで保存します。
// グループの保存ごとに 1 バージョン進み、開いた時点の最新バージョンを比較の基準にします。
package iavl

import (
	"encoding/binary"
	"time"

	"github.com/cosmos/iavl"
	"github.com/cosmos/iavl/db"
	"github.com/pkg/errors"

	"posegraph_bench/common"
)

type Store struct {
	Path    string
	LevelDB *db.GoLevelDB
	Tree    *iavl.MutableTree
	base    int64
}

var (
	_ common.ResultStore = (*Store)(nil)
	_ common.Baseline    = (*Store)(nil)
)

func NewStore(path string) *Store {
	return &Store{Path: path}
}

func (s *Store) Open() error {
	if s.Tree != nil {
		return nil
	}

	leveldb, err := db.NewGoLevelDB("posegraph", s.Path)
	if err != nil {
		return errors.Wrap(err, "failed to create leveldb")
	}
	tree := iavl.NewMutableTree(leveldb, 0, false, iavl.NewNopLogger())
	version, err := tree.Load()
	if err != nil {
		tree.Close()
		leveldb.Close()
		return errors.Wrap(err, "failed to load tree")
	}
	s.LevelDB = leveldb
	s.Tree = tree
	s.base = version
	return nil
}

func (s *Store) Close() error {
	var err error
	if s.Tree != nil {
		err = s.Tree.Close()
		s.Tree = nil
	}
	if s.LevelDB != nil {
		if e := s.LevelDB.Close(); err == nil {
			err = e
		}
		s.LevelDB = nil
	}
	return errors.Wrap(err, "failed to close iavl")
}

// Version は最後に保存したバージョンです。
func (s *Store) Version() int64 {
	return s.Tree.Version()
}

// Save は各結果を context/name のキーで書き込み、新しいバージョンとして保存します。
func (s *Store) Save(title string, results []*common.Result) error {
	for _, r := range results {
		if _, err := s.Tree.Set(key(r.Context, r.Name), encode(r.Elapsed)); err != nil {
			return errors.Wrapf(err, "failed to update iavl database: %s", title)
		}
	}
	if _, _, err := s.Tree.SaveVersion(); err != nil {
		return errors.Wrapf(err, "failed to version iavl database: %s", title)
	}
	return nil
}

// Previous は開いた時点のバージョンから計測値を読みます。
func (s *Store) Previous(context, name string) ([]time.Duration, bool, error) {
	if s.base == 0 {
		return nil, false, nil
	}
	bytes, err := s.Tree.GetVersioned(key(context, name), s.base)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to read version %d", s.base)
	}
	if bytes == nil {
		return nil, false, nil
	}
	samples, err := decode(bytes)
	if err != nil {
		return nil, false, err
	}
	return samples, true, nil
}

func key(context, name string) []byte {
	return []byte(context + "/" + name)
}

// encode は計測値をナノ秒の uint64 リトルエンディアンで並べます。
func encode(samples []time.Duration) []byte {
	data := make([]byte, 8*len(samples))
	for i, d := range samples {
		binary.LittleEndian.PutUint64(data[8*i:], uint64(d.Nanoseconds()))
	}
	return data
}

func decode(data []byte) ([]time.Duration, error) {
	if len(data)%8 != 0 {
		return nil, errors.Errorf("invalid value byte size: %d", len(data))
	}
	samples := make([]time.Duration, len(data)/8)
	for i := range samples {
		samples[i] = time.Duration(binary.LittleEndian.Uint64(data[8*i:]))
	}
	return samples, nil
}
