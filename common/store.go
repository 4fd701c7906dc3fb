package common

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// ResultStore はグループ単位で計測結果を保存します。
type ResultStore interface {
	Open() error
	Close() error
	Save(title string, results []*Result) error
}

// CSVStore はグループごとに <session>-<title>.csv を書き出します。
// 各行は DATASET, SOLVER に続いてミリ秒単位の計測値を並べたものです。
type CSVStore struct {
	config *Config
	files  []string
}

var _ ResultStore = (*CSVStore)(nil)

func NewCSVStore(config *Config) *CSVStore {
	return &CSVStore{config: config}
}

func (s *CSVStore) Open() error {
	return nil
}

func (s *CSVStore) Close() error {
	return nil
}

// Files は保存したファイルのパスを返します。
func (s *CSVStore) Files() []string {
	return append([]string(nil), s.files...)
}

func (s *CSVStore) Save(title string, results []*Result) error {
	path := s.config.ResultFile(Slug(title), "csv")
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to save statistics")
	}
	defer file.Close()
	writer := csv.NewWriter(file)

	if err := writer.Write([]string{"DATASET", "SOLVER", "MILLISECONDS"}); err != nil {
		return errors.Wrap(err, "failed to save header")
	}
	for _, r := range results {
		ms := r.milliseconds()
		record := make([]string, len(ms)+2)
		record[0] = r.Name
		record[1] = r.Context
		for i, value := range ms {
			record[i+2] = strconv.FormatFloat(value, 'f', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return errors.Wrap(err, "failed to save data")
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return errors.Wrap(err, "failed to save data")
	}
	s.files = append(s.files, path)
	return errors.Wrap(file.Close(), "failed to save statistics")
}
