// Package doltdb は計測結果の履歴を組み込みの Dolt データベースに保存します。
// グループを保存するたびに 1 コミットを作るので、dolt log / dolt diff で過去のセッションと比較できます。
package doltdb

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/dolthub/driver"
	"github.com/pkg/errors"

	"posegraph_bench/common"
)

const database = "posegraph"

// Store は samples テーブルに 1 計測 1 行で保存します。
type Store struct {
	Path    string
	Session string
	Db      *sql.DB
}

var (
	_ common.ResultStore = (*Store)(nil)
	_ common.Baseline    = (*Store)(nil)
)

func NewStore(path, session string) *Store {
	return &Store{Path: path, Session: session}
}

func (s *Store) Open() error {
	if s.Db != nil {
		return nil
	}
	common.CreateDirectory(s.Path)
	dsn := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s&database=%s",
		s.Path,
		url.QueryEscape("posegraph bench"),
		"posegraph-bench@localhost",
		database,
	)
	db, err := sql.Open("dolt", dsn)
	if err != nil {
		return errors.Wrap(err, "failed to open doltdb")
	}
	// USE はコネクションごとの状態なので 1 本に固定する
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`CREATE DATABASE IF NOT EXISTS ` + database,
		`USE ` + database,
		`CREATE TABLE IF NOT EXISTS samples(
			session VARCHAR(64) NOT NULL,
			title VARCHAR(128) NOT NULL,
			context VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			trial INT NOT NULL,
			nanoseconds BIGINT NOT NULL,
			saved_at BIGINT NOT NULL,
			PRIMARY KEY(session, title, context, name, trial)
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return errors.Wrapf(err, "failed to prepare doltdb: %s", strings.Fields(stmt)[0])
		}
	}
	s.Db = db
	return nil
}

func (s *Store) Close() error {
	if s.Db == nil {
		return nil
	}
	err := s.Db.Close()
	s.Db = nil
	return errors.Wrap(err, "failed to close doltdb")
}

// Save はこのセッションの title の結果を置き換え、コミットします。
func (s *Store) Save(title string, results []*common.Result) error {
	if _, err := s.Db.Exec(`DELETE FROM samples WHERE session=? AND title=?`, s.Session, title); err != nil {
		return errors.Wrap(err, "failed to delete previous samples")
	}
	savedAt := time.Now().UnixNano()
	for _, r := range results {
		for i, d := range r.Elapsed {
			_, err := s.Db.Exec(
				`INSERT INTO samples(session, title, context, name, trial, nanoseconds, saved_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
				s.Session, title, r.Context, r.Name, i+1, d.Nanoseconds(), savedAt)
			if err != nil {
				return errors.Wrapf(err, "failed to insert sample %s/%s#%d", r.Context, r.Name, i+1)
			}
		}
	}

	message := strings.ReplaceAll(fmt.Sprintf("%s: %s", s.Session, title), "'", "''")
	if _, err := s.Db.Exec(`CALL DOLT_COMMIT('-A', '--allow-empty', '-m', '` + message + `')`); err != nil {
		return errors.Wrap(err, "failed to commit samples")
	}
	return nil
}

// Previous は別セッションのうち最後に保存された (context, name) の計測値を返します。
func (s *Store) Previous(context, name string) ([]time.Duration, bool, error) {
	var session string
	err := s.Db.QueryRow(
		`SELECT session FROM samples WHERE context=? AND name=? AND session<>? ORDER BY saved_at DESC LIMIT 1`,
		context, name, s.Session).Scan(&session)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to find the previous session")
	}

	rows, err := s.Db.Query(
		`SELECT nanoseconds FROM samples WHERE session=? AND context=? AND name=? ORDER BY trial`,
		session, context, name)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to read previous samples")
	}
	defer rows.Close()
	var samples []time.Duration
	for rows.Next() {
		var ns int64
		if err := rows.Scan(&ns); err != nil {
			return nil, false, errors.Wrap(err, "failed to read previous samples")
		}
		samples = append(samples, time.Duration(ns))
	}
	if err := rows.Err(); err != nil {
		return nil, false, errors.Wrap(err, "failed to read previous samples")
	}
	return samples, len(samples) > 0, nil
}
