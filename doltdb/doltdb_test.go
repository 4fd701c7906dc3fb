package doltdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"posegraph_bench/common"
)

func TestStoreBaseline(t *testing.T) {
	if testing.Short() {
		t.Skip("embedded dolt is slow")
	}
	path := filepath.Join(t.TempDir(), "history")
	results := []*common.Result{
		{Context: "gauss-newton", Name: "two.g2o", Elapsed: []time.Duration{3 * time.Millisecond, time.Millisecond, 2 * time.Millisecond}},
	}

	first := NewStore(path, "s1")
	if err := first.Open(); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := first.Previous("gauss-newton", "two.g2o"); err != nil || ok {
		t.Errorf("Previous on an empty store = %v, %v; want no baseline", ok, err)
	}
	if err := first.Save("2d benchmarks", results); err != nil {
		t.Fatal(err)
	}
	// 同じセッションの再保存は置き換え
	if err := first.Save("2d benchmarks", results); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second := NewStore(path, "s2")
	if err := second.Open(); err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	got, ok, err := second.Previous("gauss-newton", "two.g2o")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("Previous found no baseline")
	}
	if diff := cmp.Diff(results[0].Elapsed, got); diff != "" {
		t.Errorf("baseline mismatch (-want +got):\n%s", diff)
	}
	if _, ok, err := second.Previous("gauss-newton", "other.g2o"); err != nil || ok {
		t.Errorf("Previous(other.g2o) = %v, %v; want no baseline", ok, err)
	}

	// 自分のセッションは比較対象にならない
	newer := []*common.Result{{Context: "gauss-newton", Name: "two.g2o", Elapsed: []time.Duration{time.Second}}}
	if err := second.Save("2d benchmarks", newer); err != nil {
		t.Fatal(err)
	}
	got, _, err = second.Previous("gauss-newton", "two.g2o")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(results[0].Elapsed, got); diff != "" {
		t.Errorf("baseline after saving s2 mismatch (-want +got):\n%s", diff)
	}
}
