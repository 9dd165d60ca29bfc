package maple

import (
	"testing"

	"github.com/datasafe/papl/lib/db"
	dbtesting "github.com/datasafe/papl/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunPolicyDBTests(t, "MapleDB", func(testing.TB) db.PolicyDB {
		return NewMapleDB(nil)
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunPolicyDBBenchmarks(b, "MapleDB", func(testing.TB) db.PolicyDB {
		return NewMapleDB(nil)
	})
}

func TestSingleShard(t *testing.T) {
	dbtesting.RunPolicyDBTests(t, "MapleDB(1 shard)", func(testing.TB) db.PolicyDB {
		return NewMapleDB(&DBOptions{NumShards: 1})
	})
}

func TestUpdateKeepsInsertionPosition(t *testing.T) {
	database := NewMapleDB(&DBOptions{NumShards: 4})
	defer database.Close()

	for _, k := range []string{"k1", "k2", "k3"} {
		if _, err := database.Upsert(db.Record{Key: k, Value: k, Stamp: 10}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	if _, err := database.Upsert(db.Record{Key: "k1", Value: "new", Stamp: 20}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	keys, err := database.Keys(db.AtLeast, 0, nil)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	want := []string{"k1", "k2", "k3"}
	if len(keys) != len(want) {
		t.Fatalf("Expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, keys)
			break
		}
	}
}
