package storage

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JQX369/tellyads-rag-sub000/internal/rank"
	"github.com/JQX369/tellyads-rag-sub000/pkg/types"
)

func TestVectorSerialization(t *testing.T) {
	in := []float32{0, 1.5, -2.25, float32(math.Pi), math.MaxFloat32}
	blob := SerializeVector(in)
	assert.Len(t, blob, len(in)*4)
	assert.Equal(t, in, DeserializeVector(blob))
	assert.Empty(t, DeserializeVector(nil))
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"scaled", []float32{1, 1}, []float32{3, 3}, 1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestSortCandidates(t *testing.T) {
	c := []rank.Candidate{{ID: 5, Score: 0.5}, {ID: 2, Score: 0.9}, {ID: 3, Score: 0.5}, {ID: 1, Score: 0.1}}
	sortCandidates(c)
	assert.Equal(t, []rank.Candidate{{ID: 2, Score: 0.9}, {ID: 3, Score: 0.5}, {ID: 5, Score: 0.5}, {ID: 1, Score: 0.1}}, c)
}

func TestBuildFTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"crisp lager", `"crisp" OR "lager"`},
		{"Crisp LAGER crisp", `"crisp" OR "lager"`},
		{`NEAR("a" b) OR -c*`, `"near" OR "a" OR "b" OR "or" OR "c"`},
		{"50% off!", `"50" OR "off"`},
		{"café crème", `"café" OR "crème"`},
		{"?!()", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, buildFTSQuery(tt.in))
		})
	}
}

func TestRebindDollar(t *testing.T) {
	assert.Equal(t, "SELECT $1, $2", rebindDollar("SELECT ?, ?"))
	assert.Equal(t, "WHERE a = '?' AND b = $1", rebindDollar("WHERE a = '?' AND b = ?"))
	assert.Equal(t, "SELECT 1", rebindDollar("SELECT 1"))
}

func TestBuildCandidateScope(t *testing.T) {
	assert.Equal(t, candidateScope{where: "1 = 1"}, buildCandidateScope(HybridQuery{}))

	now := time.Unix(1700000000, 0)
	scope := buildCandidateScope(HybridQuery{
		ItemTypes:  []types.ItemType{types.ItemClaim, types.ItemSuper},
		Filters:    &SearchFilters{Brand: "Acme", Year: 2020, HasSupers: boolPtr(true)},
		PublicOnly: true,
		Now:        now,
	})
	assert.Contains(t, scope.where, "ei.item_type IN (?,?)")
	assert.Contains(t, scope.where, "LOWER(a.brand_name) = LOWER(?)")
	assert.Contains(t, scope.where, "a.has_supers = ?")
	assert.Contains(t, scope.where, publishGateSQL)
	assert.Equal(t, []any{"claim", "super", "Acme", 2020, true, int64(1700000000)}, scope.args)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, normalizeLimit(0))
	assert.Equal(t, DefaultLimit, normalizeLimit(-3))
	assert.Equal(t, 7, normalizeLimit(7))
	assert.Equal(t, MaxLimit, normalizeLimit(MaxLimit+1))
}
