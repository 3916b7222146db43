package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldcrm/crm-jobs/internal/model"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Acme Inc", "acme"},
		{"Acme Inc.", "acme"},
		{"ACME Corporation", "acme"},
		{"  Widget Works LLC ", "widget works"},
		{"Foo Ltd.", "foo"},
		{"Bar Limited", "bar"},
		{"Baz Co.", "baz"},
		{"Ford Motor Company", "ford motor"},
		{"Acme, Inc.", "acme"},
		{"Incubator", "incubator"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in), "input %q", tt.in)
	}
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "acme.com", Domain("https://www.acme.com/about"))
	assert.Equal(t, "acme.com", Domain("acme.com"))
	assert.Equal(t, "shop.acme.com", Domain("http://shop.ACME.com"))
	assert.Equal(t, "", Domain(""))
}

func TestScore_Bands(t *testing.T) {
	assert.Equal(t, ScoreExact, Score("Acme Inc", "", Candidate{Name: "ACME Corporation"}))
	assert.Equal(t, ScoreContains, Score("Acme", "", Candidate{Name: "Acme Robotics"}))
	assert.Equal(t, ScoreSameDomain, Score("Northwind Labs", "https://northwind.io",
		Candidate{Name: "NW Holdings", Website: "http://www.northwind.io"}))
	// 2 of 3 words shared: 70 + 0.667*20
	assert.Equal(t, 83, Score("Precision Motion Systems", "", Candidate{Name: "Motion Systems Group"}))
	// 1 of min(2,2) words: 70 + 0.5*20
	assert.Equal(t, 80, Score("Blue Design", "", Candidate{Name: "Design Partners"}))
	// 1 of min(3,3) words: 50 + 0.333*20
	assert.Equal(t, 56, Score("Alpha Beta Gamma", "", Candidate{Name: "Gamma Delta Epsilon"}))
	assert.Equal(t, 0, Score("Zed Robotics", "", Candidate{Name: "Unrelated Co"}))
	assert.Equal(t, 0, Score("Acme", "", Candidate{}))
}

func TestBestMatch_ExactNormalizedWins(t *testing.T) {
	candidates := []Candidate{{Name: "ACME Corporation"}, {Name: "Unrelated Co"}}

	m, ok := BestMatch("Acme Inc", "", candidates)
	require.True(t, ok)
	assert.Equal(t, 0, m.Index)
	assert.Equal(t, ScoreExact, m.Score)
}

func TestBestMatch_NoOverlapIsNoMatch(t *testing.T) {
	candidates := []Candidate{{Name: "Northwind Traders"}, {Name: "Contoso Ltd"}}

	m, ok := BestMatch("Zed Robotics", "", candidates)
	assert.False(t, ok)
	assert.Equal(t, -1, m.Index)
}

func TestBestMatch_PicksHighestScore(t *testing.T) {
	candidates := []Candidate{
		{Name: "Design Partners"},
		{Name: "Blue Design Studio"},
		{Name: "Blue Design"},
	}

	m, ok := BestMatch("Blue Design LLC", "", candidates)
	require.True(t, ok)
	assert.Equal(t, 2, m.Index)
}

func TestBestMatch_EmptyCandidates(t *testing.T) {
	_, ok := BestMatch("Acme", "", nil)
	assert.False(t, ok)
}

func TestBlacklist_SuffixNormalized(t *testing.T) {
	bl := NewBlacklist([]string{"acme"})

	assert.True(t, bl.Contains("Acme Inc"))
	assert.True(t, bl.Contains("ACME"))
	assert.False(t, bl.Contains("Acme Robotics"))
	assert.False(t, bl.Contains(""))
}

func TestBlacklist_FilterPreservesOrder(t *testing.T) {
	bl := NewBlacklist([]string{"Acme Inc"}, DefaultExclusions)
	companies := []model.Company{
		{Name: "Acme Inc", Website: "acme.com"},
		{Name: "Frog Design", Website: "frogdesign.com"},
		{Name: "Boeing", Website: "boeing.com"},
		{Name: "IDEO", Website: "ideo.com"},
	}

	kept, excluded := bl.Filter(companies)

	assert.Equal(t, []model.Company{companies[1], companies[3]}, kept)
	assert.Len(t, excluded, 2)
	assert.Equal(t, 15, bl.Len())
}

func TestBlacklist_NilIsEmpty(t *testing.T) {
	var bl *Blacklist
	assert.False(t, bl.Contains("Acme"))
}
