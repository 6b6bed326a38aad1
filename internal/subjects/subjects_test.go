package subjects

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/citation-enricher/internal/config"
	"github.com/sells-group/citation-enricher/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func ids(subs []model.Subject) []string {
	out := make([]string, len(subs))
	for i, s := range subs {
		out[i] = s.ID
	}
	return out
}

func TestCSVSource_Load(t *testing.T) {
	path := writeFile(t, "patents.csv", "\ufeffPatent_ID,Title,grant_date,Score\n"+
		"10000001,Widget,2019-01-02,0.75\n"+
		" 10000002 ,\"Gadget, improved\",,\n")

	subs, err := (&CSVSource{Path: path}).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 2)

	assert.Equal(t, "10000001", subs[0].ID)
	assert.Equal(t, "Widget", subs[0].Title)
	assert.Equal(t, "2019-01-02", subs[0].Date)
	require.NotNil(t, subs[0].Score)
	assert.InDelta(t, 0.75, *subs[0].Score, 1e-9)

	assert.Equal(t, "10000002", subs[1].ID)
	assert.Equal(t, "Gadget, improved", subs[1].Title)
	assert.Nil(t, subs[1].Score)
}

func TestCSVSource_IDAliases(t *testing.T) {
	path := writeFile(t, "p.csv", "patent_number\nA1\nA2\n")
	subs, err := (&CSVSource{Path: path}).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2"}, ids(subs))
}

func TestCSVSource_Errors(t *testing.T) {
	_, err := (&CSVSource{Path: filepath.Join(t.TempDir(), "missing.csv")}).Load(context.Background())
	assert.Error(t, err)

	path := writeFile(t, "noid.csv", "title\nfoo\n")
	_, err = (&CSVSource{Path: path}).Load(context.Background())
	assert.ErrorContains(t, err, "no id column")

	path = writeFile(t, "badscore.csv", "id,score\nP1,high\n")
	_, err = (&CSVSource{Path: path}).Load(context.Background())
	assert.ErrorContains(t, err, "line 2")
}

func TestCSVSource_Empty(t *testing.T) {
	path := writeFile(t, "empty.csv", "")
	subs, err := (&CSVSource{Path: path}).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestJSONSource_Load(t *testing.T) {
	path := writeFile(t, "p.json", `[{"patent_id":"P1","title":"One","score":1.5},{"patent_id":"P2"}]`)
	subs, err := (&JSONSource{Path: path}).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "One", subs[0].Title)
	assert.InDelta(t, 1.5, *subs[0].Score, 1e-9)

	path = writeFile(t, "bad.json", `{"patent_id":"P1"}`)
	_, err = (&JSONSource{Path: path}).Load(context.Background())
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	ctx := context.Background()

	src, err := FromConfig(ctx, config.InputConfig{Source: "csv", Path: "x.csv"})
	require.NoError(t, err)
	assert.IsType(t, &CSVSource{}, src)

	src, err = FromConfig(ctx, config.InputConfig{Source: "json", Path: "x.json"})
	require.NoError(t, err)
	assert.IsType(t, &JSONSource{}, src)

	_, err = FromConfig(ctx, config.InputConfig{Source: "xlsx"})
	assert.ErrorContains(t, err, "unknown source")
}

func TestClean(t *testing.T) {
	in := []model.Subject{
		{ID: "P1", Title: "first"},
		{ID: "  "},
		{ID: " P2"},
		{ID: "P1", Title: "second"},
		{ID: "P3"},
	}
	out := Clean(in)
	assert.Equal(t, []string{"P1", "P2", "P3"}, ids(out))
	assert.Equal(t, "first", out[0].Title)
}

func TestSelect(t *testing.T) {
	in := []model.Subject{{ID: "P1"}, {ID: "P2"}, {ID: "P3"}, {ID: "P4"}}

	assert.Equal(t, []string{"P1", "P2", "P3", "P4"}, ids(Select(in, nil, 0)))
	assert.Equal(t, []string{"P1", "P2"}, ids(Select(in, nil, 2)))
	assert.Equal(t, []string{"P2", "P4"}, ids(Select(in, []string{"P4", " P2", "P9"}, 0)))
	assert.Equal(t, []string{"P2"}, ids(Select(in, []string{"P4", "P2"}, 1)))
}

func TestParseIDList(t *testing.T) {
	assert.Equal(t, []string{"P1", "P2"}, ParseIDList(" P1, ,P2,"))
	assert.Nil(t, ParseIDList(""))
}
