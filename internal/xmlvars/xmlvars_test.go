package xmlvars

import (
	"testing"

	"github.com/jogakdal/tbeg/pkg/tbegerr"
	"github.com/stretchr/testify/require"
)

func TestRewrite_SubstitutesAndEscapes(t *testing.T) {
	xmlContent := []byte(`<c:tx><c:v>Revenue for ${region}</c:v></c:tx>`)
	out, err := Rewrite("xl/charts/chart1.xml", xmlContent, func(name string) (string, bool) {
		if name == "region" {
			return "R&D <North>", true
		}
		return "", false
	})
	require.NoError(t, err)
	require.Equal(t, `<c:tx><c:v>Revenue for R&amp;D &lt;North&gt;</c:v></c:tx>`, string(out))
}

func TestRewrite_MissingNameErrors(t *testing.T) {
	xmlContent := []byte(`<c:v>${unknown}</c:v>`)
	_, err := Rewrite("xl/charts/chart1.xml", xmlContent, func(name string) (string, bool) {
		return "", false
	})
	require.Error(t, err)
	kind, ok := tbegerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, tbegerr.MissingTemplateData, kind)
}

func TestContainsVariables(t *testing.T) {
	require.True(t, ContainsVariables([]byte("${x}")))
	require.False(t, ContainsVariables([]byte("no tokens here")))
}

func TestReferencedNames_Deduplicates(t *testing.T) {
	names := ReferencedNames([]byte("${a} ${b} ${a}"))
	require.Equal(t, []string{"a", "b"}, names)
}
