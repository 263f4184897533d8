package bundler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArtifact_DependencyMarkers(t *testing.T) {
	code := `import { a } from "./a.bundling.js#/lib/a.ts@000000";
import b from './b.bundling.js#https://esm.sh/react@18.2.0@abcdef';
const s = "#not-a-marker@zzzzzz";
`
	doc := parseArtifact(code)

	assert.Equal(t, []string{"/lib/a.ts", "https://esm.sh/react@18.2.0"}, doc.depURLs())

	out, err := doc.render(map[string]string{
		"/lib/a.ts":                   "123456",
		"https://esm.sh/react@18.2.0": "fedcba",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, `import { a } from "./a.bundling.js#/lib/a.ts@123456";
import b from './b.bundling.js#https://esm.sh/react@18.2.0@fedcba';
const s = "#not-a-marker@zzzzzz";
`, out)
}

func TestParseArtifact_UnknownMarkersKeepTheirHash(t *testing.T) {
	code := `import "./x.bundling.js#/x.ts@0a0a0a";`

	out, err := parseArtifact(code).render(nil, nil)

	require.NoError(t, err)
	assert.Equal(t, code, out)
}

func TestParseArtifact_RoundTripWithoutPlaceholders(t *testing.T) {
	code := "export const x = 1;\nconsole.log(`#${x}@`);\n"

	out, err := parseArtifact(code).render(map[string]string{"x": "111111"}, nil)

	require.NoError(t, err)
	assert.Equal(t, code, out)
}

func TestParseArtifact_StarDeclarations(t *testing.T) {
	code := `export const $$star_0 = __ALEPH.pack["https://cdn.example.com/react.js"];
export const $$star_1 = __ALEPH.pack["https://cdn.example.com/dom.js"];
`
	doc := parseArtifact(code)
	assert.Equal(t, []int{0, 1}, doc.starIndexes())

	out, err := doc.render(nil, map[int][]string{
		0: {"useState", "useEffect"},
		1: {},
	})
	require.NoError(t, err)

	assert.Equal(t, `export const {useState, useEffect} = __ALEPH.pack["https://cdn.example.com/react.js"];
export const {} = __ALEPH.pack["https://cdn.example.com/dom.js"];
`, out)
	assert.NotContains(t, out, StarPlaceholderPrefix)
}

func TestParseArtifact_UnresolvedStar(t *testing.T) {
	doc := parseArtifact(`export const $$star_3 = __ALEPH.pack["x"];`)

	_, err := doc.render(nil, map[int][]string{0: {"a"}})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExportResolution)
	assert.Contains(t, err.Error(), "$$star_3")
}

func TestParseArtifact_StarPrefixInsideIdentifier(t *testing.T) {
	code := `export const $$star_12abc = 1;`

	out, err := parseArtifact(code).render(nil, nil)

	require.NoError(t, err)
	assert.Equal(t, code, out)
}
