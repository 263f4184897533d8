package modgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImportMap_Resolve(t *testing.T) {
	im := NewImportMap(map[string]string{
		"react":        "https://esm.sh/react@18.2.0",
		"std/":         "https://deno.land/std@0.100.0/",
		"std/fs/":      "https://deno.land/std@0.101.0/fs/",
		"~/":           "./src/",
		"components":   "/components/index.ts",
		"unresolvable": "some-bare-name",
	})

	tests := []struct {
		name      string
		importer  string
		specifier string
		want      string
		ok        bool
	}{
		{"exact", "/app.tsx", "react", "https://esm.sh/react@18.2.0", true},
		{"prefix", "/app.tsx", "std/path/mod.ts", "https://deno.land/std@0.100.0/path/mod.ts", true},
		{"longest prefix", "/app.tsx", "std/fs/mod.ts", "https://deno.land/std@0.101.0/fs/mod.ts", true},
		{"local prefix", "/pages/index.tsx", "~/lib/a.ts", "/src/lib/a.ts", true},
		{"root target", "/app.tsx", "components", "/components/index.ts", true},
		{"bare target", "/app.tsx", "unresolvable", "some-bare-name", false},
		{"relative fallback", "/pages/index.tsx", "../lib/a.ts", "/lib/a.ts", true},
		{"remote relative", "https://deno.land/x/mod.ts", "./b.ts", "https://deno.land/x/b.ts", true},
		{"unmapped bare", "/app.tsx", "lodash", "lodash", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := im.Resolve(tt.importer, tt.specifier)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
	assert.Equal(t, 6, im.Len())
}

func TestImportMap_Nil(t *testing.T) {
	var im *ImportMap
	got, ok := im.Resolve("/a/b.ts", "./c.ts")
	assert.True(t, ok)
	assert.Equal(t, "/a/c.ts", got)
	assert.Zero(t, im.Len())
}
