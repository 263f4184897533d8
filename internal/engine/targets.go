package engine

import (
	"strconv"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
)

var esTargets = map[string]api.Target{
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// Target maps a build target such as "es2017" to esbuild's. Unknown targets
// fall back to ES2015.
func Target(t string) api.Target {
	if v, ok := esTargets[strings.ToLower(t)]; ok {
		return v
	}
	return api.ES2015
}

var browserEngines = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"and_chr": api.EngineChrome,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"and_ff":  api.EngineFirefox,
	"safari":  api.EngineSafari,
	"ios_saf": api.EngineIOS,
	"ios":     api.EngineIOS,
	"opera":   api.EngineOpera,
	"ie":      api.EngineIE,
	"node":    api.EngineNode,
	"deno":    api.EngineDeno,
}

// Engines converts browserslist style queries ("chrome >= 80", "safari 13.1")
// into esbuild engine constraints, keeping the lowest version per engine.
func Engines(queries []string) []api.Engine {
	lowest := make(map[api.EngineName]string)
	var order []api.EngineName
	for _, q := range queries {
		fields := strings.Fields(strings.ToLower(q))
		if len(fields) == 3 && fields[1] == ">=" {
			fields = []string{fields[0], fields[2]}
		}
		if len(fields) != 2 {
			log.Debug().Str("query", q).Msg("Ignoring unsupported browserslist query")
			continue
		}
		name, ok := browserEngines[fields[0]]
		if !ok || !validVersion(fields[1]) {
			log.Debug().Str("query", q).Msg("Ignoring unsupported browserslist query")
			continue
		}
		cur, seen := lowest[name]
		if !seen {
			order = append(order, name)
			lowest[name] = fields[1]
			continue
		}
		if compareVersions(fields[1], cur) < 0 {
			lowest[name] = fields[1]
		}
	}

	engines := make([]api.Engine, 0, len(order))
	for _, name := range order {
		engines = append(engines, api.Engine{Name: name, Version: lowest[name]})
	}
	return engines
}

func validVersion(v string) bool {
	for _, part := range strings.Split(v, ".") {
		if _, err := strconv.Atoi(part); err != nil {
			return false
		}
	}
	return true
}

func compareVersions(a, b string) int {
	ap, bp := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(ap) || i < len(bp); i++ {
		var x, y int
		if i < len(ap) {
			x, _ = strconv.Atoi(ap[i])
		}
		if i < len(bp) {
			y, _ = strconv.Atoi(bp[i])
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}
