// Package cmodtest serves canned C-Mod shots from an mdsiptest server.
package cmodtest

import (
	"strings"

	"github.com/cmodtools/cmodparams/pkg/cmod"
	"github.com/cmodtools/cmodparams/pkg/mdsip/mdsiptest"
	"github.com/cmodtools/cmodparams/pkg/plasma"
)

// Shot holds the raw node contents for one shot, keyed by node path as the
// server stores them (before any client-side sign flip).
type Shot map[string]plasma.Signal

// NewServer starts a fake data server holding shots. A tree opens for any
// shot present in shots; a node missing from a shot answers "node not found".
func NewServer(shots map[int]Shot, opts ...mdsiptest.Option) *mdsiptest.Server {
	return mdsiptest.NewServer(func(r *mdsiptest.Request) mdsiptest.Reply {
		if r.Expr == "TreeOpen($,$)" {
			n, _ := r.Args[1].Int64()
			if _, ok := shots[int(n)]; !ok {
				return mdsiptest.OK(int32(mdsiptest.StatusFileNotFound))
			}
			return mdsiptest.OK(int32(1))
		}

		shot, ok := shots[r.Shot]
		if !ok || r.Tree == "" {
			return mdsiptest.Fail(mdsiptest.StatusFileNotFound, "%TREE-E-NOT_OPEN, Tree not currently open")
		}

		path, timebase := r.Expr, false
		if strings.HasPrefix(path, "dim_of(") && strings.HasSuffix(path, ")") {
			path, timebase = path[len("dim_of("):len(path)-1], true
		}
		sig, ok := shot[path]
		if !ok || !treeOwns(r.Tree, path) {
			return mdsiptest.Fail(mdsiptest.StatusNodeNotFound, "%TREE-W-NNF, Node Not Found")
		}
		if timebase {
			return mdsiptest.OK(sig.Time)
		}
		return mdsiptest.OK(sig.Data)
	}, opts...)
}

// treeOwns reports whether path lives in tree, judged by its \TREE:: prefix.
func treeOwns(tree, path string) bool {
	return strings.HasPrefix(strings.ToUpper(path), `\`+strings.ToUpper(tree)+"::")
}

// Typical returns a plausible shot: 1 MA flat-top, 1.5e20 m^-3 line-averaged
// density, 5.4 T field stored with negative sign, sampled every 0.1 s over 0..1 s.
func Typical() Shot {
	time := []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0}
	n := len(time)
	ip := make([]float64, n)
	nebar := make([]float64, n)
	nl := make([]float64, n)
	btor := make([]float64, n)
	for i := range time {
		ip[i] = -1000 // kA, normal field direction
		nebar[i] = 1.5e20
		nl[i] = 1.5e20 * 0.6
		btor[i] = -5.4
	}
	ip[0], ip[n-1] = 0, 0
	return Shot{
		cmod.PlasmaCurrentPath:         {Time: time, Data: ip},
		cmod.LineAveragedDensityPath:   {Time: time, Data: nebar},
		cmod.LineIntegratedDensityPath: {Time: time, Data: nl},
		cmod.ToroidalFieldPath:         {Time: time, Data: btor},
	}
}
