package cmod

import (
	"context"
	"fmt"
	"sort"

	"github.com/cmodtools/cmodparams/pkg/plasma"
)

// Signal names accepted by Lookup. They are the short names used on the
// command line, in config files and as metric labels.
const (
	SignalLineIntegratedDensity = "nl04"
	SignalLineAveragedDensity   = "nebar"
	SignalPlasmaCurrent         = "ip"
	SignalToroidalField         = "btor"
)

// Accessor is the signature shared by every Client signal method.
type Accessor func(ctx context.Context, shot int) (plasma.Signal, error)

// Info describes one fetchable signal.
type Info struct {
	Name  string
	Tree  string
	Path  string
	Units string
}

var signals = map[string]Info{
	SignalLineIntegratedDensity: {SignalLineIntegratedDensity, ElectronsTree, LineIntegratedDensityPath, "m^-2"},
	SignalLineAveragedDensity:   {SignalLineAveragedDensity, ElectronsTree, LineAveragedDensityPath, "m^-3"},
	SignalPlasmaCurrent:         {SignalPlasmaCurrent, MagneticsTree, PlasmaCurrentPath, "kA"},
	SignalToroidalField:         {SignalToroidalField, MagneticsTree, ToroidalFieldPath, "T"},
}

// Signals returns the names of every signal, sorted.
func Signals() []string {
	out := make([]string, 0, len(signals))
	for name := range signals {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Describe returns the tree, path and units of a named signal.
func Describe(name string) (Info, bool) {
	info, ok := signals[name]
	return info, ok
}

// Lookup returns c's accessor for the named signal.
func (c *Client) Lookup(name string) (Accessor, error) {
	switch name {
	case SignalLineIntegratedDensity:
		return c.LineIntegratedDensity, nil
	case SignalLineAveragedDensity:
		return c.LineAveragedDensity, nil
	case SignalPlasmaCurrent:
		return c.PlasmaCurrent, nil
	case SignalToroidalField:
		return c.ToroidalField, nil
	default:
		return nil, fmt.Errorf("cmod: unknown signal %q (want one of %v)", name, Signals())
	}
}
