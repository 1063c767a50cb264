// Package cmod fetches Alcator C-Mod diagnostic signals over mdsip.
//
// The four accessors (LineIntegratedDensity, LineAveragedDensity,
// PlasmaCurrent, ToroidalField) each dial the data server, open the signal's
// tree for the requested shot, read the node and dim_of(node), and return a
// plasma.Signal. Plasma current is divided by 1000 in the server expression;
// the toroidal field is negated after it arrives. Errors from the mdsip layer
// are wrapped, so errors.As still finds *mdsip.ServerError.
//
// The package-level functions use Default, which talks to "alcdata". Build a
// Client with New to point at another server or to pass mdsip options.
package cmod
