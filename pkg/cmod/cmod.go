package cmod

import (
	"context"
	"fmt"

	"github.com/cmodtools/cmodparams/pkg/mdsip"
	"github.com/cmodtools/cmodparams/pkg/plasma"
)

// DefaultServer is the C-Mod data server.
const DefaultServer = "alcdata"

// Trees holding the signals.
const (
	ElectronsTree = "electrons"
	MagneticsTree = "magnetics"
)

// Node paths of the fetched signals.
const (
	// LineIntegratedDensityPath is the TCI chord 04 line-integrated density, m^-2.
	LineIntegratedDensityPath = `\ELECTRONS::TOP.TCI.RESULTS.NL_04`

	// LineAveragedDensityPath is the EFIT-inverted line-averaged density, m^-3.
	// It is only stored for shots where someone requested the inversion.
	LineAveragedDensityPath = `\ELECTRONS::TOP.TCI.RESULTS.INVERSION.NEBAR_EFIT`

	// PlasmaCurrentPath evaluates to the plasma current in kA.
	PlasmaCurrentPath = `\MAGNETICS::IP/1000`

	// ToroidalFieldPath is the raw toroidal field; its sign is flipped on fetch.
	ToroidalFieldPath = `\MAGNETICS::BTOR`
)

// Client fetches C-Mod signals from one mdsip server. Every call dials a new
// connection and closes it before returning; nothing is cached or retried.
type Client struct {
	server string
	opts   []mdsip.Option
}

// New returns a Client for server (host or host:port).
func New(server string, opts ...mdsip.Option) *Client {
	return &Client{server: server, opts: opts}
}

// Default is the Client used by the package-level accessors.
var Default = New(DefaultServer)

// Server returns the address the client dials.
func (c *Client) Server() string { return c.server }

// LineIntegratedDensity fetches the line-integrated density in m^-2.
// Divide by the chord length from the equilibrium reconstruction to get a
// line-averaged density for shots where LineAveragedDensity is absent.
func (c *Client) LineIntegratedDensity(ctx context.Context, shot int) (plasma.Signal, error) {
	return c.fetch(ctx, ElectronsTree, LineIntegratedDensityPath, shot, 1)
}

// LineAveragedDensity fetches the line-averaged density in m^-3. The node is
// only populated for some shots; for the others the server reports a missing
// node and the error is returned as is.
func (c *Client) LineAveragedDensity(ctx context.Context, shot int) (plasma.Signal, error) {
	return c.fetch(ctx, ElectronsTree, LineAveragedDensityPath, shot, 1)
}

// PlasmaCurrent fetches the plasma current in kA. A negative current is in
// the normal field direction, a positive one in the reversed direction.
func (c *Client) PlasmaCurrent(ctx context.Context, shot int) (plasma.Signal, error) {
	return c.fetch(ctx, MagneticsTree, PlasmaCurrentPath, shot, 1)
}

// ToroidalField fetches the toroidal magnetic field in tesla, negated from
// the stored sign convention.
func (c *Client) ToroidalField(ctx context.Context, shot int) (plasma.Signal, error) {
	return c.fetch(ctx, MagneticsTree, ToroidalFieldPath, shot, -1)
}

// fetch opens tree at shot, reads path and its time base and applies scale.
func (c *Client) fetch(ctx context.Context, tree, path string, shot int, scale float64) (plasma.Signal, error) {
	conn, err := mdsip.Dial(ctx, c.server, c.opts...)
	if err != nil {
		return plasma.Signal{}, fmt.Errorf("cmod: %w", err)
	}
	defer conn.Close()

	if err := conn.OpenTree(ctx, tree, shot); err != nil {
		return plasma.Signal{}, fmt.Errorf("cmod: %w", err)
	}

	data, err := getFloats(ctx, conn, path)
	if err != nil {
		return plasma.Signal{}, fmt.Errorf("cmod: shot %d: %w", shot, err)
	}
	time, err := getFloats(ctx, conn, "dim_of("+path+")")
	if err != nil {
		return plasma.Signal{}, fmt.Errorf("cmod: shot %d: %w", shot, err)
	}

	sig, err := plasma.NewSignal(time, data)
	if err != nil {
		return plasma.Signal{}, fmt.Errorf("cmod: shot %d %s: %w", shot, path, err)
	}
	if scale != 1 {
		sig = sig.Scaled(scale)
	}
	return sig, nil
}

func getFloats(ctx context.Context, conn *mdsip.Conn, expr string) ([]float64, error) {
	v, err := conn.Get(ctx, expr)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", expr, err)
	}
	out, err := v.Float64s()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", expr, err)
	}
	return out, nil
}

// LineIntegratedDensity fetches the line-integrated density from DefaultServer.
func LineIntegratedDensity(ctx context.Context, shot int) (plasma.Signal, error) {
	return Default.LineIntegratedDensity(ctx, shot)
}

// LineAveragedDensity fetches the line-averaged density from DefaultServer.
func LineAveragedDensity(ctx context.Context, shot int) (plasma.Signal, error) {
	return Default.LineAveragedDensity(ctx, shot)
}

// PlasmaCurrent fetches the plasma current from DefaultServer.
func PlasmaCurrent(ctx context.Context, shot int) (plasma.Signal, error) {
	return Default.PlasmaCurrent(ctx, shot)
}

// ToroidalField fetches the toroidal field from DefaultServer.
func ToroidalField(ctx context.Context, shot int) (plasma.Signal, error) {
	return Default.ToroidalField(ctx, shot)
}
