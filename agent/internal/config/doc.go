// Package config loads and watches the cmodparams serve configuration file.
//
// Top-level types:
//   - Config{MDSplus, Agent, Server}: full config tree parsed from YAML
//   - MDSplusConfig: server, user / user_env, timeout; Login() resolves the name
//   - AgentConfig: poll_interval, concurrency, minor_radius, window, shots []
//   - ShotConfig: shot number with optional window and minor_radius overrides
//   - ServerConfig: http_port, snapshot_ttl, broadcast_interval, auth, alerts
//
// Load(path) reads the YAML file, applies defaults (alcdata, 30s timeout,
// 5m poll, 4 concurrent shots, a = 0.22 m, port 8080, 24h TTL), then validates
// required fields, windows and enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. The serve command uses it to pick up
// a new shot list without restarting.
package config
