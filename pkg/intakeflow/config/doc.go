/*
Package config loads intakeflow configuration.

# Typed access

Config wraps a decoded YAML/JSON map and provides typed accessors that
return the default when a key is missing or has the wrong type:

	cfg, err := config.FromFile("intakeflow.yaml")
	ttl := cfg.Duration("scheduling.hold_ttl", 10*time.Minute)
	dsn := cfg.String("store.dsn", "memory")

Dotted keys walk nested maps; Section returns a nested map as its own Config.

# Settings

Settings is the explicit configuration object the engine, scheduler and
adapters are constructed with. The CLI builds it in three layers:

	c, _ := config.FromFile(path)                 // file (optional)
	c = config.ApplyEnv(c, os.LookupEnv)          // environment overlay
	settings := config.SettingsFrom(c)            // typed, with defaults
	// command-line flags are applied last by the caller

Config is safe for concurrent reads once built. Set and ApplyEnv mutate
the underlying map and belong to startup code.
*/
package config
