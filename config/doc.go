// Package config loads the configuration of every polestream process.
//
// Configuration is layered. The Loader starts from built-in defaults, merges
// each file added with AddLayer (JSON, or YAML for .yaml/.yml), then applies
// POLESTREAM_* environment overrides. Only keys present in a layer override
// the layer below, so a file may set a single field of a section.
//
// Durations accept Go duration strings with an added day suffix ("300s",
// "10m", "2d") or integer nanoseconds.
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/polestream/bridge.yaml")
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
package config
