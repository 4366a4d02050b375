// Package config loads the ustreamer process configuration.
//
// Configuration is JSONC (JSON with comments and trailing commas) with six
// sections:
//
//	{
//	  // forwarding rules
//	  "streamer": {"message_queue_size": 1000, "wait_timeout": "100ms"},
//	  "host": {"transport": "nats", "authority": "host", "nats": {"urls": ["nats://localhost:4222"]}},
//	  "bus": {"enabled": true, "authority": "ecu", "config_file": "bus.jsonc"},
//	  "subscriptions": {"file": "subscriptions.json", "watch": true},
//	  "metrics": {"enabled": true, "addr": ":9090"},
//	  "log": {"level": "info", "format": "json"},
//	}
//
// Loader merges, in order: Default, each file layer, and environment
// overrides named USTREAMER_<SECTION>_<KEY> (for example
// USTREAMER_HOST_AUTHORITY or USTREAMER_NATS_URLS). Only keys present in a
// layer override earlier values. File references (bus.config_file,
// subscriptions.file) are resolved against the directory of the layer that
// sets them.
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/ustreamer/base.jsonc")
//	loader.AddLayer("/etc/ustreamer/site.jsonc")
//	cfg, err := loader.Load()
//
// A missing file is reported as NOT_FOUND wrapping errors.ErrConfigNotFound.
// Unparseable files, unknown keys and failed validation are INVALID_ARGUMENT
// wrapping errors.ErrInvalidConfig.
//
// Durations are strings accepted by time.ParseDuration, plus a "d" suffix
// for days.
package config
