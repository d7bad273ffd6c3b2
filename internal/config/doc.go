// Package config loads, normalizes, and validates voiceid configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// HF_TOKEN for embedding backends. The identification threshold, decay and
// active backend are read here and handed to the engine as explicit
// parameters; nothing below the CLI consults the environment.
package config
