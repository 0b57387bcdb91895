// Package config loads, normalizes, and validates visualia configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the VISUALIA_MODEL, VISUALIA_LANG,
// and VISUALIA_BACKEND environment fallbacks. Model selectors such as "small"
// resolve to whisper model files, and source languages are reduced to their
// base ISO code before they reach the engine command line.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
