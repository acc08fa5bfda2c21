// Copyright 2026 The Meshdrop Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for Meshdrop
// components.
//
// Configuration is loaded from a single file specified by either the
// MESHDROP_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. Every field has a working default, so
// running with no config file at all is supported; a file only
// overrides what it names.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${USER} are expanded. No other environment variables
// override config values.
//
// Key exports:
//
//   - [Config] -- registry URL, display name, download dir, STUN URLs
//   - [Default] -- returns the zero-file defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other Meshdrop packages.
package config
