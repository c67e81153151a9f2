// Copyright 2026 The Sightglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package collector defines the wire types of the collector's
// authentication and configuration API: the token exchange
// request/response, the server-declared interactive auth mechanism,
// the dynamic server configuration document, and the module
// descriptors returned with a successful exchange.
//
// Field names are the collector's backend contract; the SDK treats
// them as given. All server configuration values arrive as strings;
// numeric knobs are parsed by lib/retry, and parse failures keep the
// local default rather than failing.
package collector
