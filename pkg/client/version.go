// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

// API version constants.
//
// Each version represents the API as it existed on that date. The client
// sends the version via the Warden-Version header.
const (
	// LatestVersion is the current API version.
	LatestVersion = "2026-10-01"

	// Version20261001 is the initial API version.
	Version20261001 = "2026-10-01"
)

// VersionHeader is the HTTP header used to specify the API version.
const VersionHeader = "Warden-Version"
