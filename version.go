package copilotz

import _ "embed"

// Version is the release of the copilotz module.
//
//go:embed VERSION
var Version string
