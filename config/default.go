// Package appdefaults embeds the default configuration shipped with the
// bridge. Values here are overridden by conf.yaml on disk and by
// OAIRA_* environment variables.
package appdefaults

import _ "embed"

//go:embed conf.yaml
var Default []byte
