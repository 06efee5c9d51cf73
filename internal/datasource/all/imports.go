// Package all registers the built-in data sources ("file", "blob", "http")
// with the datasource factory.
package all

import (
	_ "csvpipeline/internal/datasource/file"
	_ "csvpipeline/internal/datasource/httpds"
	_ "csvpipeline/internal/datasource/object"
)
