// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) makes the "sqlite", "postgres", "mysql" and "mssql" kinds available
// to storage.New.
package all

import (
	_ "csvpipeline/internal/storage/mssql"
	_ "csvpipeline/internal/storage/mysql"
	_ "csvpipeline/internal/storage/postgres"
	_ "csvpipeline/internal/storage/sqlite"
)
