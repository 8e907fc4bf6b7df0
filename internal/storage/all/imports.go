// Package all wires every built-in storage backend into the storage factory.
//
// It exists purely for side effects: importing it runs the init functions of
// each backend, which register their factories. After
//
//	import _ "datadict/internal/storage/all"
//
// the following kinds are available to storage.New:
//
//   - "sqlite"   (default, single file)
//   - "bolt"     (embedded key/value file)
//   - "postgres"
//   - "mysql"
//   - "mssql"
//
// A binary that needs only a subset can import the backend packages
// directly instead.
package all

import (
	_ "datadict/internal/storage/bolt"
	_ "datadict/internal/storage/mssql"
	_ "datadict/internal/storage/mysql"
	_ "datadict/internal/storage/postgres"
	_ "datadict/internal/storage/sqlite"
)
