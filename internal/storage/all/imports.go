// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each concrete backend, which register
// their factories with the storage package. After that, the following kinds
// are available to storage.New:
//
//   - "postgres" (txetl/internal/storage/postgres)
//   - "mysql"    (txetl/internal/storage/mysql)
//   - "mssql"    (txetl/internal/storage/mssql)
//   - "sqlite"   (txetl/internal/storage/sqlite)
//
// A binary that needs only a subset can import the backends it wants
// directly instead.
package all

import (
	_ "txetl/internal/storage/mssql"
	_ "txetl/internal/storage/mysql"
	_ "txetl/internal/storage/postgres"
	_ "txetl/internal/storage/sqlite"
)
