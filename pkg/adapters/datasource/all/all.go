// Package all registers every database backend with the datasource registry.
package all

import (
	_ "github.com/ekaya-inc/insightpilot/pkg/adapters/datasource/duckdb"   // Register duckdb adapter
	_ "github.com/ekaya-inc/insightpilot/pkg/adapters/datasource/hana"     // Register hana adapter
	_ "github.com/ekaya-inc/insightpilot/pkg/adapters/datasource/mongodb"  // Register mongodb adapter
	_ "github.com/ekaya-inc/insightpilot/pkg/adapters/datasource/mssql"    // Register mssql adapter
	_ "github.com/ekaya-inc/insightpilot/pkg/adapters/datasource/mysql"    // Register mysql adapter
	_ "github.com/ekaya-inc/insightpilot/pkg/adapters/datasource/oracle"   // Register oracle adapter
	_ "github.com/ekaya-inc/insightpilot/pkg/adapters/datasource/postgres" // Register postgres adapter
	_ "github.com/ekaya-inc/insightpilot/pkg/adapters/datasource/sqlite"   // Register sqlite adapter
)
