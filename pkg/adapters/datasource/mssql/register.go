package mssql

import (
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	"github.com/ekaya-inc/insightpilot/pkg/models"
)

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Subtype:     models.DBMSSQL,
			DisplayName: "Microsoft SQL Server",
			Description: "SQL Server 2016+, Azure SQL Database (SQL or service principal auth)",
			Dialect:     datasource.DialectSQL,
		},
		Factory: func(desc models.ConnectionDescriptor, opts datasource.Options, logger *zap.Logger) (datasource.Adapter, error) {
			cfg, err := FromDescriptor(desc)
			if err != nil {
				return nil, err
			}
			return NewAdapter(cfg, opts, logger), nil
		},
	})
}
