package provisioning

import "embed"

//go:embed schema/*.sql
var tenantSchema embed.FS

const tenantSchemaDir = "schema"
