// Package migrate applies Honeydew's schema to a PostgreSQL (or
// CockroachDB) database: the fixed honeydew_registry table used by
// ClusterRegistry, and the per-queue lock/private column pair the Ecto
// Poll Queue backend requires (spec §6's schema contract).
package migrate

import "embed"

//go:embed sql/*.sql
var FS embed.FS
