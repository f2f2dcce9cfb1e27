package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/herdctl/herd/pkg/types"
)

// requiredExtensions are the postgres extensions every instance ships.
var requiredExtensions = []string{"uuid-ossp", "pgcrypto", "pgjwt"}

// CheckDatabase opens a fresh connection to the externally published
// database port and issues the three standard checks: a trivial query
// with version and clock, the auth user count, and the installed
// extension lookup. Healthy iff all three succeed.
func (c *Checker) CheckDatabase(ctx context.Context, inst *types.Instance) *types.DatabaseReport {
	ctx, cancel := context.WithTimeout(ctx, DatabaseProbeTimeout)
	defer cancel()

	report := &types.DatabaseReport{}

	dsn := fmt.Sprintf("postgres://postgres:%s@%s:%d/postgres?connect_timeout=%d",
		inst.Credentials.PostgresPassword, c.host, inst.Ports.DatabaseExternal,
		int(DatabaseProbeTimeout.Seconds()))

	start := time.Now()
	conn, err := pgx.Connect(ctx, dsn)
	report.ConnectionTimeMS = time.Since(start).Milliseconds()
	if err != nil {
		report.Error = err.Error()
		return report
	}
	defer conn.Close(context.Background())

	var one int
	var now time.Time
	if err := conn.QueryRow(ctx, "SELECT 1, version(), now()").
		Scan(&one, &report.ServerVersion, &now); err != nil {
		report.Error = fmt.Sprintf("basic query failed: %v", err)
		return report
	}

	if err := conn.QueryRow(ctx, "SELECT count(*) FROM auth.users").
		Scan(&report.UserCount); err != nil {
		report.Error = fmt.Sprintf("auth schema query failed: %v", err)
		return report
	}

	rows, err := conn.Query(ctx,
		"SELECT extname FROM pg_extension WHERE extname = ANY($1)", requiredExtensions)
	if err != nil {
		report.Error = fmt.Sprintf("extension lookup failed: %v", err)
		return report
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			report.Error = fmt.Sprintf("extension scan failed: %v", err)
			return report
		}
		report.Extensions = append(report.Extensions, name)
	}
	if err := rows.Err(); err != nil {
		report.Error = fmt.Sprintf("extension lookup failed: %v", err)
		return report
	}

	report.Healthy = true
	return report
}
