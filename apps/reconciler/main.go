// Command reconciler runs the pledge lifecycle engine: the HTTP/API
// surface, the background scheduler (receipt processor, verification
// watchdog, subscription engine sweeps), and startup migrations, all in
// one process — the self-hosted deployment shape. Cloud deployments split
// these across apps, mirroring the Operations/Confidential store split.
package main

import (
	"github.com/pledgeflow/reconciler/internal/clock"
	"github.com/pledgeflow/reconciler/internal/idgen"
	"github.com/pledgeflow/reconciler/internal/migration"
	"github.com/pledgeflow/reconciler/internal/observability"
	"github.com/pledgeflow/reconciler/internal/scheduler"
	"github.com/pledgeflow/reconciler/internal/server"
	"github.com/pledgeflow/reconciler/pkg/db"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		observability.Module,
		idgen.Module,
		db.Module,
		clock.Module,
		server.Module,
		scheduler.Module,
		migration.Module,
	).Run()
}
