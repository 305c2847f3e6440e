package migrations

import (
	"github.com/AvaProtocol/ap-userop/core/migrator"
)

// Migrations are applied to the journal in order. Names are prefixed with
// YYYYMMDD-HHMMSS so the recorded markers sort chronologically.
var Migrations = []migrator.Migration{
	{
		Name:     "20260301-120000-rebuild-state-counters",
		Function: RebuildStateCounters,
	},
}
