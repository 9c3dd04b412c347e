package routes

import (
	"github.com/npd-bank/npd_bank/internal/bridge"
	"github.com/npd-bank/npd_bank/internal/directory"
	"github.com/npd-bank/npd_bank/internal/identity"
	"github.com/npd-bank/npd_bank/internal/ledger"
	"github.com/npd-bank/npd_bank/internal/notification"
)

// ActionTable is the static routing table from logical action to queue.
func ActionTable() bridge.Routes {
	return bridge.Routes{}.
		Add(bridge.QueueIdentity,
			identity.ActionRegister,
			identity.ActionLogin,
			identity.ActionHealth,
		).
		Add(bridge.QueueDirectory,
			directory.ActionMe,
			directory.ActionBalance,
			directory.ActionLookup,
			directory.ActionAdminStats,
			directory.ActionAdminUsers,
			directory.ActionAdminTransfers,
			directory.ActionAdminNotifications,
			directory.ActionHealth,
		).
		Add(bridge.QueueLedger,
			ledger.ActionTransfer,
			ledger.ActionHealth,
		).
		Add(bridge.QueueNotification,
			notification.ActionList,
			notification.ActionHealth,
		)
}
