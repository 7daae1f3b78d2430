package notify

import (
	"os"

	"github.com/denisbrodbeck/machineid"
)

const appID = "simtrade-core"

// Origin identifies this node in notification envelopes. The machine id is
// hashed with the app id so the raw id never leaves the host.
func Origin() string {
	if id, err := machineid.ProtectedID(appID); err == nil {
		return id[:16]
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "unknown"
}
