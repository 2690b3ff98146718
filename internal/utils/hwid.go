package utils

import (
	"os"

	"github.com/denisbrodbeck/machineid"
)

const hwidAppKey = "cooksync"

// HWID is a stable, app specific identifier for this machine.
var HWID = hardwareID()

func hardwareID() string {
	id, err := machineid.ProtectedID(hwidAppKey)
	if err == nil && id != "" {
		return id
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}

// ShortHWID returns the first 8 characters of HWID, used to tag files created on this machine.
func ShortHWID() string {
	if len(HWID) <= 8 {
		return HWID
	}
	return HWID[:8]
}
