package domain

import "github.com/gopcua/opcua/ua"

const (
	StatusGood      ua.StatusCode = 0
	StatusUncertain ua.StatusCode = 0x40000000
	StatusBad       ua.StatusCode = 0x80000000
	statusSeverity  ua.StatusCode = 0xC0000000
)

// Status codes the sampler reports for fields it could not read cleanly.
var (
	StatusSourceUnavailable = ua.StatusBadNoCommunication
	StatusUnknownSource     = ua.StatusBadNodeIDUnknown
	StatusTypeMismatch      = ua.StatusBadTypeMismatch
	StatusNoInitialValue    = ua.StatusBadWaitingForInitialData
)

func IsGood(s ua.StatusCode) bool      { return s&statusSeverity == 0 }
func IsUncertain(s ua.StatusCode) bool { return s&statusSeverity == StatusUncertain }
func IsBad(s ua.StatusCode) bool       { return s&StatusBad != 0 }
