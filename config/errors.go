package config

import "errors"

var (
	ErrElectionTimeoutRange  = errors.New("election timeout bounds invalid")
	ErrHeartbeatTooSlow      = errors.New("heartbeat interval must be well below the minimum election timeout")
	ErrViewChangeTimeoutLow  = errors.New("view change timeout too low")
	ErrInvalidFaultTolerance = errors.New("f must be >= 0")
	ErrMissingDataDir        = errors.New("data directory must be set")
)
