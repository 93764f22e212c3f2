package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdSyncNow     CommandType = "sync_now"
	CmdSyncEntity  CommandType = "sync_entity"
	CmdMirrorNow   CommandType = "mirror_now"
	CmdRegisterWeb CommandType = "register_webhooks"
)

// Command is how the portal asks the daemon to do something out of cycle.
// Rows are inserted by the web app and polled by the scheduler.
type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	Integration string `json:"integration,omitempty"`
	Entity      string `json:"entity,omitempty"`
	ListingID   string `json:"listing_id,omitempty"`
}
