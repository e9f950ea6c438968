package domain

import (
	"strconv"
	"time"
)

type CommandType string

const (
	CommandLock         CommandType = "lock"
	CommandUnlock       CommandType = "unlock"
	CommandWipe         CommandType = "wipe"
	CommandSetWallpaper CommandType = "setWallpaper"
	CommandSetPin       CommandType = "setPin"
	CommandAlarm        CommandType = "alarm"
)

func (c CommandType) Valid() bool {
	switch c {
	case CommandLock, CommandUnlock, CommandWipe, CommandSetWallpaper, CommandSetPin, CommandAlarm:
		return true
	}
	return false
}

// RemoteCommand is the single pending slot read-and-cleared by the next
// heartbeat. A newer command replaces an undelivered one.
type RemoteCommand struct {
	Command   CommandType       `json:"command"`
	Params    map[string]string `json:"params,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	IssuedBy  string            `json:"issuedBy,omitempty"`
}

type CommandRequest struct {
	Command      CommandType `json:"command" validate:"required,oneof=lock unlock wipe setWallpaper setPin alarm"`
	Reason       string      `json:"reason" validate:"max=300"`
	Pin          string      `json:"pin" validate:"omitempty,numeric,min=4,max=8"`
	WallpaperURL string      `json:"wallpaperUrl" validate:"omitempty,url"`
	Duration     int         `json:"durationSeconds" validate:"min=0,max=3600"`
}

// Params renders the command-specific arguments carried to the agent.
func (r *CommandRequest) Params() map[string]string {
	params := map[string]string{}
	switch r.Command {
	case CommandSetPin:
		params["pin"] = r.Pin
	case CommandSetWallpaper:
		params["wallpaperUrl"] = r.WallpaperURL
	case CommandAlarm:
		if r.Duration > 0 {
			params["durationSeconds"] = strconv.Itoa(r.Duration)
		}
	}
	if r.Reason != "" {
		params["reason"] = r.Reason
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

type CommandResponse struct {
	CustomerID string         `json:"customerId"`
	IsLocked   bool           `json:"isLocked"`
	Pending    *RemoteCommand `json:"pending"`
}
