package web

import (
	"strings"
	"time"

	"github.com/glekoz/chipdash/internal/dashboard"
	"github.com/glekoz/chipdash/internal/models"
)

type DeviceResponse struct {
	ChipID      string           `json:"chip_id" msgpack:"chip_id"`
	Name        *string          `json:"name" msgpack:"name"`
	DisplayName string           `json:"display_name" msgpack:"display_name"`
	Title       string           `json:"title" msgpack:"title"`
	Records     []RecordResponse `json:"records" msgpack:"records"`
}

type RecordResponse struct {
	ChipID    string         `json:"chip_id" msgpack:"chip_id"`
	Timestamp int64          `json:"timestamp" msgpack:"timestamp"`
	DateBE    string         `json:"date_be" msgpack:"date_be"`
	Time      string         `json:"time" msgpack:"time"`
	Payload   map[string]any `json:"payload" msgpack:"payload"`
}

type DevicesResponse struct {
	Devices  []DeviceResponse `json:"devices" msgpack:"devices"`
	Loaded   bool             `json:"loaded" msgpack:"loaded"`
	LoadedAt *time.Time       `json:"loaded_at,omitempty" msgpack:"loaded_at,omitempty"`
}

type NameResponse struct {
	ChipID string `json:"chip_id"`
	Name   string `json:"name"`
}

type OperationResponse struct {
	Kind      string    `json:"kind"`
	ChipID    string    `json:"chip_id"`
	Timestamp *int64    `json:"timestamp,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}

type RenameRequest struct {
	Name string `json:"name"`
}

// TableTitle is the heading shown above a device's log table.
func TableTitle(name string) string {
	if strings.HasSuffix(name, "s") {
		return name + "' Table"
	}
	return name + "'s Table"
}

// FormatBuddhistEra splits t into the Buddhist Era date and an HH:MM clock.
func FormatBuddhistEra(t time.Time) (date, clock string) {
	return models.BuddhistEraDate(t), t.Format("15:04")
}

func presentDevices(views []models.DeviceView, loc *time.Location) []DeviceResponse {
	out := make([]DeviceResponse, 0, len(views))
	for _, v := range views {
		d := DeviceResponse{
			ChipID:      v.ChipID,
			DisplayName: v.Name.String(),
			Title:       TableTitle(v.Name.String()),
			Records:     make([]RecordResponse, 0, len(v.Records)),
		}
		if v.Name.IsAssigned() {
			name := v.Name.Name()
			d.Name = &name
		}
		for _, rec := range v.Records {
			date, clock := FormatBuddhistEra(time.UnixMilli(rec.Timestamp).In(loc))
			payload := rec.Fields
			if payload == nil {
				payload = map[string]any{}
			}
			d.Records = append(d.Records, RecordResponse{
				ChipID:    rec.ChipID,
				Timestamp: rec.Timestamp,
				DateBE:    date,
				Time:      clock,
				Payload:   payload,
			})
		}
		out = append(out, d)
	}
	return out
}

func presentOperations(ops []dashboard.Operation) []OperationResponse {
	out := make([]OperationResponse, 0, len(ops))
	for _, op := range ops {
		resp := OperationResponse{
			Kind:      string(op.Kind),
			ChipID:    op.ChipID,
			Status:    string(op.Status),
			Error:     op.Error,
			UpdatedAt: op.UpdatedAt,
		}
		if op.Kind != dashboard.OpRename {
			ts := op.Timestamp
			resp.Timestamp = &ts
		}
		if op.Status == dashboard.StatusRolledBack {
			resp.ErrorKind = op.ErrorKind.String()
		}
		out = append(out, resp)
	}
	return out
}
