// Package api holds the JSON request and response bodies of the HTTP and
// WebSocket interfaces.
package api

import (
	"time"

	"github.com/shopspring/decimal"
)

type ErrorResponse struct {
	Message   string    `json:"message"`
	RequestId string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
}

type ValidationError struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

type ValidationErrorResponse struct {
	Message          string            `json:"message"`
	RequestId        string            `json:"requestId"`
	Timestamp        time.Time         `json:"timestamp"`
	ValidationErrors []ValidationError `json:"validationErrors"`
}

// SelectionExpiredResponse is returned when some of the units of a booking
// request are no longer held by the caller.
type SelectionExpiredResponse struct {
	Message       string    `json:"message"`
	RequestId     string    `json:"requestId"`
	Timestamp     time.Time `json:"timestamp"`
	FailedUnitIds []string  `json:"failedUnitIds"`
}

type SystemInfo struct {
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

type HealthcheckResponse struct {
	Status     string     `json:"status"`
	SystemInfo SystemInfo `json:"systemInfo"`
}

type InventoryUnit struct {
	Id       string          `json:"id"`
	Kind     string          `json:"kind"`
	Category string          `json:"category,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Status   string          `json:"status"`
	Version  uint64          `json:"version"`
}

type InventoryResponse struct {
	ShowtimeId int             `json:"showtimeId"`
	Units      []InventoryUnit `json:"units"`
}

type FinalizeBookingRequest struct {
	OwnerToken string   `json:"ownerToken" validate:"required,uuid"`
	UnitIds    []string `json:"unitIds" validate:"min=1,max=8,dive,required,max=32"`
}

type Booking struct {
	Id         int             `json:"id"`
	Reference  string          `json:"reference"`
	ShowtimeId int             `json:"showtimeId"`
	UnitIds    []string        `json:"unitIds"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type BookingResponse struct {
	Booking Booking `json:"booking"`
}

type ClientMessageType string

const (
	JoinShowtime  ClientMessageType = "join_showtime"
	LeaveShowtime ClientMessageType = "leave_showtime"
	HoldUnit      ClientMessageType = "hold_unit"
	RenewHold     ClientMessageType = "renew_hold"
	ReleaseUnit   ClientMessageType = "release_unit"
)

// ClientMessage is a request frame sent by a WebSocket client.
type ClientMessage struct {
	Type       ClientMessageType `json:"type" validate:"required,oneof=join_showtime leave_showtime hold_unit renew_hold release_unit"`
	RequestId  string            `json:"requestId" validate:"max=64"`
	ShowtimeId int               `json:"showtimeId" validate:"gt=0"`
	UnitId     string            `json:"unitId" validate:"max=32"`
}

const AckType = "ack"

type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Ack answers exactly one ClientMessage.
type Ack struct {
	Type      string     `json:"type"`
	RequestId string     `json:"requestId,omitempty"`
	Ok        bool       `json:"ok"`
	Error     *AckError  `json:"error,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}
