package response

import "errors"

type Response struct {
	ResponseError `json:"error,omitzero"`
}

type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

//Error Codes
type ErrCode string

var (
	FAILED_REQUEST     ErrCode = "REQUEST_FAILED"
	BAD_REQUEST        ErrCode = "FAILED_TO_DECODE"
	NOT_FOUND          ErrCode = "NOT_FOUND"
	LOCKED             ErrCode = "LOCKED"
	UNAUTHORIZED       ErrCode = "UNAUTHORIZED"
	NOT_AVAILABLE      ErrCode = "NOT_AVAILABLE"
	OUTSIDE_HOURS      ErrCode = "OUTSIDE_HOURS"
	BOOKING_CONFLICT   ErrCode = "BOOKING_CONFLICT"
	CALENDAR_CONFLICT  ErrCode = "CALENDAR_CONFLICT"
	SLOT_NOT_AVAILABLE ErrCode = "SLOT_NOT_AVAILABLE"
)

var (
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("resource not found")
	ErrLocked       = errors.New("resource is locked")
	ErrConflict     = errors.New("conflict")
	ErrSlotTaken    = errors.New("slot is already booked")
	ErrUnauthorized = errors.New("unauthorized")

	// Booking validation rejections, one per reason code.
	ErrNotAvailable     = errors.New("no availability for this day")
	ErrOutsideHours     = errors.New("slot is outside available hours")
	ErrBookingConflict  = errors.New("slot is no longer available")
	ErrCalendarConflict = errors.New("slot conflicts with a calendar event")

	// ErrUpstream marks a failed remote-calendar query; handlers never
	// surface it raw, components translate it per their failure policy.
	ErrUpstream = errors.New("calendar upstream unavailable")
)

func Error(code, msg string) Response {
	return Response{
		ResponseError: ResponseError{
			Code:    code,
			Message: msg,
		},
	}
}
