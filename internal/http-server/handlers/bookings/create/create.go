package create

import (
	"booking-service/api"
	"booking-service/pkg/response"
	"booking-service/pkg/sl"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type BookingCreator interface {
	CreateBooking(ctx context.Context, req *api.BookingRequest) (*api.BookingResponse, error)
}

type Request struct {
	api.BookingRequest
}

type Response struct {
	response.Response
	Booking api.BookingResponse `json:"booking,omitempty"`
}

func New(log *slog.Logger, creator BookingCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.bookings.create.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("Failed to decode request body", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "failed to decode request"))
			return
		}

		if req.WidgetID == "" {
			log.Error("widget_id is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "widget_id is required"))
			return
		}

		if req.GuestName == "" {
			log.Error("guest_name is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "guest_name is required"))
			return
		}

		if req.GuestEmail == "" || !strings.Contains(req.GuestEmail, "@") {
			log.Error("guest_email is invalid")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "guest_email is invalid"))
			return
		}

		if req.StartTime == "" {
			log.Error("start_time is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "start_time is required"))
			return
		}

		booking, err := creator.CreateBooking(r.Context(), &req.BookingRequest)

		if errors.Is(err, response.ErrNotFound) {
			log.Error("widget not found")
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "widget not found"))
			return
		}

		if errors.Is(err, response.ErrBadRequest) {
			log.Error("invalid booking request", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "invalid booking request"))
			return
		}

		if errors.Is(err, response.ErrLocked) {
			log.Error("slot is locked by another attempt")
			w.WriteHeader(http.StatusLocked)
			render.JSON(w, r, response.Error(string(response.LOCKED), "slot is being booked, try again"))
			return
		}

		if code, ok := rejectionCode(err); ok {
			log.Info("Booking rejected", slog.String("code", string(code)))
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error(string(code), rejectionMessage(code)))
			return
		}

		if err != nil {
			log.Error("Failed to create booking", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to create booking"))
			return
		}

		log.Info("Booking created", slog.String("booking_id", booking.ID))

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, Response{Booking: *booking})
	}
}

// rejectionCode maps validation rejections and the lost exclusivity race to
// client-visible reason codes, so the widget can prompt slot reselection
// instead of a hard error.
func rejectionCode(err error) (response.ErrCode, bool) {
	switch {
	case errors.Is(err, response.ErrNotAvailable):
		return response.NOT_AVAILABLE, true
	case errors.Is(err, response.ErrOutsideHours):
		return response.OUTSIDE_HOURS, true
	case errors.Is(err, response.ErrBookingConflict):
		return response.BOOKING_CONFLICT, true
	case errors.Is(err, response.ErrCalendarConflict):
		return response.CALENDAR_CONFLICT, true
	case errors.Is(err, response.ErrSlotTaken):
		return response.SLOT_NOT_AVAILABLE, true
	default:
		return "", false
	}
}

func rejectionMessage(code response.ErrCode) string {
	switch code {
	case response.NOT_AVAILABLE:
		return "no availability on this day"
	case response.OUTSIDE_HOURS:
		return "slot is outside available hours"
	case response.CALENDAR_CONFLICT:
		return "slot conflicts with a calendar event"
	default:
		return "this time slot is no longer available"
	}
}
