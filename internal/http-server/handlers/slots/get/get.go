package get

import (
	"booking-service/pkg/response"
	"booking-service/pkg/sl"
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type SlotsGetter interface {
	GetSlots(ctx context.Context, widgetToken, date string) ([]string, error)
}

type Response struct {
	response.Response
	Slots []string `json:"slots"`
}

func New(log *slog.Logger, getter SlotsGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.slots.get.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		widgetID := r.URL.Query().Get("widget_id")
		date := r.URL.Query().Get("date")

		if widgetID == "" || date == "" {
			log.Error("widget_id or date is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "widget_id and date are required"))
			return
		}

		slots, err := getter.GetSlots(r.Context(), widgetID, date)

		if errors.Is(err, response.ErrNotFound) {
			log.Error("widget not found")
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "widget not found"))
			return
		}

		if errors.Is(err, response.ErrBadRequest) {
			log.Error("invalid date", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "invalid date"))
			return
		}

		if err != nil {
			log.Error("Failed to get slots", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to get slots"))
			return
		}

		log.Info("Slots resolved", slog.Int("count", len(slots)))

		render.JSON(w, r, Response{Slots: slots})
	}
}
