package set

import (
	"booking-service/api"
	"booking-service/internal/http-server/mw"
	"booking-service/pkg/response"
	"booking-service/pkg/sl"
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type AvailabilitySaver interface {
	SaveAvailability(ctx context.Context, userID string, rules []api.AvailabilityRuleDTO) error
}

type Request struct {
	api.AvailabilityRequest
}

type Response struct {
	response.Response
	Saved int `json:"saved"`
}

func New(log *slog.Logger, saver AvailabilitySaver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.availability.set.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		userID, ok := mw.UserID(r.Context())
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			render.JSON(w, r, response.Error(string(response.UNAUTHORIZED), "unauthorized"))
			return
		}

		var req Request

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("Failed to decode request body", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "failed to decode request"))
			return
		}

		err := saver.SaveAvailability(r.Context(), userID, req.Availability)

		if errors.Is(err, response.ErrBadRequest) {
			log.Error("Invalid availability rules", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "invalid availability rules"))
			return
		}

		if err != nil {
			log.Error("Failed to save availability", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to save availability"))
			return
		}

		log.Info("Availability saved", slog.Int("rules", len(req.Availability)))

		render.JSON(w, r, Response{Saved: len(req.Availability)})
	}
}
