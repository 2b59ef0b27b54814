package get

import (
	"booking-service/api"
	"booking-service/internal/http-server/mw"
	"booking-service/pkg/response"
	"booking-service/pkg/sl"
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type AvailabilityLister interface {
	ListAvailability(ctx context.Context, userID string) ([]api.AvailabilityRuleDTO, error)
}

type Response struct {
	response.Response
	Availability []api.AvailabilityRuleDTO `json:"availability"`
}

func New(log *slog.Logger, lister AvailabilityLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.availability.get.New"

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

		rules, err := lister.ListAvailability(r.Context(), userID)
		if err != nil {
			log.Error("Failed to list availability", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to list availability"))
			return
		}

		render.JSON(w, r, Response{Availability: rules})
	}
}
