package get

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

type ProfileGetter interface {
	GetProfile(ctx context.Context, userID string) (*api.ProfileResponse, error)
}

type Response struct {
	response.Response
	User *api.ProfileResponse `json:"user,omitempty"`
}

func New(log *slog.Logger, getter ProfileGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.users.get.New"

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

		profile, err := getter.GetProfile(r.Context(), userID)

		if errors.Is(err, response.ErrNotFound) {
			log.Error("user not found")
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "user not found"))
			return
		}

		if err != nil {
			log.Error("Failed to get profile", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to get profile"))
			return
		}

		render.JSON(w, r, Response{User: profile})
	}
}
