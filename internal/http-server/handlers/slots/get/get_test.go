package get

import (
	"booking-service/pkg/response"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGetter struct {
	slots []string
	err   error
}

func (s stubGetter) GetSlots(_ context.Context, _ string, _ string) ([]string, error) {
	return s.slots, s.err
}

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSlotsGet(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		getter     stubGetter
		wantStatus int
		wantSlots  []string
		wantCode   string
	}{
		{
			name:       "happy path",
			url:        "/api/slots?widget_id=w1&date=2025-06-02",
			getter:     stubGetter{slots: []string{"09:00", "09:30"}},
			wantStatus: http.StatusOK,
			wantSlots:  []string{"09:00", "09:30"},
		},
		{
			name:       "empty day",
			url:        "/api/slots?widget_id=w1&date=2025-06-02",
			getter:     stubGetter{slots: []string{}},
			wantStatus: http.StatusOK,
			wantSlots:  []string{},
		},
		{
			name:       "missing widget_id",
			url:        "/api/slots?date=2025-06-02",
			getter:     stubGetter{},
			wantStatus: http.StatusBadRequest,
			wantCode:   string(response.BAD_REQUEST),
		},
		{
			name:       "missing date",
			url:        "/api/slots?widget_id=w1",
			getter:     stubGetter{},
			wantStatus: http.StatusBadRequest,
			wantCode:   string(response.BAD_REQUEST),
		},
		{
			name:       "unknown widget",
			url:        "/api/slots?widget_id=ghost&date=2025-06-02",
			getter:     stubGetter{err: response.ErrNotFound},
			wantStatus: http.StatusNotFound,
			wantCode:   string(response.NOT_FOUND),
		},
		{
			name:       "invalid date",
			url:        "/api/slots?widget_id=w1&date=junk",
			getter:     stubGetter{err: response.ErrBadRequest},
			wantStatus: http.StatusBadRequest,
			wantCode:   string(response.BAD_REQUEST),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := New(discardLog(), tt.getter)

			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			rec := httptest.NewRecorder()

			handler(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)

			var resp Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, resp.Code)
			} else {
				assert.Equal(t, tt.wantSlots, resp.Slots)
			}
		})
	}
}
