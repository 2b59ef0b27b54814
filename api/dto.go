package api

type AvailabilityRuleDTO struct {
	DayOfWeek int    `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type AvailabilityRequest struct {
	Availability []AvailabilityRuleDTO `json:"availability"`
}

type BookingRequest struct {
	WidgetID   string  `json:"widget_id"`
	GuestName  string  `json:"guest_name"`
	GuestEmail string  `json:"guest_email"`
	GuestNotes *string `json:"guest_notes,omitempty"`
	StartTime  string  `json:"start_time"`
}

type BookingResponse struct {
	ID         string  `json:"id"`
	GuestName  string  `json:"guest_name"`
	GuestEmail string  `json:"guest_email"`
	GuestNotes *string `json:"guest_notes,omitempty"`
	StartTime  string  `json:"start_time"`
	EndTime    string  `json:"end_time"`
	Status     string  `json:"status"`
}

type ProfileResponse struct {
	WidgetID string `json:"widget_id"`
	Timezone string `json:"timezone"`
	Email    string `json:"email"`
	Name     string `json:"name"`
}
