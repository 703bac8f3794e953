package meeting

import (
	"fmt"
	"time"
)

// ConflictMessage is the conflict description shown to the scheduler.
const ConflictMessage = "User '%s' está na reunião: '%s'."

// Conflict is one attendee already booked in an identical meeting.
type Conflict struct {
	UserID       int    `json:"userId"`
	MeetingID    int    `json:"meetingId"`
	ErrorMessage string `json:"errorMessage"`
}

// ConflictError is returned when scheduling a meeting would double-book attendees.
type ConflictError struct {
	Message string     `json:"message"`
	Details []Conflict `json:"details"`
}

func (err *ConflictError) Error() string {
	return err.Message
}

func newConflictError(conflicts []Conflict) *ConflictError {
	return &ConflictError{
		Message: "one or more attendees are already booked in this meeting",
		Details: conflicts,
	}
}

// DetectConflicts returns one Conflict per booking whose meeting has exactly the given title and date.
// Meetings with a different title or date, even by one character or one minute, never conflict.
func DetectConflicts(bookings []Booking, title string, date time.Time) []Conflict {
	date = normalizeDate(date)
	var conflicts []Conflict
	for _, b := range bookings {
		if b.MeetingTitle != title || !normalizeDate(b.MeetingDate).Equal(date) {
			continue
		}
		conflicts = append(conflicts, Conflict{
			UserID:       b.UserID,
			MeetingID:    b.MeetingID,
			ErrorMessage: fmt.Sprintf(ConflictMessage, b.UserName, b.MeetingTitle),
		})
	}
	return conflicts
}
