package meeting

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/portal/core"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusDone     Status = "DONE"
	StatusCanceled Status = "CANCELED"
)

func (s Status) IsValid() bool {
	return s == StatusPending || s == StatusDone || s == StatusCanceled
}

type Meeting struct {
	ID          int         `db:"id" json:"id"`
	Title       string      `db:"title" json:"title"`
	Description null.String `db:"description" json:"description"`
	Link        string      `db:"link" json:"link"`
	MeetingDate time.Time   `db:"meeting_date" json:"meetingDate"` // UTC
	Status      Status      `db:"status" json:"status"`
	CreatedBy   int         `db:"created_by" json:"createdBy"`
	CreatedAt   time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updatedAt"`
	Attendees   []Attendee  `db:"-" json:"attendees"`
}

// HasAttendee reports whether userID is linked to the meeting.
func (m *Meeting) HasAttendee(userID int) bool {
	for _, a := range m.Attendees {
		if a.UserID == userID {
			return true
		}
	}
	return false
}

func (m *Meeting) AttendeeIDs() []int {
	ids := make([]int, 0, len(m.Attendees))
	for _, a := range m.Attendees {
		ids = append(ids, a.UserID)
	}
	return ids
}

type Attendee struct {
	MeetingID int    `db:"meeting_id" json:"-"`
	UserID    int    `db:"user_id" json:"userId"`
	Name      string `db:"name" json:"name"`
	Email     string `db:"email" json:"email"`
}

// AttendeeLink associates a user with a meeting.
type AttendeeLink struct {
	UserID    int `db:"user_id"`
	MeetingID int `db:"meeting_id"`
}

// Booking is an attendee link joined with the linked meeting and the attendee's name.
type Booking struct {
	UserID       int       `db:"user_id"`
	UserName     string    `db:"user_name"`
	MeetingID    int       `db:"meeting_id"`
	MeetingTitle string    `db:"meeting_title"`
	MeetingDate  time.Time `db:"meeting_date"`
}

// NewMeeting contains information needed to schedule a Meeting.
type NewMeeting struct {
	Title       string    `json:"title" validate:"notblank,max=255"`
	Description string    `json:"description"`
	Link        string    `json:"link" validate:"required,url,max=512"`
	MeetingDate time.Time `json:"meetingDate" validate:"required"`
	Users       []int     `json:"users" validate:"dive,gt=0"`
}

func (nm *NewMeeting) Validate(validate *validator.Validate) error {
	nm.Title = core.CleanString(nm.Title)
	nm.Description = core.CleanString(nm.Description)
	nm.Link = core.CleanString(nm.Link)
	nm.MeetingDate = normalizeDate(nm.MeetingDate)
	if err := validate.Struct(nm); err != nil {
		return err
	}
	nm.Users = core.UniqueIDs(nm.Users)
	return nil
}

type QueryFilter struct {
	Status     Status
	From       null.Time
	To         null.Time
	AttendeeID int // only meetings this user attends
}

// normalizeDate drops what the database cannot store so stored and proposed dates compare equal.
func normalizeDate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
