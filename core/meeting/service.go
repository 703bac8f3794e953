package meeting

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/user"
)

var (
	// errors
	ErrNotFound = core.NewNotFoundError("meeting not found")
)

type (
	Repository interface {
		CreateMeeting(ctx context.Context, m Meeting, exec ...core.DBExecutor) (Meeting, error)
		// AddAttendees bulk inserts attendee links.
		AddAttendees(ctx context.Context, links []AttendeeLink, exec ...core.DBExecutor) error
		QueryMeetings(ctx context.Context, filter QueryFilter, page core.Page, exec ...core.DBExecutor) ([]Meeting, int, error)
		GetMeetingByID(ctx context.Context, id int, exec ...core.DBExecutor) (Meeting, error)
		// GetAttendees returns the attendees of each meeting, keyed by meeting ID.
		GetAttendees(ctx context.Context, meetingIDs []int, exec ...core.DBExecutor) (map[int][]Attendee, error)
		// GetBookings returns every attendee link of userIDs with the linked meeting's title & date.
		GetBookings(ctx context.Context, userIDs []int, exec ...core.DBExecutor) ([]Booking, error)
		UpdateMeetingStatus(ctx context.Context, id int, status Status, updatedAt time.Time, exec ...core.DBExecutor) error
	}

	// UserFinder resolves attendees.
	UserFinder interface {
		GetByIDs(ctx context.Context, ids ...int) ([]user.User, error)
	}

	Service interface {
		Create(ctx context.Context, creator user.User, nm NewMeeting) (Meeting, error)
		Query(ctx context.Context, filter QueryFilter, page core.Page) ([]Meeting, int, error)
		QueryForAttendee(ctx context.Context, userID int, filter QueryFilter, page core.Page) ([]Meeting, int, error)
		GetByID(ctx context.Context, id int) (Meeting, error)
		Cancel(ctx context.Context, id int) (Meeting, error)
		Finish(ctx context.Context, id int) (Meeting, error)
	}

	service struct {
		db      core.DB
		repo    Repository
		users   UserFinder
		mailSvc core.EmailService
	}
)

var _ Service = (*service)(nil)

func NewService(db core.DB, repo Repository, users UserFinder, mailSvc core.EmailService) Service {
	return &service{db: db, repo: repo, users: users, mailSvc: mailSvc}
}

// Create schedules a meeting unless one of its attendees is already booked in a meeting
// with the same title and date, in which case a *ConflictError lists every such booking.
func (svc *service) Create(ctx context.Context, creator user.User, nm NewMeeting) (Meeting, error) {
	attendees, err := svc.checkAttendees(ctx, nm.Users)
	if err != nil {
		return Meeting{}, err
	}

	var mtg Meeting
	err = core.WithTx(ctx, svc.db, func(exec core.DBExecutor) error {
		if len(nm.Users) > 0 {
			bookings, err := svc.repo.GetBookings(ctx, nm.Users, exec)
			if err != nil {
				return errors.Wrap(err, "getting bookings")
			}
			if conflicts := DetectConflicts(bookings, nm.Title, nm.MeetingDate); len(conflicts) > 0 {
				return newConflictError(conflicts)
			}
		}

		now := time.Now().UTC()
		mtg, err = svc.repo.CreateMeeting(ctx, Meeting{
			Title:       nm.Title,
			Description: null.NewString(nm.Description, nm.Description != ""),
			Link:        nm.Link,
			MeetingDate: normalizeDate(nm.MeetingDate),
			Status:      StatusPending,
			CreatedBy:   creator.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}, exec)
		if err != nil {
			return errors.Wrap(err, "creating meeting")
		}

		links := make([]AttendeeLink, 0, len(nm.Users))
		for _, id := range nm.Users {
			links = append(links, AttendeeLink{UserID: id, MeetingID: mtg.ID})
		}
		return errors.Wrap(svc.repo.AddAttendees(ctx, links, exec), "adding attendees")
	})
	if err != nil {
		return Meeting{}, err
	}

	mtg.Attendees = make([]Attendee, 0, len(attendees))
	for _, usr := range attendees {
		mtg.Attendees = append(mtg.Attendees, Attendee{MeetingID: mtg.ID, UserID: usr.ID, Name: usr.Name, Email: usr.Email})
	}
	svc.sendInvitations(mtg)
	return mtg, nil
}

// checkAttendees fails with a validation error when some ids are unknown or inactive users.
func (svc *service) checkAttendees(ctx context.Context, ids []int) ([]user.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	users, err := svc.users.GetByIDs(ctx, ids...)
	if err != nil {
		return nil, errors.Wrap(err, "finding attendees")
	}
	found := make(map[int]user.User, len(users))
	for _, usr := range users {
		found[usr.ID] = usr
	}

	var invalid []string
	for _, id := range ids {
		if usr, ok := found[id]; !ok || !usr.IsActive() {
			invalid = append(invalid, strconv.Itoa(id))
		}
	}
	if len(invalid) > 0 {
		return nil, core.NewValidationError(nil, core.FieldError{
			Field: "users",
			Error: "unknown or inactive users: " + strings.Join(invalid, ", "),
		})
	}
	return users, nil
}

func (svc *service) sendInvitations(mtg Meeting) {
	messages := make([]*core.EmailMessage, 0, len(mtg.Attendees))
	for _, a := range mtg.Attendees {
		messages = append(messages, &core.EmailMessage{
			To:           []mail.Address{{Name: a.Name, Address: a.Email}},
			Subject:      fmt.Sprintf("Meeting invitation: %s", mtg.Title),
			TemplateName: "meeting_invite",
			TemplateData: map[string]interface{}{
				"Name":  a.Name,
				"Title": mtg.Title,
				"Date":  mtg.MeetingDate.UTC().Format("2006-01-02 15:04"),
				"Link":  mtg.Link,
			},
		})
	}
	if len(messages) > 0 {
		svc.mailSvc.SendMessages(messages...)
	}
}

func (svc *service) Query(ctx context.Context, filter QueryFilter, page core.Page) ([]Meeting, int, error) {
	page.Clean()
	mtgs, total, err := svc.repo.QueryMeetings(ctx, filter, page)
	if err != nil {
		return nil, 0, errors.Wrap(err, "querying meetings")
	}
	if err = svc.loadAttendees(ctx, mtgs); err != nil {
		return nil, 0, err
	}
	return mtgs, total, nil
}

func (svc *service) QueryForAttendee(ctx context.Context, userID int, filter QueryFilter, page core.Page) ([]Meeting, int, error) {
	filter.AttendeeID = userID
	return svc.Query(ctx, filter, page)
}

func (svc *service) loadAttendees(ctx context.Context, mtgs []Meeting, exec ...core.DBExecutor) error {
	if len(mtgs) == 0 {
		return nil
	}
	ids := make([]int, 0, len(mtgs))
	for _, m := range mtgs {
		ids = append(ids, m.ID)
	}
	attendees, err := svc.repo.GetAttendees(ctx, ids, exec...)
	if err != nil {
		return errors.Wrap(err, "getting attendees")
	}
	for i := range mtgs {
		mtgs[i].Attendees = attendees[mtgs[i].ID]
		if mtgs[i].Attendees == nil {
			mtgs[i].Attendees = []Attendee{}
		}
	}
	return nil
}

func (svc *service) GetByID(ctx context.Context, id int) (Meeting, error) {
	return svc.getByID(ctx, id)
}

func (svc *service) getByID(ctx context.Context, id int, exec ...core.DBExecutor) (Meeting, error) {
	mtg, err := svc.repo.GetMeetingByID(ctx, id, exec...)
	if err != nil {
		return Meeting{}, err
	}
	mtgs := []Meeting{mtg}
	if err = svc.loadAttendees(ctx, mtgs, exec...); err != nil {
		return Meeting{}, err
	}
	return mtgs[0], nil
}

func (svc *service) Cancel(ctx context.Context, id int) (Meeting, error) {
	return svc.transition(ctx, id, StatusCanceled)
}

func (svc *service) Finish(ctx context.Context, id int) (Meeting, error) {
	return svc.transition(ctx, id, StatusDone)
}

// transition moves a PENDING meeting to status. Meetings never leave DONE or CANCELED.
func (svc *service) transition(ctx context.Context, id int, status Status) (Meeting, error) {
	var mtg Meeting
	err := core.WithTx(ctx, svc.db, func(exec core.DBExecutor) error {
		var err error
		if mtg, err = svc.repo.GetMeetingByID(ctx, id, exec); err != nil {
			return err
		}
		if mtg.Status != StatusPending {
			return core.NewValidationError(nil, core.FieldError{
				Field: "status",
				Error: fmt.Sprintf("meeting is %s and can no longer change", mtg.Status),
			})
		}
		if err = svc.repo.UpdateMeetingStatus(ctx, id, status, time.Now().UTC(), exec); err != nil {
			return errors.Wrap(err, "updating meeting status")
		}
		mtg, err = svc.getByID(ctx, id, exec)
		return err
	})
	return mtg, err
}
