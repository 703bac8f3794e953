package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/meeting"
)

const meetingColumns = `m.id, m.title, m.description, m.link, m.meeting_date, m.status, m.created_by, m.created_at, m.updated_at`

type meetingRepository struct {
	repository
}

var _ meeting.Repository = (*meetingRepository)(nil)

func NewMeetingRepository(db *sqlx.DB) meeting.Repository {
	return &meetingRepository{repository{db: db}}
}

func (repo meetingRepository) CreateMeeting(ctx context.Context, m meeting.Meeting, exec ...core.DBExecutor) (meeting.Meeting, error) {
	ex := repo.getExec(exec)
	id, err := insertReturningID(ctx, ex, `
		INSERT INTO meetings (title, description, link, meeting_date, status, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Title, m.Description, m.Link, m.MeetingDate.UTC(), m.Status, m.CreatedBy, m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	)
	if err != nil {
		return meeting.Meeting{}, errors.Wrap(err, "inserting meeting")
	}
	return repo.GetMeetingByID(ctx, id, ex)
}

func (repo meetingRepository) AddAttendees(ctx context.Context, links []meeting.AttendeeLink, exec ...core.DBExecutor) error {
	if len(links) == 0 {
		return nil
	}
	ex := repo.getExec(exec)
	_, err := sqlx.NamedExecContext(ctx, ex, `INSERT INTO meeting_attendees (meeting_id, user_id) VALUES (:meeting_id, :user_id)`, links)
	return errors.Wrap(err, "inserting attendee links")
}

func (repo meetingRepository) QueryMeetings(
	ctx context.Context,
	filter meeting.QueryFilter,
	page core.Page,
	exec ...core.DBExecutor,
) ([]meeting.Meeting, int, error) {
	ex := repo.getExec(exec)

	var conds []string
	var args []interface{}
	if filter.Status != "" {
		conds = append(conds, "m.status = ?")
		args = append(args, filter.Status)
	}
	if filter.From.Valid {
		conds = append(conds, "m.meeting_date >= ?")
		args = append(args, filter.From.Time.UTC())
	}
	if filter.To.Valid {
		conds = append(conds, "m.meeting_date <= ?")
		args = append(args, filter.To.Time.UTC())
	}
	if filter.AttendeeID > 0 {
		conds = append(conds, "EXISTS (SELECT 1 FROM meeting_attendees a WHERE a.meeting_id = m.id AND a.user_id = ?)")
		args = append(args, filter.AttendeeID)
	}

	total, err := count(ctx, ex, "SELECT COUNT(*) FROM meetings m"+where(conds), args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "counting meetings")
	}

	mtgs := make([]meeting.Meeting, 0, page.Limit())
	q := "SELECT " + meetingColumns + " FROM meetings m" + where(conds) + " ORDER BY m.meeting_date DESC, m.id DESC LIMIT ? OFFSET ?"
	if err = sqlx.SelectContext(ctx, ex, &mtgs, ex.Rebind(q), append(args, page.Limit(), page.Offset())...); err != nil {
		return nil, 0, errors.Wrap(err, "selecting meetings")
	}
	return mtgs, total, nil
}

func (repo meetingRepository) GetMeetingByID(ctx context.Context, id int, exec ...core.DBExecutor) (meeting.Meeting, error) {
	var m meeting.Meeting
	err := getOne(ctx, repo.getExec(exec), &m, meeting.ErrNotFound, "SELECT "+meetingColumns+" FROM meetings m WHERE m.id = ?", id)
	return m, err
}

func (repo meetingRepository) GetAttendees(ctx context.Context, meetingIDs []int, exec ...core.DBExecutor) (map[int][]meeting.Attendee, error) {
	res := make(map[int][]meeting.Attendee, len(meetingIDs))
	if len(meetingIDs) == 0 {
		return res, nil
	}
	ex := repo.getExec(exec)
	q, args, err := in(ex, `
		SELECT a.meeting_id, a.user_id, u.name, u.email
		FROM meeting_attendees a
		JOIN users u ON u.id = a.user_id
		WHERE a.meeting_id IN (?)
		ORDER BY a.meeting_id, u.name, a.user_id`, meetingIDs)
	if err != nil {
		return nil, err
	}

	var attendees []meeting.Attendee
	if err = sqlx.SelectContext(ctx, ex, &attendees, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting attendees")
	}
	for _, a := range attendees {
		res[a.MeetingID] = append(res[a.MeetingID], a)
	}
	return res, nil
}

func (repo meetingRepository) GetBookings(ctx context.Context, userIDs []int, exec ...core.DBExecutor) ([]meeting.Booking, error) {
	bookings := make([]meeting.Booking, 0)
	if len(userIDs) == 0 {
		return bookings, nil
	}
	ex := repo.getExec(exec)
	q, args, err := in(ex, `
		SELECT a.user_id, u.name AS user_name, a.meeting_id, m.title AS meeting_title, m.meeting_date
		FROM meeting_attendees a
		JOIN users u ON u.id = a.user_id
		JOIN meetings m ON m.id = a.meeting_id
		WHERE a.user_id IN (?)
		ORDER BY a.user_id, a.meeting_id`, userIDs)
	if err != nil {
		return nil, err
	}
	if err = sqlx.SelectContext(ctx, ex, &bookings, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting bookings")
	}
	return bookings, nil
}

func (repo meetingRepository) UpdateMeetingStatus(ctx context.Context, id int, status meeting.Status, updatedAt time.Time, exec ...core.DBExecutor) error {
	ex := repo.getExec(exec)
	res, err := ex.ExecContext(ctx, ex.Rebind("UPDATE meetings SET status = ?, updated_at = ? WHERE id = ?"), status, updatedAt.UTC(), id)
	if err != nil {
		return errors.Wrap(err, "updating meeting status")
	}
	return affectedOne(res, meeting.ErrNotFound)
}
