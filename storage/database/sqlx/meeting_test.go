package sqlxrepos_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/meeting"
	"github.com/trezcool/portal/core/user"
	"github.com/trezcool/portal/storage/database/sqlx"
	"github.com/trezcool/portal/tests"
)

func Test_meetingRepository(t *testing.T) {
	db := testutil.PrepareDB(t)
	usrRepo := sqlxrepos.NewUserRepository(db)
	repo := sqlxrepos.NewMeetingRepository(db)
	ctx := context.Background()

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin@test.cd", "001", "", user.RoleAdmin, true)
	alice := testutil.CreateUser(t, usrRepo, "Alice", "alice@test.cd", "002", "", user.RoleEmployee, true)
	bob := testutil.CreateUser(t, usrRepo, "Bob", "bob@test.cd", "003", "", user.RoleExpert, true)

	day := time.Date(2024, 5, 10, 14, 30, 15, 123456000, time.UTC)
	m1 := testutil.CreateMeeting(t, repo, admin, "One", day, alice, bob)
	m2 := testutil.CreateMeeting(t, repo, admin, "Two", day.Add(48*time.Hour), bob)

	t.Run("dates round trip", func(t *testing.T) {
		mtg, err := repo.GetMeetingByID(ctx, m1.ID)
		require.NoError(t, err)
		assert.True(t, mtg.MeetingDate.Equal(day), "got %v", mtg.MeetingDate)
	})

	t.Run("bookings", func(t *testing.T) {
		bookings, err := repo.GetBookings(ctx, []int{bob.ID})
		require.NoError(t, err)
		require.Len(t, bookings, 2)
		assert.Equal(t, meeting.Booking{UserID: bob.ID, UserName: "Bob", MeetingID: m1.ID, MeetingTitle: "One", MeetingDate: bookings[0].MeetingDate}, bookings[0])
		assert.True(t, bookings[0].MeetingDate.Equal(day))
		assert.Equal(t, m2.ID, bookings[1].MeetingID)

		bookings, err = repo.GetBookings(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, bookings)
	})

	t.Run("attendees", func(t *testing.T) {
		attendees, err := repo.GetAttendees(ctx, []int{m1.ID, m2.ID})
		require.NoError(t, err)
		assert.Len(t, attendees[m1.ID], 2)
		assert.Equal(t, "Alice", attendees[m1.ID][0].Name)
		assert.Len(t, attendees[m2.ID], 1)
	})

	t.Run("filters", func(t *testing.T) {
		mtgs, total, err := repo.QueryMeetings(ctx, meeting.QueryFilter{AttendeeID: alice.ID}, core.Page{Number: 1, PerPage: 20})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, m1.ID, mtgs[0].ID)

		mtgs, _, err = repo.QueryMeetings(ctx, meeting.QueryFilter{From: null.TimeFrom(day.Add(24 * time.Hour))}, core.Page{Number: 1, PerPage: 20})
		require.NoError(t, err)
		require.Len(t, mtgs, 1)
		assert.Equal(t, m2.ID, mtgs[0].ID)
	})

	t.Run("status", func(t *testing.T) {
		require.NoError(t, repo.UpdateMeetingStatus(ctx, m2.ID, meeting.StatusDone, time.Now()))
		mtgs, total, err := repo.QueryMeetings(ctx, meeting.QueryFilter{Status: meeting.StatusDone}, core.Page{Number: 1, PerPage: 20})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, m2.ID, mtgs[0].ID)

		err = repo.UpdateMeetingStatus(ctx, 9999, meeting.StatusDone, time.Now())
		assert.True(t, core.IsNotFound(err))
	})
}
