package echoapi_test

import (
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/portal/apps/api/echo"
	"github.com/trezcool/portal/core"
	"github.com/trezcool/portal/core/meeting"
	"github.com/trezcool/portal/core/user"
	testutil "github.com/trezcool/portal/tests"
)

func Test_meetingApi_create(t *testing.T) {
	app := setup(t)

	admin := app.createUser(t, "Admin", "admin@test.cd", user.RoleAdmin)
	ann := app.createUser(t, "Ann", "ann@test.cd", user.RoleEmployee)
	bob := app.createUser(t, "Bob", "bob@test.cd", user.RoleExpert)
	gone := app.createUser(t, "Gone", "gone@test.cd", user.RoleExpert, false)
	adminToken := app.token(t, admin)

	date := time.Date(2030, 5, 17, 14, 0, 0, 0, time.UTC)
	booked := testutil.CreateMeeting(t, app.mtgRepo, admin, "Weekly sync", date, ann)

	body := func(title string, date time.Time, users ...int) []byte {
		return marshalObj(t, meeting.NewMeeting{
			Title:       title,
			Description: "Agenda",
			Link:        "https://meet.test/sync",
			MeetingDate: date,
			Users:       users,
		})
	}

	tests := []httpTest{
		{name: "Auth required", body: body("Weekly sync", date), wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{
			name: "Admin required", body: body("Weekly sync", date), token: app.token(t, ann),
			wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Blank title", body: body("  ", date), token: adminToken,
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"title": "this field cannot be blank"}),
		},
		{
			name: "Unknown or inactive attendees", body: body("Weekly sync", date, bob.ID, gone.ID, 999), token: adminToken,
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{
				"users": fmt.Sprintf("unknown or inactive users: %d, 999", gone.ID),
			}),
		},
		{
			name: "Conflict", body: body("Weekly sync", date, bob.ID, ann.ID), token: adminToken,
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, meeting.ConflictError{
				Message: "one or more attendees are already booked in this meeting",
				Details: []meeting.Conflict{{
					UserID:       ann.ID,
					MeetingID:    booked.ID,
					ErrorMessage: "User 'Ann' está na reunião: 'Weekly sync'.",
				}},
			}),
		},
		{name: "Same title, other date", body: body("Weekly sync", date.Add(time.Minute), ann.ID), token: adminToken, wantCode: http.StatusCreated},
		{name: "Same date, other title", body: body("Weekly sync!", date, ann.ID), token: adminToken, wantCode: http.StatusCreated},
		{name: "No attendees", body: body("Weekly sync", date), token: adminToken, wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPost
			tt.path = "/meetings"
			checkCodeAndData(t, tt, app.do(tt))
		})
	}

	t.Run("Created with attendees", func(t *testing.T) {
		app.mail.Reset()
		rec := app.do(httpTest{method: http.MethodPost, path: "/meetings", token: adminToken, body: body("Kick-off", date, ann.ID, bob.ID)})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var mtg meeting.Meeting
		unmarshal(t, rec, &mtg)
		assert.Equal(t, "Kick-off", mtg.Title)
		assert.Equal(t, meeting.StatusPending, mtg.Status)
		assert.True(t, date.Equal(mtg.MeetingDate))
		assert.Equal(t, admin.ID, mtg.CreatedBy)
		assert.ElementsMatch(t, []int{ann.ID, bob.ID}, mtg.AttendeeIDs())
		assert.Len(t, app.mail.SentMessages(), 2)
	})
}

func Test_meetingApi_access(t *testing.T) {
	app := setup(t)

	admin := app.createUser(t, "Admin", "admin@test.cd", user.RoleAdmin)
	ann := app.createUser(t, "Ann", "ann@test.cd", user.RoleEmployee)
	bob := app.createUser(t, "Bob", "bob@test.cd", user.RoleExpert)

	early := time.Date(2030, 1, 10, 9, 0, 0, 0, time.UTC)
	late := time.Date(2030, 3, 10, 9, 0, 0, 0, time.UTC)
	m1 := testutil.CreateMeeting(t, app.mtgRepo, admin, "Planning", early, ann, bob)
	m2 := testutil.CreateMeeting(t, app.mtgRepo, admin, "Review", late, bob)

	from := url.Values{"from": {"2030-02-01T00:00:00Z"}}.Encode()

	tests := []struct {
		name    string
		path    string
		token   string
		wantIDs []int
	}{
		{name: "admin lists all", path: "/meetings", token: app.token(t, admin), wantIDs: []int{m2.ID, m1.ID}},
		{name: "admin filters by date", path: "/meetings?" + from, token: app.token(t, admin), wantIDs: []int{m2.ID}},
		{name: "ann's meetings", path: "/meetings/mine", token: app.token(t, ann), wantIDs: []int{m1.ID}},
		{name: "bob's meetings", path: "/meetings/mine", token: app.token(t, bob), wantIDs: []int{m2.ID, m1.ID}},
		{name: "bob's meetings from date", path: "/meetings/mine?" + from, token: app.token(t, bob), wantIDs: []int{m2.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(httpTest{path: tt.path, token: tt.token})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantIDs, decodePage(t, rec).ids())
		})
	}

	t.Run("page out of range", func(t *testing.T) {
		rec := app.do(httpTest{path: "/meetings?page=9223372036854775807", token: app.token(t, admin)})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		p := decodePage(t, rec)
		assert.Empty(t, p.ids())
		assert.Equal(t, 2, p.Total)
		assert.Equal(t, core.MaxPage, p.Page)
	})

	details := []httpTest{
		{name: "non admin cannot list all", path: "/meetings", token: app.token(t, ann), wantCode: http.StatusForbidden},
		{
			name: "invalid status filter", path: "/meetings?status=LATE", token: app.token(t, admin),
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"status": "invalid status"}),
		},
		{name: "attendee sees meeting", path: "/meetings/" + itoa(m1.ID), token: app.token(t, ann), wantCode: http.StatusOK},
		{
			name: "non attendee does not", path: "/meetings/" + itoa(m2.ID), token: app.token(t, ann),
			wantCode: http.StatusNotFound, wantData: marshalObj(t, httpErr{Error: "meeting not found"}),
		},
		{name: "admin sees any meeting", path: "/meetings/" + itoa(m2.ID), token: app.token(t, admin), wantCode: http.StatusOK},
		{name: "unknown meeting", path: "/meetings/999", token: app.token(t, admin), wantCode: http.StatusNotFound},
	}
	for _, tt := range details {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, app.do(tt))
		})
	}
}

func Test_meetingApi_transitions(t *testing.T) {
	app := setup(t)

	admin := app.createUser(t, "Admin", "admin@test.cd", user.RoleAdmin)
	ann := app.createUser(t, "Ann", "ann@test.cd", user.RoleEmployee)
	adminToken := app.token(t, admin)

	date := time.Date(2030, 1, 10, 9, 0, 0, 0, time.UTC)
	m1 := testutil.CreateMeeting(t, app.mtgRepo, admin, "Planning", date, ann)
	m2 := testutil.CreateMeeting(t, app.mtgRepo, admin, "Review", date, ann)

	success := marshalObj(t, echoapi.StatusResponse{Success: true})

	tests := []httpTest{
		{name: "admin required", path: "/meetings/" + itoa(m1.ID) + "/cancel", token: app.token(t, ann), wantCode: http.StatusForbidden},
		{name: "cancel", path: "/meetings/" + itoa(m1.ID) + "/cancel", token: adminToken, wantCode: http.StatusOK, wantData: success},
		{
			name: "canceled meetings are final", path: "/meetings/" + itoa(m1.ID) + "/finish", token: adminToken,
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"status": "meeting is CANCELED and can no longer change"}),
		},
		{name: "finish", path: "/meetings/" + itoa(m2.ID) + "/finish", token: adminToken, wantCode: http.StatusOK, wantData: success},
		{
			name: "done meetings are final", path: "/meetings/" + itoa(m2.ID) + "/cancel", token: adminToken,
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"status": "meeting is DONE and can no longer change"}),
		},
		{name: "unknown meeting", path: "/meetings/999/cancel", token: adminToken, wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPatch
			checkCodeAndData(t, tt, app.do(tt))
		})
	}
}
