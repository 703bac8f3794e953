package echoapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/portal/core/user"
	testutil "github.com/trezcool/portal/tests"
)

// page is the envelope of paginated listings, reduced to IDs.
type page struct {
	Data []struct {
		ID int `json:"id"`
	} `json:"data"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

func (p page) ids() []int {
	ids := make([]int, 0, len(p.Data))
	for _, d := range p.Data {
		ids = append(ids, d.ID)
	}
	return ids
}

func decodePage(t *testing.T, rec *httptest.ResponseRecorder) page {
	t.Helper()
	var p page
	unmarshal(t, rec, &p)
	return p
}

func Test_userApi_create(t *testing.T) {
	app := setup(t)

	admin := app.createUser(t, "Admin", "admin@test.cd", user.RoleAdmin)
	expert := app.createUser(t, "Expert", "expert@test.cd", user.RoleExpert)
	adminToken := app.token(t, admin)

	newUser := func(email, document string, profile user.Role) []byte {
		return marshalObj(t, user.NewUser{
			Name:            "Jane Doe",
			Email:           email,
			Document:        document,
			Profile:         profile,
			Password:        testutil.Password,
			PasswordConfirm: testutil.Password,
		})
	}

	tests := []httpTest{
		{name: "Auth required", body: newUser("jane@test.cd", "JD001", user.RoleEmployee), wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{
			name: "Admin required", body: newUser("jane@test.cd", "JD001", user.RoleEmployee), token: app.token(t, expert),
			wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Invalid profile", body: newUser("jane@test.cd", "JD001", "BOSS"), token: adminToken,
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"profile": "invalid profile"}),
		},
		{
			name: "Email taken", body: newUser(" EXPERT@test.cd", "JD001", user.RoleEmployee), token: adminToken,
			wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{"email": "a user with this email already exists"}),
		},
		{name: "Created", body: newUser("jane@test.cd", "JD-001", user.RoleEmployee), token: adminToken, wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPost
			tt.path = "/users"
			checkCodeAndData(t, tt, app.do(tt))
		})
	}

	usr, err := app.usrRepo.GetUserByEmail(context.Background(), "jane@test.cd")
	require.NoError(t, err)
	assert.Equal(t, "JD001", usr.Document)
	assert.Equal(t, user.RoleEmployee, usr.Profile)
	assert.Equal(t, user.StatusActive, usr.Status)
	assert.NoError(t, usr.CheckPassword(testutil.Password))
}

func Test_userApi_query(t *testing.T) {
	app := setup(t)

	admin := app.createUser(t, "Admin", "admin@test.cd", user.RoleAdmin)
	ann := app.createUser(t, "Ann", "ann@test.cd", user.RoleEmployee)
	bob := app.createUser(t, "Bob", "bob@test.cd", user.RoleExpert)
	cid := app.createUser(t, "Cid", "cid@test.cd", user.RoleEmployee, false)
	adminToken := app.token(t, admin)

	path := func(params ...string) string {
		v := make(url.Values)
		for i := 0; i+1 < len(params); i += 2 {
			v.Add(params[i], params[i+1])
		}
		return "/users?" + v.Encode()
	}

	tests := []struct {
		name      string
		path      string
		wantIDs   []int
		wantTotal int
	}{
		{name: "by name", path: path("ordering", "name"), wantIDs: []int{admin.ID, ann.ID, bob.ID, cid.ID}, wantTotal: 4},
		{name: "by -name", path: path("ordering", "-name"), wantIDs: []int{cid.ID, bob.ID, ann.ID, admin.ID}, wantTotal: 4},
		{name: "search", path: path("search", "B", "ordering", "name"), wantIDs: []int{bob.ID}, wantTotal: 1},
		{name: "profile", path: path("profile", "EMPLOYEE", "ordering", "name"), wantIDs: []int{ann.ID, cid.ID}, wantTotal: 2},
		{name: "status", path: path("status", "INACTIVE"), wantIDs: []int{cid.ID}, wantTotal: 1},
		{name: "page 2", path: path("ordering", "name", "page", "2", "per_page", "3"), wantIDs: []int{cid.ID}, wantTotal: 4},
		{name: "no match", path: path("search", "zzz"), wantIDs: []int{}, wantTotal: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(httpTest{path: tt.path, token: adminToken})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			p := decodePage(t, rec)
			assert.Equal(t, tt.wantIDs, p.ids())
			assert.Equal(t, tt.wantTotal, p.Total)
		})
	}

	t.Run("unknown ordering", func(t *testing.T) {
		tt := httpTest{
			path: path("ordering", "password_hash"), token: adminToken, wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"ordering": "unknown field: password_hash"}),
		}
		checkCodeAndData(t, tt, app.do(tt))
	})

	t.Run("admin required", func(t *testing.T) {
		rec := app.do(httpTest{path: "/users", token: app.token(t, bob)})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func Test_userApi_detail(t *testing.T) {
	app := setup(t)

	admin := app.createUser(t, "Admin", "admin@test.cd", user.RoleAdmin)
	ann := app.createUser(t, "Ann", "ann@test.cd", user.RoleEmployee)
	bob := app.createUser(t, "Bob", "bob@test.cd", user.RoleExpert)
	annToken := app.token(t, ann)

	tests := []httpTest{
		{name: "self", path: "/users/" + itoa(ann.ID), token: annToken, wantCode: http.StatusOK},
		{name: "other user is hidden", path: "/users/" + itoa(bob.ID), token: annToken, wantCode: http.StatusNotFound},
		{name: "admin sees anyone", path: "/users/" + itoa(bob.ID), token: app.token(t, admin), wantCode: http.StatusOK},
		{name: "unknown", path: "/users/999", token: app.token(t, admin), wantCode: http.StatusNotFound},
		{name: "malformed id", path: "/users/abc", token: app.token(t, admin), wantCode: http.StatusNotFound},
		{name: "update own name", method: http.MethodPut, path: "/users/" + itoa(ann.ID), token: annToken, body: []byte(`{"name": "Annie"}`), wantCode: http.StatusOK},
		{
			name: "profile change requires admin", method: http.MethodPut, path: "/users/" + itoa(ann.ID), token: annToken,
			body: []byte(`{"profile": "ADMIN"}`), wantCode: http.StatusForbidden,
		},
		{
			name: "admin changes profile", method: http.MethodPut, path: "/users/" + itoa(bob.ID), token: app.token(t, admin),
			body: []byte(`{"profile": "EMPLOYEE"}`), wantCode: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, app.do(tt))
		})
	}

	ctx := context.Background()
	usr, err := app.usrRepo.GetUserByID(ctx, ann.ID)
	require.NoError(t, err)
	assert.Equal(t, "Annie", usr.Name)
	assert.Equal(t, user.RoleEmployee, usr.Profile)

	usr, err = app.usrRepo.GetUserByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, user.RoleEmployee, usr.Profile)
}

func Test_userApi_status(t *testing.T) {
	app := setup(t)

	admin := app.createUser(t, "Admin", "admin@test.cd", user.RoleAdmin)
	ann := app.createUser(t, "Ann", "ann@test.cd", user.RoleEmployee)
	adminToken := app.token(t, admin)
	annToken := app.token(t, ann)

	tests := []httpTest{
		{name: "admin required", path: "/users/" + itoa(ann.ID) + "/deactivate", token: annToken, wantCode: http.StatusForbidden},
		{name: "cannot deactivate self", path: "/users/" + itoa(admin.ID) + "/deactivate", token: adminToken, wantCode: http.StatusForbidden},
		{name: "unknown user", path: "/users/999/deactivate", token: adminToken, wantCode: http.StatusNotFound},
		{name: "deactivate", path: "/users/" + itoa(ann.ID) + "/deactivate", token: adminToken, wantCode: http.StatusOK},
		{
			name: "deactivated users are locked out", path: "/users/" + itoa(ann.ID), token: annToken,
			wantCode: http.StatusUnauthorized, wantData: marshalObj(t, httpErr{Error: "account deactivated"}),
		},
		{name: "activate", path: "/users/" + itoa(ann.ID) + "/activate", token: adminToken, wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if strings.HasSuffix(tt.path, "activate") {
				tt.method = http.MethodPatch
			}
			checkCodeAndData(t, tt, app.do(tt))
		})
	}

	usr, err := app.usrRepo.GetUserByID(context.Background(), ann.ID)
	require.NoError(t, err)
	assert.True(t, usr.IsActive())
}

func Test_userApi_uploadPhoto(t *testing.T) {
	app := setup(t)

	ann := app.createUser(t, "Ann", "ann@test.cd", user.RoleEmployee)
	bob := app.createUser(t, "Bob", "bob@test.cd", user.RoleExpert)
	annToken := app.token(t, ann)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	t.Run("other user is hidden", func(t *testing.T) {
		req, rec := newUploadRequest(t, "/users/"+itoa(bob.ID)+"/photo", annToken, "me.png", png)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("not an image", func(t *testing.T) {
		req, rec := newUploadRequest(t, "/users/"+itoa(ann.ID)+"/photo", annToken, "me.png", []byte("plain text"))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"file": "unsupported file type"}),
		}, rec)
	})

	t.Run("uploaded", func(t *testing.T) {
		req, rec := newUploadRequest(t, "/users/"+itoa(ann.ID)+"/photo", annToken, "Me.PNG", png)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp user.User
		unmarshal(t, rec, &resp)
		assert.True(t, strings.HasPrefix(resp.Photo.String, "http://files.test/photos%2F"))

		usr, err := app.usrRepo.GetUserByID(context.Background(), ann.ID)
		require.NoError(t, err)
		require.True(t, usr.PhotoKey.Valid)
		assert.True(t, strings.HasSuffix(usr.PhotoKey.String, ".png"))

		file, ok := app.storage.Get(usr.PhotoKey.String)
		require.True(t, ok)
		assert.Equal(t, "image/png", file.ContentType)
		assert.Equal(t, png, file.Content)
	})
}

func Test_userApi_profiles(t *testing.T) {
	app := setup(t)
	ann := app.createUser(t, "Ann", "ann@test.cd", user.RoleEmployee)

	tt := httpTest{path: "/users/profiles", token: app.token(t, ann), wantCode: http.StatusOK, wantData: marshalObj(t, user.Profiles)}
	checkCodeAndData(t, tt, app.do(tt))
}
