package echoapi_test

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/portal/apps/api/echo"
	"github.com/trezcool/portal/core/user"
	testutil "github.com/trezcool/portal/tests"
)

func Test_authApi_login(t *testing.T) {
	app := setup(t)

	admin := app.createUser(t, "Admin", "admin@test.cd", user.RoleAdmin)
	expert := app.createUser(t, "Expert", "expert@test.cd", user.RoleExpert)
	app.createUser(t, "Gone", "gone@test.cd", user.RoleEmployee, false)

	body := func(email, pwd string) []byte {
		return marshalObj(t, echoapi.LoginRequest{Email: email, Password: pwd})
	}
	authFailed := marshalObj(t, httpErr{Error: "authentication failed"})

	tests := []httpTest{
		{name: "Empty body", body: []byte("{}"), wantCode: http.StatusBadRequest, wantData: marshalObj(t, map[string]string{
			"email":    "this field is required",
			"password": "this field is required",
		})},
		{name: "Unknown email", body: body("nobody@test.cd", testutil.Password), wantCode: http.StatusUnauthorized, wantData: authFailed},
		{name: "Wrong password", body: body("expert@test.cd", "Wr0ng-Passw0rd"), wantCode: http.StatusUnauthorized, wantData: authFailed},
		{name: "Inactive user", body: body("gone@test.cd", testutil.Password), wantCode: http.StatusUnauthorized, wantData: authFailed},
		{name: "Email is case insensitive", body: body(" ADMIN@test.cd ", testutil.Password), wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/auth", tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("Response", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/auth", body("expert@test.cd", testutil.Password))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp echoapi.LoginResponse
		unmarshal(t, rec, &resp)
		assert.Equal(t, expert.ID, resp.ID)
		assert.Equal(t, user.RoleExpert, resp.Profile)
		assert.Equal(t, "Expert", resp.Name)
		assert.Equal(t, "expert@test.cd", resp.Email)
		assert.False(t, resp.Photo.Valid)

		claims := new(echoapi.Claims)
		token, err := jwt.ParseWithClaims(resp.Token, claims, func(tk *jwt.Token) (interface{}, error) {
			return app.conf.JWT.PublicKey, nil
		})
		require.NoError(t, err)
		assert.Equal(t, jwt.SigningMethodRS256.Alg(), token.Method.Alg())
		assert.Equal(t, strconv.Itoa(expert.ID), claims.Subject)
		assert.Equal(t, "Expert", claims.Name)
		assert.Equal(t, "expert@test.cd", claims.Email)
		assert.Equal(t, user.RoleExpert, claims.Profile)
		assert.Equal(t, claims.IssuedAt, claims.OrigIssuedAt)

		usr, err := app.usrRepo.GetUserByID(context.Background(), expert.ID)
		require.NoError(t, err)
		assert.True(t, usr.LastLogin.Valid)
	})

	t.Run("Photo URL", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, app.storage.Upload(ctx, "photos/admin.png", "image/png", strings.NewReader("png")))
		admin.PhotoKey.SetValid("photos/admin.png")
		_, err := app.usrRepo.UpdateUser(ctx, admin)
		require.NoError(t, err)

		req, rec := newRequest(http.MethodPost, "/auth", body("admin@test.cd", testutil.Password))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp echoapi.LoginResponse
		unmarshal(t, rec, &resp)
		assert.True(t, resp.Photo.Valid)
		assert.True(t, strings.HasPrefix(resp.Photo.String, "http://files.test/photos%2Fadmin.png?expires="))
	})
}

func Test_authApi_loginThrottle(t *testing.T) {
	app := setup(t)
	app.createUser(t, "Expert", "expert@test.cd", user.RoleExpert)
	app.createUser(t, "Other", "other@test.cd", user.RoleExpert)

	login := func(email, pwd string) int {
		req, rec := newRequest(http.MethodPost, "/auth", marshalObj(t, echoapi.LoginRequest{Email: email, Password: pwd}))
		app.ServeHTTP(rec, req)
		return rec.Code
	}

	// a successful login resets the counter
	assert.Equal(t, http.StatusUnauthorized, login("expert@test.cd", "Wr0ng-Passw0rd"))
	assert.Equal(t, http.StatusCreated, login("expert@test.cd", testutil.Password))

	for i := 0; i < app.conf.Login.MaxAttempts; i++ {
		assert.Equal(t, http.StatusUnauthorized, login("expert@test.cd", "Wr0ng-Passw0rd"))
	}
	assert.Equal(t, http.StatusTooManyRequests, login("expert@test.cd", testutil.Password))
	assert.Equal(t, http.StatusCreated, login("other@test.cd", testutil.Password), "other emails are not locked")
}

func Test_authApi_refreshToken(t *testing.T) {
	app := setup(t)

	expert := app.createUser(t, "Expert", "expert@test.cd", user.RoleExpert)
	gone := app.createUser(t, "Gone", "gone@test.cd", user.RoleEmployee, false)

	oldIat := time.Now().Add(-app.conf.JWT.RefreshExpirationDelta - time.Hour).Unix()
	staleToken, err := echoapi.GenerateToken(echoapi.GetUserClaims(app.conf, expert, oldIat), app.conf.JWT.PrivateKey)
	require.NoError(t, err)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{name: "Invalid token", token: "not.a.token", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, httpErr{Error: "invalid or expired jwt"})},
		{name: "Inactive user", token: app.token(t, gone), wantCode: http.StatusUnauthorized, wantData: marshalObj(t, httpErr{Error: "account deactivated"})},
		{name: "Refresh expired", token: staleToken, wantCode: http.StatusForbidden, wantData: marshalObj(t, httpErr{Error: "refresh has expired"})},
		{name: "Refreshed", token: app.token(t, expert), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method = http.MethodPost
			tt.path = "/auth/token-refresh"
			checkCodeAndData(t, tt, app.do(tt))
		})
	}

	t.Run("Keeps original issue time", func(t *testing.T) {
		origIat := time.Now().Add(-time.Hour).Unix()
		token, err := echoapi.GenerateToken(echoapi.GetUserClaims(app.conf, expert, origIat), app.conf.JWT.PrivateKey)
		require.NoError(t, err)

		rec := app.do(httpTest{method: http.MethodPost, path: "/auth/token-refresh", token: token})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp echoapi.TokenResponse
		unmarshal(t, rec, &resp)

		claims := new(echoapi.Claims)
		_, err = jwt.ParseWithClaims(resp.Token, claims, func(tk *jwt.Token) (interface{}, error) {
			return app.conf.JWT.PublicKey, nil
		})
		require.NoError(t, err)
		assert.Equal(t, origIat, claims.OrigIssuedAt)
	})
}

func Test_authApi_passwordReset(t *testing.T) {
	app := setup(t)
	app.createUser(t, "Expert", "expert@test.cd", user.RoleExpert)

	t.Run("Unknown email is not disclosed", func(t *testing.T) {
		app.mail.Reset()
		rec := app.do(httpTest{method: http.MethodPost, path: "/auth/password-reset", body: marshalObj(t, echoapi.PasswordResetRequest{Email: "nobody@test.cd"})})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, app.mail.SentMessages())
	})

	t.Run("Reset link mailed", func(t *testing.T) {
		app.mail.Reset()
		rec := app.do(httpTest{method: http.MethodPost, path: "/auth/password-reset", body: marshalObj(t, echoapi.PasswordResetRequest{Email: "expert@test.cd"})})
		assert.Equal(t, http.StatusOK, rec.Code)

		msgs := app.mail.SentMessages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "expert@test.cd", msgs[0].To[0].Address)
	})

	t.Run("Invalid token", func(t *testing.T) {
		rec := app.do(httpTest{
			method: http.MethodPost,
			path:   "/auth/password-reset-confirm",
			body: marshalObj(t, user.ResetUserPassword{
				Token:           "bad-token",
				UID:             "bad-uid",
				Password:        testutil.Password,
				PasswordConfirm: testutil.Password,
			}),
		})
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: marshalObj(t, httpErr{Error: "invalid token"})}, rec)
	})
}
