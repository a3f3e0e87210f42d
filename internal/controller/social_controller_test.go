package controller_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/trust-ethos/ethos-connect/internal/config"
	"github.com/trust-ethos/ethos-connect/internal/middleware"
	"github.com/trust-ethos/ethos-connect/internal/model"
	"github.com/trust-ethos/ethos-connect/internal/service"

	"gotest.tools/v3/assert"
)

func startSocial(t *testing.T, app *testApp, requestToken string) (string, *http.Cookie) {
	t.Helper()

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/auth/discord?request="+requestToken, nil)
	app.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusFound, recorder.Code)

	location, err := url.Parse(recorder.Header().Get("Location"))
	assert.NilError(t, err)
	assert.Equal(t, "discord.example.com", location.Host)

	state := location.Query().Get("state")
	assert.Assert(t, state != "")

	cookies := recorder.Result().Cookies()
	assert.Equal(t, 1, len(cookies))
	assert.Equal(t, config.CSRFCookieName, cookies[0].Name)
	assert.Equal(t, state, cookies[0].Value)

	return state, cookies[0]
}

func TestSocialCallbackRedirectsWithCode(t *testing.T) {
	app := setupTestApp(t, middleware.RateLimitMiddlewareConfig{})

	app.lookup.add(config.LookupDiscord, "discord-abc", model.Profile{
		ProfileID: 7,
		Score:     1200,
	})

	requestToken := app.begin(t, "")
	state, cookie := startSocial(t, app, requestToken)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/auth/discord/callback?code=abc&state="+url.QueryEscape(state), nil)
	req.AddCookie(cookie)
	app.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusFound, recorder.Code)

	location, err := url.Parse(recorder.Header().Get("Location"))
	assert.NilError(t, err)
	assert.Equal(t, "app.acme.com", location.Host)
	assert.Assert(t, location.Query().Get("code") != "")
	assert.Equal(t, "xyz", location.Query().Get("state"))
}

func TestSocialCallbackScoreTooLowRedirectsError(t *testing.T) {
	app := setupTestApp(t, middleware.RateLimitMiddlewareConfig{})

	app.lookup.add(config.LookupDiscord, "discord-abc", model.Profile{
		ProfileID: 7,
		Score:     999,
	})

	requestToken := app.begin(t, "1000")
	state, cookie := startSocial(t, app, requestToken)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/auth/discord/callback?code=abc&state="+url.QueryEscape(state), nil)
	req.AddCookie(cookie)
	app.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusFound, recorder.Code)

	location, err := url.Parse(recorder.Header().Get("Location"))
	assert.NilError(t, err)
	assert.Equal(t, "app.acme.com", location.Host)
	assert.Equal(t, service.ErrCodeScoreTooLow, location.Query().Get("error"))
	assert.Equal(t, "", location.Query().Get("code"))
}

func TestSocialCallbackRejectsStateMismatch(t *testing.T) {
	app := setupTestApp(t, middleware.RateLimitMiddlewareConfig{})

	requestToken := app.begin(t, "")
	state, cookie := startSocial(t, app, requestToken)

	type testCase struct {
		description string
		state       string
		cookie      *http.Cookie
	}

	tests := []testCase{
		{
			description: "Missing cookie",
			state:       state,
		},
		{
			description: "Cookie from another session",
			state:       state,
			cookie:      &http.Cookie{Name: config.CSRFCookieName, Value: "other"},
		},
		{
			description: "Missing state",
			cookie:      cookie,
		},
	}

	for _, test := range tests {
		t.Run(test.description, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/auth/discord/callback?code=abc&state="+url.QueryEscape(test.state), nil)
			if test.cookie != nil {
				req.AddCookie(test.cookie)
			}
			app.router.ServeHTTP(recorder, req)

			assert.Equal(t, http.StatusBadRequest, recorder.Code)

			var res map[string]string
			assert.NilError(t, json.Unmarshal(recorder.Body.Bytes(), &res))
			assert.Equal(t, service.ErrCodeInvalidState, res["error"])
		})
	}
}

func TestSocialStartUnknownProvider(t *testing.T) {
	app := setupTestApp(t, middleware.RateLimitMiddlewareConfig{})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/auth/myspace", nil)
	app.router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, 0, len(recorder.Result().Cookies()))
}
