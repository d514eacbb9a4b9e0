package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"licensehub/internal/auth"
	"licensehub/internal/licensing"
	"licensehub/internal/mailer"
	"licensehub/internal/metrics"
	"licensehub/internal/session"
	"licensehub/internal/store/storetest"
	"licensehub/internal/token"
)

type RouterSuite struct {
	suite.Suite
	mail *mailer.Recorder
	ctrl *session.Controller
	h    http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	lg := zap.NewNop().Sugar()
	st := storetest.New(s.T())
	m := metrics.New()
	s.mail = &mailer.Recorder{}
	tokens := token.NewService(st, auth.NewSigner("access-secret"), auth.NewSigner("refresh-secret"), token.Config{}, lg, m)
	binder := licensing.NewBinder(st, s.mail, licensing.Options{}, lg, m)
	s.ctrl = session.New(st, tokens, binder, s.mail, session.Options{BaseURL: "http://test"}, lg, m)
	s.h = NewRouter(Deps{Store: st, Session: s.ctrl, Tokens: tokens, Binder: binder, Metrics: m, Logger: lg})
}

type reply struct {
	Code int
	Body map[string]interface{}
	Raw  string
}

func (r reply) errorCode() string {
	e, _ := r.Body["error"].(map[string]interface{})
	code, _ := e["error_code"].(string)
	return code
}

func (s *RouterSuite) do(method, path string, body interface{}, headers map[string]string) reply {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)

	out := reply{Code: rec.Code, Raw: rec.Body.String()}
	_ = json.Unmarshal(rec.Body.Bytes(), &out.Body)
	return out
}

func bearer(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

var confirmLink = regexp.MustCompile(`confirm-email\?token=([0-9a-f-]{36})`)

// signup registers, confirms and logs in, returning the login body.
func (s *RouterSuite) signup(email string) map[string]interface{} {
	res := s.do(http.MethodPost, "/v1/auth/register", map[string]string{
		"first_name": "Alice", "last_name": "Doe", "email": email, "password": "Passw0rd",
	}, nil)
	s.Require().Equal(http.StatusCreated, res.Code, res.Raw)

	msgs := s.mail.Messages()
	m := confirmLink.FindStringSubmatch(msgs[len(msgs)-1].HTML)
	s.Require().Len(m, 2)
	res = s.do(http.MethodGet, "/v1/auth/confirm-email?token="+m[1], nil, nil)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)

	res = s.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": email, "password": "Passw0rd"}, nil)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)
	return res.Body
}

func accessToken(login map[string]interface{}) string {
	return login["token"].(map[string]interface{})["access_token"].(string)
}

func refreshToken(login map[string]interface{}) string {
	return login["token"].(map[string]interface{})["refresh_token"].(string)
}

func (s *RouterSuite) TestProbes() {
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/healthz", nil, nil).Code)
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/readyz", nil, nil).Code)

	res := s.do(http.MethodGet, "/metrics", nil, nil)
	s.Equal(http.StatusOK, res.Code)
	s.Contains(res.Raw, "go_goroutines")
}

func (s *RouterSuite) TestLoginFlow() {
	res := s.do(http.MethodPost, "/v1/auth/register", map[string]string{
		"first_name": "Alice", "last_name": "Doe", "email": "alice@x.com", "password": "Passw0rd",
	}, nil)
	s.Require().Equal(http.StatusCreated, res.Code, res.Raw)

	res = s.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "alice@x.com", "password": "Passw0rd"}, nil)
	s.Equal(http.StatusForbidden, res.Code)
	s.Equal("EMAIL_NOT_CONFIRMED", res.errorCode())
	s.Equal(false, res.Body["success"])

	login := s.signup("bob@x.com")
	s.Equal(session.RedirectLicense, login["redirect_to"])
	client := login["client"].(map[string]interface{})
	s.NotEmpty(client["client_id"])

	res = s.do(http.MethodGet, "/v1/me", nil, bearer(accessToken(login)))
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)
	s.Equal("bob@x.com", res.Body["email"])
	s.NotContains(res.Raw, "password")

	res = s.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "bob@x.com", "password": "nope"}, nil)
	s.Equal(http.StatusUnauthorized, res.Code)
	s.Equal("INVALID_CREDENTIALS", res.errorCode())
}

func (s *RouterSuite) TestAuthenticationRequired() {
	res := s.do(http.MethodGet, "/v1/me", nil, nil)
	s.Equal(http.StatusUnauthorized, res.Code)
	s.Equal("MISSING_CREDENTIALS", res.errorCode())

	res = s.do(http.MethodGet, "/v1/me", nil, bearer("garbage"))
	s.Equal(http.StatusUnauthorized, res.Code)
	s.Equal("INVALID_TOKEN", res.errorCode())
}

func (s *RouterSuite) TestValidationErrors() {
	res := s.do(http.MethodPost, "/v1/auth/register", map[string]string{"email": "bad"}, nil)
	s.Equal(http.StatusBadRequest, res.Code)
	s.Equal("VALIDATION_FAILED", res.errorCode())
	s.Contains(res.Raw, "first_name is required")
}

func (s *RouterSuite) TestRefreshAndLogout() {
	login := s.signup("alice@x.com")

	res := s.do(http.MethodPost, "/v1/auth/refresh", map[string]string{"refresh_token": refreshToken(login)}, nil)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)
	rotated := res.Body

	res = s.do(http.MethodPost, "/v1/auth/refresh", map[string]string{"refresh_token": refreshToken(login)}, nil)
	s.Equal(http.StatusUnauthorized, res.Code)
	s.Equal("INVALID_REFRESH_TOKEN", res.errorCode())

	res = s.do(http.MethodPost, "/v1/auth/logout", map[string]string{"refresh_token": refreshToken(rotated)}, bearer(accessToken(rotated)))
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)

	res = s.do(http.MethodGet, "/v1/me", nil, bearer(accessToken(rotated)))
	s.Equal(http.StatusUnauthorized, res.Code)
}

func (s *RouterSuite) TestLicenseAndDeviceLifecycle() {
	login := s.signup("alice@x.com")
	h := bearer(accessToken(login))

	res := s.do(http.MethodPost, "/v1/licenses/buy", map[string]string{"type": "premium"}, h)
	s.Require().Equal(http.StatusCreated, res.Code, res.Raw)
	key := res.Body["license"].(map[string]interface{})["license_key"].(string)

	res = s.do(http.MethodPost, "/v1/licenses/validate", map[string]string{"license_key": key, "device_id": "dev-1"}, h)
	s.Equal(http.StatusNotFound, res.Code)
	s.Equal("LICENSE_INACTIVE", res.errorCode())

	res = s.do(http.MethodPost, "/v1/licenses/activate", map[string]string{"license_key": key}, h)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)

	for _, dev := range []string{"dev-1", "dev-2", "dev-3"} {
		res = s.do(http.MethodPost, "/v1/devices/add", map[string]string{"license_key": key, "device_id": dev}, h)
		s.Require().Equal(http.StatusCreated, res.Code, res.Raw)
	}
	res = s.do(http.MethodPost, "/v1/devices/add", map[string]string{"license_key": key, "device_id": "dev-2"}, h)
	s.Equal(http.StatusOK, res.Code)

	res = s.do(http.MethodPost, "/v1/licenses/validate", map[string]string{"license_key": key, "device_id": "dev-4"}, h)
	s.Equal(http.StatusForbidden, res.Code)
	s.Equal("DEVICE_LIMIT_EXCEEDED", res.errorCode())

	res = s.do(http.MethodGet, "/v1/devices/"+url.PathEscape(key), nil, h)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)
	s.Len(res.Body["devices"], 3)

	res = s.do(http.MethodPost, "/v1/devices/remove", map[string]string{"license_key": key, "device_id": "dev-1"}, h)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)

	res = s.do(http.MethodPost, "/v1/licenses/validate", map[string]string{"license_key": key}, map[string]string{
		"Authorization": "Bearer " + accessToken(login), auth.HeaderDeviceID: "dev-4",
	})
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)
	s.Equal(true, res.Body["valid"])

	res = s.do(http.MethodGet, "/v1/licenses", nil, h)
	s.Require().Equal(http.StatusOK, res.Code)
	s.Len(res.Body["licenses"], 2, "free license plus the purchased one")
}

func (s *RouterSuite) TestActivateAndValidate() {
	login := s.signup("alice@x.com")
	h := bearer(accessToken(login))

	res := s.do(http.MethodPost, "/v1/licenses/buy", map[string]string{"type": "standard"}, h)
	s.Require().Equal(http.StatusCreated, res.Code, res.Raw)
	key := res.Body["license"].(map[string]interface{})["license_key"].(string)

	res = s.do(http.MethodPost, "/v1/licenses/activate-and-validate", map[string]string{"license_key": key, "device_id": "dev-1"}, h)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)
	result := res.Body["result"].(map[string]interface{})
	s.Equal(true, result["activated"])
	s.Equal(true, result["bound"])
}

func (s *RouterSuite) TestOwnershipIsEnforced() {
	alice := s.signup("alice@x.com")
	mallory := s.signup("mallory@x.com")

	res := s.do(http.MethodPost, "/v1/licenses/buy", map[string]string{"type": "standard"}, bearer(accessToken(alice)))
	s.Require().Equal(http.StatusCreated, res.Code, res.Raw)
	key := res.Body["license"].(map[string]interface{})["license_key"].(string)

	res = s.do(http.MethodPost, "/v1/licenses/activate", map[string]string{"license_key": key}, bearer(accessToken(mallory)))
	s.Equal(http.StatusForbidden, res.Code)
	s.Equal("FORBIDDEN", res.errorCode())

	res = s.do(http.MethodGet, "/v1/devices/"+key, nil, bearer(accessToken(mallory)))
	s.Equal(http.StatusForbidden, res.Code)
}

func (s *RouterSuite) TestHybridCredentials() {
	login := s.signup("alice@x.com")
	user := login["user"].(map[string]interface{})
	client := login["client"].(map[string]interface{})
	hybrid := map[string]string{
		auth.HeaderAPIKey:   client["client_secret"].(string),
		auth.HeaderUserKey:  user["id"].(string),
		auth.HeaderDeviceID: "desktop-app",
	}

	res := s.do(http.MethodGet, "/v1/licenses", nil, hybrid)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)
	free := res.Body["licenses"].([]interface{})[0].(map[string]interface{})

	res = s.do(http.MethodPost, "/v1/devices/add", map[string]string{"license_key": free["license_key"].(string)}, hybrid)
	s.Require().Equal(http.StatusCreated, res.Code, res.Raw)
	device := res.Body["device"].(map[string]interface{})
	s.Equal("desktop-app", device["device_id"])

	hybrid[auth.HeaderAPIKey] = "wrong"
	res = s.do(http.MethodGet, "/v1/licenses", nil, hybrid)
	s.Equal(http.StatusUnauthorized, res.Code)
	s.Equal("INVALID_CLIENT", res.errorCode())
}

func (s *RouterSuite) TestAdminRoutes() {
	user := s.signup("alice@x.com")
	res := s.do(http.MethodGet, "/v1/admin/users", nil, bearer(accessToken(user)))
	s.Equal(http.StatusForbidden, res.Code)

	_, err := s.ctrl.SeedAdmin(context.Background(), "admin@x.com", "Adm1nPassword")
	s.Require().NoError(err)
	res = s.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "admin@x.com", "password": "Adm1nPassword"}, nil)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)
	admin := bearer(accessToken(res.Body))

	res = s.do(http.MethodGet, "/v1/admin/users", nil, admin)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)
	s.Len(res.Body["users"], 2)

	aliceID := user["user"].(map[string]interface{})["id"].(string)
	res = s.do(http.MethodGet, "/v1/admin/users/"+aliceID+"/licenses", nil, admin)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)
	licenseID := res.Body["licenses"].([]interface{})[0].(map[string]interface{})["id"].(string)

	res = s.do(http.MethodDelete, "/v1/admin/licenses/"+licenseID, nil, admin)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)
	res = s.do(http.MethodDelete, "/v1/admin/licenses/"+licenseID, nil, admin)
	s.Equal(http.StatusNotFound, res.Code)

	res = s.do(http.MethodDelete, "/v1/admin/users/"+aliceID, nil, admin)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)
	res = s.do(http.MethodGet, "/v1/admin/users/"+aliceID, nil, admin)
	s.Equal(http.StatusNotFound, res.Code)
	s.Equal("USER_NOT_FOUND", res.errorCode())
}

func (s *RouterSuite) TestAdminCreateAndUpdateUser() {
	s.signup("bob@x.com")
	_, err := s.ctrl.SeedAdmin(context.Background(), "admin@x.com", "Adm1nPassword")
	s.Require().NoError(err)
	res := s.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "admin@x.com", "password": "Adm1nPassword"}, nil)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)
	admin := bearer(accessToken(res.Body))

	res = s.do(http.MethodPost, "/v1/admin/users", map[string]interface{}{
		"first_name": "Carol", "last_name": "Roe", "email": "carol@x.com", "password": "Passw0rd",
	}, admin)
	s.Require().Equal(http.StatusCreated, res.Code, res.Raw)
	carolID := res.Body["user"].(map[string]interface{})["id"].(string)

	res = s.do(http.MethodPatch, "/v1/admin/users/"+carolID, map[string]interface{}{
		"last_name": "Smith", "email": "Caroline@X.com", "password": "N3wPassword", "is_admin": true,
	}, admin)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)
	updated := res.Body["user"].(map[string]interface{})
	s.Equal("Smith", updated["last_name"])
	s.Equal("caroline@x.com", updated["email"])
	s.Equal(true, updated["is_admin"])
	s.NotContains(res.Raw, "password")

	res = s.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "caroline@x.com", "password": "N3wPassword"}, nil)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)
	res = s.do(http.MethodGet, "/v1/admin/users", nil, bearer(accessToken(res.Body)))
	s.Equal(http.StatusOK, res.Code)

	res = s.do(http.MethodPatch, "/v1/admin/users/"+carolID, map[string]string{"email": "bob@x.com"}, admin)
	s.Equal(http.StatusConflict, res.Code)
	s.Equal("EMAIL_TAKEN", res.errorCode())

	res = s.do(http.MethodPatch, "/v1/admin/users/"+carolID, map[string]string{"password": "lowercase1"}, admin)
	s.Equal(http.StatusBadRequest, res.Code)

	res = s.do(http.MethodPatch, "/v1/admin/users/no-such-user", map[string]bool{"is_admin": false}, admin)
	s.Equal(http.StatusNotFound, res.Code)
}

func (s *RouterSuite) TestOAuthTokenEndpoint() {
	login := s.signup("alice@x.com")
	client := login["client"].(map[string]interface{})

	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {client["client_id"].(string)},
		"client_secret": {client["client_secret"].(string)},
		"username":      {"alice@x.com"},
		"password":      {"Passw0rd"},
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]interface{}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("Bearer", body["token_type"])
	s.NotEmpty(body["refresh_token"])

	res := s.do(http.MethodPost, "/v1/oauth/token", map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     client["client_id"].(string),
		"client_secret": client["client_secret"].(string),
		"refresh_token": body["refresh_token"].(string),
	}, nil)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)

	res = s.do(http.MethodPost, "/v1/oauth/token", map[string]string{"grant_type": "client_credentials"}, nil)
	s.Equal(http.StatusUnauthorized, res.Code)
	s.Equal("UNSUPPORTED_GRANT", res.errorCode())
}

func (s *RouterSuite) TestPasswordReset() {
	s.signup("alice@x.com")

	res := s.do(http.MethodPost, "/v1/auth/password/forgot", map[string]string{"email": "alice@x.com"}, nil)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)
	msgs := s.mail.Messages()
	m := regexp.MustCompile(`reset-password\?token=([0-9a-f-]{36})`).FindStringSubmatch(msgs[len(msgs)-1].HTML)
	s.Require().Len(m, 2)

	res = s.do(http.MethodPost, "/v1/auth/password/reset", map[string]string{"token": m[1], "new_password": "N3wPassword"}, nil)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)

	res = s.do(http.MethodPost, "/v1/auth/login", map[string]string{"email": "alice@x.com", "password": "N3wPassword"}, nil)
	s.Equal(http.StatusOK, res.Code)
}

func (s *RouterSuite) TestUpdateProfileAndLogs() {
	login := s.signup("alice@x.com")
	h := bearer(accessToken(login))

	res := s.do(http.MethodPatch, "/v1/me", map[string]string{"first_name": "Alicia"}, h)
	s.Require().Equal(http.StatusOK, res.Code, res.Raw)
	s.Equal("Alicia", res.Body["first_name"])

	req := httptest.NewRequest(http.MethodGet, "/v1/logs", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken(login))
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	s.Require().Equal(http.StatusOK, rec.Code)
	var logs []map[string]interface{}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &logs))
	s.NotEmpty(logs)
}
