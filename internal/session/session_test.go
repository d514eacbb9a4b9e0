package session

import (
	"context"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"licensehub/internal/apperr"
	"licensehub/internal/auth"
	"licensehub/internal/licensing"
	"licensehub/internal/mailer"
	"licensehub/internal/models"
	"licensehub/internal/store"
	"licensehub/internal/store/storetest"
	"licensehub/internal/token"
)

func TestCheckPassword(t *testing.T) {
	assert.NoError(t, CheckPassword("Passw0rd"))
	for _, pw := range []string{"", "Pa0", "password1", "PASSWORD1", "Password"} {
		assert.ErrorIs(t, CheckPassword(pw), apperr.ErrValidation, pw)
	}
}

type SessionSuite struct {
	suite.Suite
	ctx    context.Context
	st     *store.Store
	mail   *mailer.Recorder
	tokens *token.Service
	binder *licensing.Binder
	c      *Controller
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

func (s *SessionSuite) SetupTest() {
	s.ctx = context.Background()
	s.st = storetest.New(s.T())
	s.mail = &mailer.Recorder{}
	lg := zap.NewNop().Sugar()
	s.tokens = token.NewService(s.st, auth.NewSigner("access-secret"), auth.NewSigner("refresh-secret"), token.Config{}, lg, nil)
	s.binder = licensing.NewBinder(s.st, s.mail, licensing.Options{}, lg, nil)
	s.c = New(s.st, s.tokens, s.binder, s.mail, Options{BaseURL: "https://app.test/"}, lg, nil)
}

var linkToken = regexp.MustCompile(`token=([0-9a-f-]{36})`)

// tokenFromMail pulls the token query parameter out of the last email.
func (s *SessionSuite) tokenFromMail() string {
	msgs := s.mail.Messages()
	s.Require().NotEmpty(msgs)
	m := linkToken.FindStringSubmatch(msgs[len(msgs)-1].HTML)
	s.Require().Len(m, 2)
	tok, err := url.QueryUnescape(m[1])
	s.Require().NoError(err)
	return tok
}

func (s *SessionSuite) registerConfirmed(email string) *Account {
	acct, err := s.c.Register(s.ctx, RegisterInput{FirstName: "Alice", LastName: "Doe", Email: email, Password: "Passw0rd"})
	s.Require().NoError(err)
	_, err = s.c.ConfirmEmail(s.ctx, s.tokenFromMail())
	s.Require().NoError(err)
	return acct
}

func (s *SessionSuite) TestRegisterConfirmLoginResolve() {
	acct, err := s.c.Register(s.ctx, RegisterInput{FirstName: "Alice", LastName: "Doe", Email: "alice@x.com", Password: "Passw0rd"})
	s.Require().NoError(err)
	s.Equal("alice@x.com", acct.User.UserName)
	s.False(acct.User.EmailConfirmed)
	s.Equal(models.TypeFree, acct.License.Type)
	s.Equal(models.StatusActive, acct.License.Status)
	s.ElementsMatch([]string{models.GrantPassword, models.GrantRefreshToken}, []string(acct.Client.Grants))

	msgs := s.mail.Messages()
	s.Require().Len(msgs, 1)
	s.Contains(msgs[0].HTML, "https://app.test/v1/auth/confirm-email?token=")
	s.Contains(msgs[0].HTML, acct.License.LicenseKey)

	_, err = s.c.Login(s.ctx, "alice@x.com", "Passw0rd", "")
	s.ErrorIs(err, apperr.ErrEmailNotConfirmed)

	u, err := s.c.ConfirmEmail(s.ctx, s.tokenFromMail())
	s.Require().NoError(err)
	s.True(u.EmailConfirmed)

	res, err := s.c.Login(s.ctx, "alice@x.com", "Passw0rd", "")
	s.Require().NoError(err)
	s.Equal(RedirectLicense, res.RedirectTo)
	s.Equal(acct.Client.OAuthClientID, res.Tokens.ClientID)

	id, err := s.c.Authenticate(s.ctx, auth.BearerToken{Token: res.Tokens.AccessToken})
	s.Require().NoError(err)
	s.Equal(acct.User.ID, id.UserID())
}

func (s *SessionSuite) TestRegisterRejects() {
	s.registerConfirmed("alice@x.com")

	_, err := s.c.Register(s.ctx, RegisterInput{FirstName: "A", LastName: "B", Email: "ALICE@x.com", Password: "Passw0rd"})
	s.ErrorIs(err, apperr.ErrEmailTaken)

	cases := []RegisterInput{
		{LastName: "B", Email: "b@x.com", Password: "Passw0rd"},
		{FirstName: "A", Email: "b@x.com", Password: "Passw0rd"},
		{FirstName: "A", LastName: "B", Email: "not-an-email", Password: "Passw0rd"},
		{FirstName: "A", LastName: "B", Email: "b@x.com", Password: "weak"},
	}
	for _, in := range cases {
		_, err := s.c.Register(s.ctx, in)
		s.ErrorIs(err, apperr.ErrValidation, in)
	}
}

func (s *SessionSuite) TestConfirmUnknownToken() {
	_, err := s.c.ConfirmEmail(s.ctx, "nope")
	s.ErrorIs(err, apperr.ErrTokenNotFound)
	_, err = s.c.ConfirmEmail(s.ctx, "")
	s.ErrorIs(err, apperr.ErrValidation)
}

func (s *SessionSuite) TestLoginErrors() {
	s.registerConfirmed("alice@x.com")

	_, err := s.c.Login(s.ctx, "nobody@x.com", "Passw0rd", "")
	s.ErrorIs(err, apperr.ErrUserNotFound)

	_, err = s.c.Login(s.ctx, "alice@x.com", "wrong", "")
	s.ErrorIs(err, apperr.ErrInvalidCredentials)

	_, err = s.c.Login(s.ctx, "", "", "")
	s.ErrorIs(err, apperr.ErrValidation)
}

func (s *SessionSuite) TestLoginWithoutClient() {
	u := &models.User{Email: "orphan@x.com", UserName: "orphan", Password: "Passw0rd", EmailConfirmed: true}
	s.Require().NoError(s.st.CreateUser(s.ctx, u))

	_, err := s.c.Login(s.ctx, "orphan@x.com", "Passw0rd", "")
	s.ErrorIs(err, apperr.ErrNoClientForUser)
}

func (s *SessionSuite) TestLoginRedirectHint() {
	acct := s.registerConfirmed("alice@x.com")
	_, err := s.binder.RegisterDevice(s.ctx, acct.License.LicenseKey, "laptop")
	s.Require().NoError(err)

	res, err := s.c.Login(s.ctx, "alice@x.com", "Passw0rd", "laptop")
	s.Require().NoError(err)
	s.Equal(RedirectIndex, res.RedirectTo)

	res, err = s.c.Login(s.ctx, "alice@x.com", "Passw0rd", "phone")
	s.Require().NoError(err)
	s.Equal(RedirectLicense, res.RedirectTo)
}

func (s *SessionSuite) TestRefreshIsSingleUse() {
	s.registerConfirmed("alice@x.com")
	res, err := s.c.Login(s.ctx, "alice@x.com", "Passw0rd", "")
	s.Require().NoError(err)

	next, err := s.c.Refresh(s.ctx, res.Tokens.RefreshToken)
	s.Require().NoError(err)
	s.NotEqual(res.Tokens.RefreshToken, next.RefreshToken)

	_, err = s.c.Refresh(s.ctx, res.Tokens.RefreshToken)
	s.ErrorIs(err, apperr.ErrInvalidRefreshToken)

	_, err = s.c.Authenticate(s.ctx, auth.BearerToken{Token: res.Tokens.AccessToken})
	s.ErrorIs(err, apperr.ErrInvalidToken, "paired access token goes with the rotated refresh token")

	_, err = s.c.Authenticate(s.ctx, auth.BearerToken{Token: next.AccessToken})
	s.NoError(err)
}

func (s *SessionSuite) TestLogoutRevokesPair() {
	acct := s.registerConfirmed("alice@x.com")
	res, err := s.c.Login(s.ctx, "alice@x.com", "Passw0rd", "")
	s.Require().NoError(err)

	s.ErrorIs(s.c.Logout(s.ctx, "someone-else", res.Tokens.RefreshToken), apperr.ErrInvalidToken)
	s.Require().NoError(s.c.Logout(s.ctx, acct.User.ID, res.Tokens.RefreshToken))

	_, err = s.c.Refresh(s.ctx, res.Tokens.RefreshToken)
	s.ErrorIs(err, apperr.ErrInvalidRefreshToken)
	_, err = s.c.Authenticate(s.ctx, auth.BearerToken{Token: res.Tokens.AccessToken})
	s.ErrorIs(err, apperr.ErrInvalidToken)

	s.ErrorIs(s.c.Logout(s.ctx, "", res.Tokens.RefreshToken), apperr.ErrInvalidToken)
}

func (s *SessionSuite) TestHybridAuthentication() {
	acct := s.registerConfirmed("alice@x.com")

	id, err := s.c.Authenticate(s.ctx, auth.HybridKeySet{APIKey: acct.Client.ClientSecret, UserKey: acct.User.ID, DeviceID: "laptop"})
	s.Require().NoError(err)
	s.Equal(acct.User.ID, id.UserID())
	s.Equal("laptop", id.DeviceID)

	_, err = s.c.Authenticate(s.ctx, auth.HybridKeySet{APIKey: "wrong", UserKey: acct.User.ID})
	s.ErrorIs(err, apperr.ErrInvalidClient)
	_, err = s.c.Authenticate(s.ctx, auth.HybridKeySet{APIKey: acct.Client.ClientSecret, UserKey: "nobody"})
	s.ErrorIs(err, apperr.ErrInvalidClient)
}

func (s *SessionSuite) TestPasswordAndRefreshGrants() {
	acct := s.registerConfirmed("alice@x.com")
	bob := s.registerConfirmed("bob@x.com")
	cid, secret := acct.Client.OAuthClientID, acct.Client.ClientSecret

	pair, err := s.c.PasswordGrant(s.ctx, cid, secret, "alice@x.com", "Passw0rd")
	s.Require().NoError(err)
	s.Equal(acct.User.ID, pair.UserID)

	_, err = s.c.PasswordGrant(s.ctx, cid, "bad", "alice@x.com", "Passw0rd")
	s.ErrorIs(err, apperr.ErrInvalidClient)
	_, err = s.c.PasswordGrant(s.ctx, cid, secret, "alice@x.com", "nope")
	s.ErrorIs(err, apperr.ErrInvalidCredentials)
	_, err = s.c.PasswordGrant(s.ctx, cid, secret, "bob@x.com", "Passw0rd")
	s.ErrorIs(err, apperr.ErrInvalidClient, "client belongs to alice")

	_, err = s.c.RefreshGrant(s.ctx, bob.Client.OAuthClientID, bob.Client.ClientSecret, pair.RefreshToken)
	s.ErrorIs(err, apperr.ErrInvalidRefreshToken)

	next, err := s.c.RefreshGrant(s.ctx, cid, secret, pair.RefreshToken)
	s.Require().NoError(err)
	s.NotEqual(pair.RefreshToken, next.RefreshToken)
}

func (s *SessionSuite) TestUnsupportedGrant() {
	_, c := storetest.SeedUser(s.T(), s.st, "carol@x.com", "Passw0rd")
	c.Grants = models.StringList{models.GrantPassword}
	s.Require().NoError(s.st.DB().Save(c).Error)

	_, err := s.c.RefreshGrant(s.ctx, c.OAuthClientID, c.ClientSecret, "whatever")
	s.ErrorIs(err, apperr.ErrUnsupportedGrant)
}

func (s *SessionSuite) TestPasswordReset() {
	s.registerConfirmed("alice@x.com")
	s.Require().NoError(s.c.RequestPasswordReset(s.ctx, "nobody@x.com"))
	before := len(s.mail.Messages())

	s.Require().NoError(s.c.RequestPasswordReset(s.ctx, "alice@x.com"))
	s.Len(s.mail.Messages(), before+1)
	tok := s.tokenFromMail()

	s.ErrorIs(s.c.ResetPassword(s.ctx, tok, "weak"), apperr.ErrValidation)
	s.ErrorIs(s.c.ResetPassword(s.ctx, "unknown", "N3wPassword"), apperr.ErrTokenNotFound)
	s.Require().NoError(s.c.ResetPassword(s.ctx, tok, "N3wPassword"))
	s.ErrorIs(s.c.ResetPassword(s.ctx, tok, "N3wPassword"), apperr.ErrTokenNotFound)

	_, err := s.c.Login(s.ctx, "alice@x.com", "Passw0rd", "")
	s.ErrorIs(err, apperr.ErrInvalidCredentials)
	_, err = s.c.Login(s.ctx, "alice@x.com", "N3wPassword", "")
	s.NoError(err)
}

func (s *SessionSuite) TestPasswordResetExpires() {
	s.registerConfirmed("alice@x.com")
	s.Require().NoError(s.c.RequestPasswordReset(s.ctx, "alice@x.com"))
	tok := s.tokenFromMail()

	s.tokens.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	s.ErrorIs(s.c.ResetPassword(s.ctx, tok, "N3wPassword"), apperr.ErrResetTokenExpired)
}

func (s *SessionSuite) TestChangePasswordAndProfile() {
	acct := s.registerConfirmed("alice@x.com")

	s.ErrorIs(s.c.ChangePassword(s.ctx, acct.User.ID, "wrong", "N3wPassword"), apperr.ErrInvalidCredentials)
	s.Require().NoError(s.c.ChangePassword(s.ctx, acct.User.ID, "Passw0rd", "N3wPassword"))
	_, err := s.c.Login(s.ctx, "alice@x.com", "N3wPassword", "")
	s.NoError(err)

	name := "Alicia"
	u, err := s.c.UpdateProfile(s.ctx, acct.User.ID, ProfileUpdate{FirstName: &name})
	s.Require().NoError(err)
	s.Equal("Alicia", u.FirstName)
	s.Equal("Doe", u.LastName)

	empty := " "
	_, err = s.c.UpdateProfile(s.ctx, acct.User.ID, ProfileUpdate{LastName: &empty})
	s.ErrorIs(err, apperr.ErrValidation)
}

func (s *SessionSuite) TestSeedAdminEnforcesPasswordPolicy() {
	created, err := s.c.SeedAdmin(s.ctx, "admin@x.com", "a")
	s.ErrorIs(err, apperr.ErrValidation)
	s.False(created)

	_, err = s.st.UserByEmail(s.ctx, "admin@x.com")
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *SessionSuite) TestAdminUpdateUser() {
	acct := s.registerConfirmed("alice@x.com")
	s.registerConfirmed("bob@x.com")

	first, email, pw, admin := "Alicia", " Alicia@X.com ", "N3wPassword", true
	u, err := s.c.AdminUpdateUser(s.ctx, acct.User.ID, UserUpdate{
		FirstName: &first, Email: &email, Password: &pw, IsAdmin: &admin,
	})
	s.Require().NoError(err)
	s.Equal("Alicia", u.FirstName)
	s.Equal("alicia@x.com", u.Email)
	s.True(u.IsAdmin)

	res, err := s.c.Login(s.ctx, "alicia@x.com", "N3wPassword", "")
	s.Require().NoError(err)
	s.True(res.User.IsAdmin)
	_, err = s.c.Login(s.ctx, "alicia@x.com", "Passw0rd", "")
	s.ErrorIs(err, apperr.ErrInvalidCredentials)

	taken := "BOB@x.com"
	_, err = s.c.AdminUpdateUser(s.ctx, acct.User.ID, UserUpdate{Email: &taken})
	s.ErrorIs(err, apperr.ErrEmailTaken)

	weak := "short"
	_, err = s.c.AdminUpdateUser(s.ctx, acct.User.ID, UserUpdate{Password: &weak})
	s.ErrorIs(err, apperr.ErrValidation)

	bad := "not-an-email"
	_, err = s.c.AdminUpdateUser(s.ctx, acct.User.ID, UserUpdate{Email: &bad})
	s.ErrorIs(err, apperr.ErrValidation)

	_, err = s.c.AdminUpdateUser(s.ctx, "no-such-user", UserUpdate{IsAdmin: &admin})
	s.ErrorIs(err, apperr.ErrUserNotFound)
}

func (s *SessionSuite) TestAdminCreateUser() {
	acct, err := s.c.AdminCreateUser(s.ctx, RegisterInput{
		FirstName: "Carol", LastName: "Roe", Email: "Carol@x.com", Password: "Passw0rd",
	}, false)
	s.Require().NoError(err)
	s.True(acct.User.EmailConfirmed)
	s.Equal("carol@x.com", acct.User.Email)
	s.Equal(models.TypeFree, acct.License.Type)
	s.NotNil(acct.Client)
	s.Empty(s.mail.Messages())

	_, err = s.c.Login(s.ctx, "carol@x.com", "Passw0rd", "")
	s.NoError(err)

	_, err = s.c.AdminCreateUser(s.ctx, RegisterInput{
		FirstName: "Carol", LastName: "Roe", Email: "carol@x.com", Password: "Passw0rd",
	}, false)
	s.ErrorIs(err, apperr.ErrEmailTaken)
	_, err = s.c.AdminCreateUser(s.ctx, RegisterInput{
		FirstName: "Dan", LastName: "Roe", Email: "dan@x.com", Password: "weak",
	}, true)
	s.ErrorIs(err, apperr.ErrValidation)
}

func (s *SessionSuite) TestSeedAdminAndDelete() {
	created, err := s.c.SeedAdmin(s.ctx, "admin@x.com", "Adm1nPassword")
	s.Require().NoError(err)
	s.True(created)
	created, err = s.c.SeedAdmin(s.ctx, "admin@x.com", "Adm1nPassword")
	s.Require().NoError(err)
	s.False(created)

	res, err := s.c.Login(s.ctx, "admin@x.com", "Adm1nPassword", "")
	s.Require().NoError(err)
	s.True(res.User.IsAdmin)

	users, err := s.c.ListUsers(s.ctx)
	s.Require().NoError(err)
	s.Len(users, 1)

	s.Require().NoError(s.c.DeleteUser(s.ctx, res.User.ID))
	s.ErrorIs(s.c.DeleteUser(s.ctx, res.User.ID), apperr.ErrUserNotFound)
	_, err = s.c.User(s.ctx, res.User.ID)
	s.ErrorIs(err, apperr.ErrUserNotFound)
}

func (s *SessionSuite) TestAuditLogs() {
	acct := s.registerConfirmed("alice@x.com")
	_, err := s.c.Login(s.ctx, "alice@x.com", "Passw0rd", "")
	s.Require().NoError(err)

	logs, err := s.c.AuditLogs(s.ctx, acct.User.ID, false)
	s.Require().NoError(err)
	var actions []string
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	s.Contains(actions, "user.registered")
	s.Contains(actions, "user.email_confirmed")
	s.Contains(actions, "user.login")
}
