package services

import (
	"testing"

	"outpatient-backend/internal/apperr"
	"outpatient-backend/internal/models"
	"outpatient-backend/internal/visitflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_IssuesTokenThatAuthenticates(t *testing.T) {
	e := newEnv(t)

	res, err := e.svc.Auth.Login(e.ctx, models.LoginInput{Username: "drmehta", Password: "secret123"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, models.RoleDoctor, res.User.Role)

	claims, err := e.svc.Auth.Authenticate(e.ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, e.doctor.ID, claims.UserID)
	assert.Equal(t, "Doctor", claims.Role)

	_, err = e.svc.Auth.Login(e.ctx, models.LoginInput{Username: "drmehta", Password: "wrong-pass"})
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	_, err = e.svc.Auth.Login(e.ctx, models.LoginInput{Username: "nobody", Password: "secret123"})
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestLogout_RevokesToken(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.Auth.Login(e.ctx, models.LoginInput{Username: "labtech", Password: "secret123"})
	require.NoError(t, err)
	claims, err := e.svc.Auth.Authenticate(e.ctx, res.Token)
	require.NoError(t, err)

	require.NoError(t, e.svc.Auth.Logout(e.ctx, claims))
	require.NoError(t, e.svc.Auth.Logout(e.ctx, claims))

	_, err = e.svc.Auth.Authenticate(e.ctx, res.Token)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestAuthenticate_RejectsChangedAccounts(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.Auth.Login(e.ctx, models.LoginInput{Username: "pharma", Password: "secret123"})
	require.NoError(t, err)

	require.NoError(t, e.db.Model(e.pharmacy).Update("role", models.RoleLab).Error)
	_, err = e.svc.Auth.Authenticate(e.ctx, res.Token)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	_, err = e.svc.Auth.Authenticate(e.ctx, "not-a-token")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestPasswordReset(t *testing.T) {
	e := newEnv(t)

	token, err := e.svc.Auth.ForgotPassword(e.ctx, models.ForgotPasswordInput{Email: "office@hospital.test"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	var stored models.User
	require.NoError(t, e.db.First(&stored, e.office.ID).Error)
	require.NotNil(t, stored.ResetToken)
	assert.NotEqual(t, token, *stored.ResetToken)

	unknown, err := e.svc.Auth.ForgotPassword(e.ctx, models.ForgotPasswordInput{Email: "ghost@hospital.test"})
	require.NoError(t, err)
	assert.Empty(t, unknown)

	require.NoError(t, e.svc.Auth.ResetPassword(e.ctx, token, models.ResetPasswordInput{Password: "new-secret"}))
	err = e.svc.Auth.ResetPassword(e.ctx, token, models.ResetPasswordInput{Password: "again-secret"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = e.svc.Auth.Login(e.ctx, models.LoginInput{Username: "office", Password: "new-secret"})
	assert.NoError(t, err)
}

func TestPasswordReset_EndsEarlierSessions(t *testing.T) {
	e := newEnv(t)
	before, err := e.svc.Auth.Login(e.ctx, models.LoginInput{Username: "office", Password: "secret123"})
	require.NoError(t, err)
	_, err = e.svc.Auth.Authenticate(e.ctx, before.Token)
	require.NoError(t, err)

	token, err := e.svc.Auth.ForgotPassword(e.ctx, models.ForgotPasswordInput{Email: "office@hospital.test"})
	require.NoError(t, err)
	require.NoError(t, e.svc.Auth.ResetPassword(e.ctx, token, models.ResetPasswordInput{Password: "new-secret"}))

	_, err = e.svc.Auth.Authenticate(e.ctx, before.Token)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindUnauthorized, appErr.Kind)
	assert.Equal(t, "Password has changed, please log in again", appErr.Msg)

	// A login in the same second as the reset still works.
	after, err := e.svc.Auth.Login(e.ctx, models.LoginInput{Username: "office", Password: "new-secret"})
	require.NoError(t, err)
	_, err = e.svc.Auth.Authenticate(e.ctx, after.Token)
	assert.NoError(t, err)

	// A master setting a new password ends sessions the same way.
	_, err = e.svc.Staff.Update(e.ctx, e.office.ID, models.UpdateStaffInput{
		Username: "office", Email: "office@hospital.test", Role: models.RoleOffice, Password: "third-secret",
	})
	require.NoError(t, err)
	_, err = e.svc.Auth.Authenticate(e.ctx, after.Token)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestSeedMaster_OnlyOnce(t *testing.T) {
	e := newEnv(t)
	created, err := e.svc.Auth.SeedMaster(e.ctx, "admin", "admin@hospital.test", "admin-pass")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = e.svc.Auth.SeedMaster(e.ctx, "admin2", "admin2@hospital.test", "admin-pass")
	require.NoError(t, err)
	assert.False(t, created)

	_, err = e.svc.Auth.Login(e.ctx, models.LoginInput{Username: "admin", Password: "admin-pass"})
	assert.NoError(t, err)
}

func TestStaff_CRUD(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Auth.SeedMaster(e.ctx, "admin", "admin@hospital.test", "admin-pass")
	require.NoError(t, err)
	var master models.User
	require.NoError(t, e.db.Where("username = ?", "admin").First(&master).Error)

	staff, err := e.svc.Staff.List(e.ctx)
	require.NoError(t, err)
	assert.Len(t, staff, 5)
	for _, s := range staff {
		assert.NotEqual(t, models.RoleMaster, s.Role)
	}

	created, err := e.svc.Staff.Create(e.ctx, models.CreateStaffInput{
		Username: "drrao", Email: "rao@hospital.test", Mobile: "9123456789", Role: models.RoleDoctor, Password: "rao-pass",
	})
	require.NoError(t, err)
	assert.Contains(t, e.events.take(), visitflow.TopicStaffList)

	_, err = e.svc.Staff.Create(e.ctx, models.CreateStaffInput{
		Username: "drrao", Email: "other@hospital.test", Role: models.RoleDoctor, Password: "rao-pass",
	})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	_, err = e.svc.Staff.Create(e.ctx, models.CreateStaffInput{
		Username: "boss", Email: "boss@hospital.test", Role: models.RoleMaster, Password: "boss-pass",
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	updated, err := e.svc.Staff.Update(e.ctx, created.ID, models.UpdateStaffInput{
		Username: "drrao", Email: "rao@hospital.test", Role: models.RoleLab,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleLab, updated.Role)
	_, err = e.svc.Auth.Login(e.ctx, models.LoginInput{Username: "drrao", Password: "rao-pass"})
	assert.NoError(t, err, "empty password keeps the current one")

	_, err = e.svc.Staff.Update(e.ctx, master.ID, models.UpdateStaffInput{Username: "admin", Email: "admin@hospital.test", Role: models.RoleOP})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	assert.True(t, apperr.Is(e.svc.Staff.Delete(e.ctx, master.ID, master.ID), apperr.KindForbidden))
	require.NoError(t, e.svc.Staff.Delete(e.ctx, master.ID, created.ID))
	assert.True(t, apperr.Is(e.svc.Staff.Delete(e.ctx, master.ID, created.ID), apperr.KindNotFound))

	// The deleted username stays reserved.
	_, err = e.svc.Staff.Create(e.ctx, models.CreateStaffInput{
		Username: "drrao", Email: "new@hospital.test", Role: models.RoleDoctor, Password: "rao-pass",
	})
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}
