package kyc

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/cryptodesk/internal/memstore"
	"github.com/xtrntr/cryptodesk/internal/models"
	"github.com/xtrntr/cryptodesk/internal/store"
)

func validForm() Form {
	return Form{
		FullName:       "Ada Lovelace",
		DateOfBirth:    "1990-12-10",
		Country:        "gb",
		DocumentType:   "Passport",
		DocumentNumber: "123456789",
		Address:        "12 St James's Square, London",
	}
}

func setup(t *testing.T) (*Service, *memstore.Store, *models.User) {
	t.Helper()
	st := memstore.New()
	user, err := st.CreateUser(context.Background(), &models.User{
		Username:  "ada",
		Email:     "ada@example.com",
		Role:      models.RoleUser,
		Balance:   decimal.Zero,
		KYCStatus: models.KYCUnsubmitted,
		Status:    models.UserStatusActive,
	})
	require.NoError(t, err)
	return NewService(st, nil), st, user
}

func TestService_Submit(t *testing.T) {
	svc, st, user := setup(t)
	ctx := context.Background()

	saved, err := svc.Submit(ctx, user.ID, validForm())
	require.NoError(t, err)
	assert.Equal(t, models.KYCPending, saved.Status)
	assert.Equal(t, "GB", saved.Country)
	assert.Equal(t, "passport", saved.DocumentType)
	assert.NotNil(t, saved.SubmittedAt)

	got, _ := st.GetUserByID(ctx, user.ID)
	assert.Equal(t, models.KYCPending, got.KYCStatus)

	logs, _ := st.ListAuditLogs(ctx, models.AuditFilter{Action: "kyc.submitted"})
	assert.Len(t, logs, 1)

	_, err = svc.Submit(ctx, user.ID, validForm())
	assert.True(t, errors.Is(err, ErrAlreadySubmitted), "got %v", err)
}

func TestService_Submit_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *Form)
	}{
		{name: "MissingName", mutate: func(f *Form) { f.FullName = "  " }},
		{name: "MissingCountry", mutate: func(f *Form) { f.Country = "" }},
		{name: "MissingDocumentNumber", mutate: func(f *Form) { f.DocumentNumber = "" }},
		{name: "MissingAddress", mutate: func(f *Form) { f.Address = "" }},
		{name: "BadDate", mutate: func(f *Form) { f.DateOfBirth = "10/12/1990" }},
		{name: "UnknownDocument", mutate: func(f *Form) { f.DocumentType = "library_card" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, user := setup(t)
			form := validForm()
			tt.mutate(&form)

			_, err := svc.Submit(context.Background(), user.ID, form)
			assert.True(t, errors.Is(err, ErrInvalidForm), "got %v", err)
		})
	}
}

func TestService_Get(t *testing.T) {
	svc, _, user := setup(t)
	ctx := context.Background()

	placeholder, err := svc.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.KYCUnsubmitted, placeholder.Status)
	assert.Equal(t, user.ID, placeholder.UserID)

	_, err = svc.Submit(ctx, user.ID, validForm())
	require.NoError(t, err)

	got, err := svc.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.FullName)
}

func TestService_Review(t *testing.T) {
	tests := []struct {
		name         string
		approve      bool
		wantStatus   models.KYCStatus
		wantVerified bool
		wantAlert    models.AlertType
	}{
		{name: "Approve", approve: true, wantStatus: models.KYCApproved, wantVerified: true, wantAlert: models.AlertSuccess},
		{name: "Reject", approve: false, wantStatus: models.KYCRejected, wantVerified: false, wantAlert: models.AlertWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st, user := setup(t)
			ctx := context.Background()
			_, err := svc.Submit(ctx, user.ID, validForm())
			require.NoError(t, err)

			var reviewed *models.KYCData
			if tt.approve {
				reviewed, err = svc.Approve(ctx, user.ID, 42)
			} else {
				reviewed, err = svc.Reject(ctx, user.ID, 42, "blurry photo")
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, reviewed.Status)
			require.NotNil(t, reviewed.ReviewedBy)
			assert.Equal(t, int64(42), *reviewed.ReviewedBy)

			got, _ := st.GetUserByID(ctx, user.ID)
			assert.Equal(t, tt.wantStatus, got.KYCStatus)
			assert.Equal(t, tt.wantVerified, got.KYCVerified)

			alerts, _ := st.ListAlerts(ctx, user.ID, false)
			require.Len(t, alerts, 1)
			assert.Equal(t, tt.wantAlert, alerts[0].Type)

			// Reviews apply to pending submissions only
			_, err = svc.Approve(ctx, user.ID, 42)
			assert.True(t, errors.Is(err, store.ErrNotPending), "got %v", err)
		})
	}
}

func TestService_ResubmitAfterRejection(t *testing.T) {
	svc, _, user := setup(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, user.ID, validForm())
	require.NoError(t, err)
	_, err = svc.Reject(ctx, user.ID, 1, "")
	require.NoError(t, err)

	again, err := svc.Submit(ctx, user.ID, validForm())
	require.NoError(t, err)
	assert.Equal(t, models.KYCPending, again.Status)
	assert.Empty(t, again.ReviewNote)
	assert.Nil(t, again.ReviewedBy)

	pending, err := svc.List(ctx, models.KYCPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestService_Approve_Unsubmitted(t *testing.T) {
	svc, _, user := setup(t)
	_, err := svc.Approve(context.Background(), user.ID, 1)
	assert.True(t, errors.Is(err, store.ErrNotPending), "got %v", err)
}
