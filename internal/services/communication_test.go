package services

import (
	"context"
	"testing"
	"time"

	"advisorcrm/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogCommunication(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.advisor(t, "meera@example.com")
	client := env.client(t, userID, &CreateClientRequest{Name: "Priya", Email: "priya@example.com", Phone: "9820012345"})

	comm, err := env.comms.Log(ctx, userID, client.ID, &LogCommunicationRequest{
		Type:           "Meeting",
		Priority:       "high",
		Subject:        "Annual review",
		RelatedProduct: "lumpsum",
	})
	require.NoError(t, err)
	assert.Equal(t, models.CommunicationMeeting, comm.Type)
	assert.Equal(t, models.PriorityHigh, comm.Priority)
	assert.Equal(t, models.CommunicationPending, comm.Status)
	assert.Equal(t, models.ProductLumpsum, comm.RelatedProduct)
	assert.False(t, comm.Date.IsZero())

	_, err = env.comms.Log(ctx, userID, client.ID, &LogCommunicationRequest{Type: "fax"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.comms.Log(ctx, userID, client.ID, &LogCommunicationRequest{Type: "call", Priority: "urgent"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = env.comms.Log(ctx, userID, "missing", &LogCommunicationRequest{Type: "call"})
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestLogCommunicationSends(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.advisor(t, "meera@example.com")
	client := env.client(t, userID, &CreateClientRequest{Name: "Priya", Email: "priya@example.com", Phone: "9820012345"})

	t.Run("email sent", func(t *testing.T) {
		comm, err := env.comms.Log(ctx, userID, client.ID, &LogCommunicationRequest{
			Type: "email", Subject: "Statement", Content: "Please find attached", Send: true,
		})
		require.NoError(t, err)
		assert.Equal(t, models.CommunicationSent, comm.Status)
		require.Equal(t, 1, env.email.count())
		assert.Equal(t, []string{"priya@example.com"}, env.email.sent[0].To)
	})

	t.Run("whatsapp sent", func(t *testing.T) {
		comm, err := env.comms.Log(ctx, userID, client.ID, &LogCommunicationRequest{
			Type: "whatsapp", Content: "Hello", Send: true,
		})
		require.NoError(t, err)
		assert.Equal(t, models.CommunicationSent, comm.Status)
		assert.Equal(t, "SM123", comm.ExternalID)
		assert.Equal(t, []string{"+919820012345"}, env.whatsapp.sent)
	})

	t.Run("failed send is still logged", func(t *testing.T) {
		env.whatsapp.err = errUpstream
		defer func() { env.whatsapp.err = nil }()

		comm, err := env.comms.Log(ctx, userID, client.ID, &LogCommunicationRequest{
			Type: "whatsapp", Content: "Hello again", Send: true,
		})
		assert.ErrorIs(t, err, ErrExternalAPI)
		require.NotNil(t, comm)
		assert.Equal(t, models.CommunicationFailed, comm.Status)

		stored, err := env.comms.Get(ctx, userID, comm.ID)
		require.NoError(t, err)
		assert.Equal(t, models.CommunicationFailed, stored.Status)
	})

	t.Run("missing address is rejected", func(t *testing.T) {
		bare := env.client(t, userID, &CreateClientRequest{Name: "No Contact"})
		comm, err := env.comms.Log(ctx, userID, bare.ID, &LogCommunicationRequest{Type: "email", Send: true})
		assert.ErrorIs(t, err, ErrValidation)
		assert.Nil(t, comm)

		_, total, err := env.comms.List(ctx, userID, CommunicationFilter{ClientID: bare.ID})
		require.NoError(t, err)
		assert.Zero(t, total)
	})
}

func TestListCommunications(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.advisor(t, "meera@example.com")
	priya := env.client(t, userID, &CreateClientRequest{Name: "Priya"})
	karan := env.client(t, userID, &CreateClientRequest{Name: "Karan"})

	older := time.Now().UTC().Add(-48 * time.Hour)
	_, err := env.comms.Log(ctx, userID, priya.ID, &LogCommunicationRequest{Type: "call", Date: &older})
	require.NoError(t, err)
	newest, err := env.comms.Log(ctx, userID, priya.ID, &LogCommunicationRequest{Type: "meeting", Priority: "high"})
	require.NoError(t, err)
	_, err = env.comms.Log(ctx, userID, karan.ID, &LogCommunicationRequest{Type: "call"})
	require.NoError(t, err)

	comms, total, err := env.comms.List(ctx, userID, CommunicationFilter{ClientID: priya.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, newest.ID, comms[0].ID)

	_, total, err = env.comms.List(ctx, userID, CommunicationFilter{Type: "call"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	_, total, err = env.comms.List(ctx, userID, CommunicationFilter{Priority: "high"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	_, _, err = env.comms.List(ctx, userID, CommunicationFilter{Status: "lost"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListFollowUps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.advisor(t, "meera@example.com")
	client := env.client(t, userID, &CreateClientRequest{Name: "Priya"})

	now := time.Now().UTC()
	soon := now.Add(48 * time.Hour)
	later := now.Add(30 * 24 * time.Hour)

	due, err := env.comms.Log(ctx, userID, client.ID, &LogCommunicationRequest{Type: "call", FollowUpDate: &soon})
	require.NoError(t, err)
	_, err = env.comms.Log(ctx, userID, client.ID, &LogCommunicationRequest{Type: "call", FollowUpDate: &later})
	require.NoError(t, err)
	_, err = env.comms.Log(ctx, userID, client.ID, &LogCommunicationRequest{Type: "call"})
	require.NoError(t, err)

	comms, err := env.comms.ListFollowUps(ctx, userID, now, now.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, comms, 1)
	assert.Equal(t, due.ID, comms[0].ID)

	_, err = env.comms.ListFollowUps(ctx, userID, now, now.Add(-time.Hour))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRecordInboundWhatsApp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.advisor(t, "meera@example.com")
	client := env.client(t, userID, &CreateClientRequest{Name: "Priya", Phone: "9820012345"})

	logged, err := env.comms.RecordInbound(ctx, "whatsapp:+919820012345", "Is my SIP due?", "SMinbound")
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, client.ID, logged[0].ClientID)
	assert.Equal(t, models.CommunicationReceived, logged[0].Status)
	assert.Equal(t, "SMinbound", logged[0].ExternalID)

	logged, err = env.comms.RecordInbound(ctx, "whatsapp:+14155550100", "wrong number", "SMx")
	require.NoError(t, err)
	assert.Empty(t, logged)

	_, err = env.comms.RecordInbound(ctx, "", "", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestFollowUpWindowAcrossTimezones(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.advisor(t, "meera@example.com")
	client := env.client(t, userID, &CreateClientRequest{Name: "Priya"})

	ist := time.FixedZone("IST", 5*3600+1800)
	followUp := time.Date(2026, 5, 12, 3, 0, 0, 0, ist) // 2026-05-11 21:30 UTC
	comm, err := env.comms.Log(ctx, userID, client.ID, &LogCommunicationRequest{Type: "call", FollowUpDate: &followUp})
	require.NoError(t, err)
	assert.Equal(t, time.UTC, comm.FollowUpDate.Location())

	after, err := env.comms.ListFollowUps(ctx, userID, time.Date(2026, 5, 11, 22, 0, 0, 0, time.UTC), time.Date(2026, 5, 13, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, after)

	around, err := env.comms.ListFollowUps(ctx, userID, time.Date(2026, 5, 11, 21, 0, 0, 0, time.UTC), time.Date(2026, 5, 11, 22, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, around, 1)
	assert.Equal(t, comm.ID, around[0].ID)

	// The window bounds may carry any offset too
	aroundIST, err := env.comms.ListFollowUps(ctx, userID, time.Date(2026, 5, 12, 2, 30, 0, 0, ist), time.Date(2026, 5, 12, 3, 30, 0, 0, ist))
	require.NoError(t, err)
	assert.Len(t, aroundIST, 1)
}
