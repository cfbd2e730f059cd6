package kernel

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/manthysbr/templaterelay/internal/adapters/blob"
	"github.com/manthysbr/templaterelay/internal/core/domain"
	"github.com/manthysbr/templaterelay/internal/core/services"
	kernelapi "github.com/manthysbr/templaterelay/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestKernel serves the real kernel API and returns a client for it.
func newTestKernel(t *testing.T) (*Client, *services.Coordinator) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := services.NewEventBus(logger)
	coordinator := services.NewCoordinator(logger, services.DefaultCoordinatorConfig(), services.WithEventBus(bus))

	var srv *httptest.Server
	images, err := blob.NewStore(8, "", 0)
	require.NoError(t, err)
	api, err := kernelapi.NewServer(logger, coordinator, bus, images, nil, kernelapi.Options{ValidateRequests: true})
	require.NoError(t, err)
	srv = httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return NewClient(srv.URL+"/", 3*time.Minute), coordinator
}

func TestClient_WorkerFlow(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestKernel(t)

	_, err := client.SubmitJob(ctx, domain.Submission{Title: "Launch Post", SubmitterID: "U1"})
	require.ErrorIs(t, err, domain.ErrWorkerUnavailable)

	require.NoError(t, client.Heartbeat(ctx))
	job, err := client.SubmitJob(ctx, domain.Submission{Title: "Launch Post", SubmitterID: "U1", Destination: "C1"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	pending, err := client.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, job.ID, pending[0].ID)

	_, err = client.SubmitJob(ctx, domain.Submission{Title: "Other", SubmitterID: "U2"})
	var busy *domain.BusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "U1", busy.OwnerID)
	assert.True(t, IsBusy(err))

	updated, err := client.UpdateJobStatus(ctx, job.ID, domain.JobStatusProcessing, "")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, updated.Status)

	pending, err = client.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = client.UpdateJobStatus(ctx, job.ID, domain.JobStatusCompleted, "delivered 1 template(s)")
	require.NoError(t, err)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, status.Lock)
	assert.True(t, status.Availability.Available)
	assert.Equal(t, 1, status.Jobs)
}

func TestClient_ErrorMapping(t *testing.T) {
	ctx := context.Background()
	client, coordinator := newTestKernel(t)
	require.NoError(t, coordinator.Heartbeat(ctx))

	_, err := client.UpdateJobStatus(ctx, "missing", domain.JobStatusProcessing, "")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	job, err := coordinator.SubmitJob(ctx, domain.Submission{Title: "T", SubmitterID: "U1"})
	require.NoError(t, err)
	_, err = coordinator.UpdateJobStatus(ctx, job.ID, domain.JobStatusError, "boom")
	require.NoError(t, err)

	_, err = client.UpdateJobStatus(ctx, job.ID, domain.JobStatusProcessing, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.ErrorIs(t, err, domain.ErrPermanent)

	_, err = client.SubmitJob(ctx, domain.Submission{Title: "", SubmitterID: "U1"})
	assert.ErrorIs(t, err, domain.ErrPermanent)
}

func TestClient_Upload(t *testing.T) {
	client, _ := newTestKernel(t)

	url, err := client.Upload(context.Background(), "launch_option1.png", "Launch", []byte("png-bytes"))
	require.NoError(t, err)

	resp, err := http.Get(client.baseURL + url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
}

func TestClient_TransientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, 0).Heartbeat(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrPermanent)
	assert.Contains(t, err.Error(), "status 502")
}

func TestClient_ListPendingQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"pending", "waiting_for_selection"}, r.URL.Query()["status"])
		assert.Equal(t, "180", r.URL.Query().Get("max_age_seconds"))
		_, _ = w.Write([]byte(`{"jobs":[]}`))
	}))
	defer srv.Close()

	jobs, err := NewClient(srv.URL, 3*time.Minute).ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
