package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testhive/pkg/models"
	"testhive/pkg/storage"
	"testhive/pkg/storage/memory"
)

func TestPutGetRoundTrip(t *testing.T) {
	store := memory.NewJobStore()
	ctx := context.Background()

	job := &models.Job{JobID: "job_1_aaaaaaaa", OrgID: "acme", Status: models.StatusQueued}
	require.NoError(t, store.Put(ctx, job))

	got, err := store.Get(ctx, "job_1_aaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, job, got)
}

func TestGetMissing(t *testing.T) {
	store := memory.NewJobStore()
	_, err := store.Get(context.Background(), "job_0_missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreHandsOutClones(t *testing.T) {
	store := memory.NewJobStore()
	ctx := context.Background()

	job := &models.Job{JobID: "job_1_aaaaaaaa", Status: models.StatusQueued}
	require.NoError(t, store.Put(ctx, job))

	// Mutating the original or a read copy must not leak into the store.
	job.Status = models.StatusFailed
	first, err := store.Get(ctx, "job_1_aaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, first.Status)

	first.Status = models.StatusCancelled
	second, err := store.Get(ctx, "job_1_aaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, second.Status)
}

func TestPutOverwrites(t *testing.T) {
	store := memory.NewJobStore()
	ctx := context.Background()

	job := &models.Job{JobID: "job_1_aaaaaaaa", Status: models.StatusQueued}
	require.NoError(t, store.Put(ctx, job))
	job.Status = models.StatusRunning
	require.NoError(t, store.Put(ctx, job))

	got, err := store.Get(ctx, "job_1_aaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
}

func TestScanAndDelete(t *testing.T) {
	store := memory.NewJobStore()
	ctx := context.Background()

	for _, id := range []string{"job_1_aaaaaaaa", "job_2_bbbbbbbb", "job_3_cccccccc"} {
		require.NoError(t, store.Put(ctx, &models.Job{JobID: id, Status: models.StatusQueued}))
	}

	jobs, err := store.Scan(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)

	require.NoError(t, store.Delete(ctx, "job_2_bbbbbbbb"))
	jobs, err = store.Scan(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	_, err = store.Get(ctx, "job_2_bbbbbbbb")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Deleting an absent key is a no-op.
	assert.NoError(t, store.Delete(ctx, "job_2_bbbbbbbb"))
}
