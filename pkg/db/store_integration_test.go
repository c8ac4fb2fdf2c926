/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package db

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/models"
)

const cnpgTestURLEnv = "NOVACOMM_TEST_CNPG_URL"

// newIntegrationStore connects to the cluster named by NOVACOMM_TEST_CNPG_URL
// and applies migrations. The test is skipped when the variable is unset.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv(cnpgTestURLEnv)
	if dsn == "" {
		t.Skipf("%s not set", cnpgTestURLEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	log := logger.NewTestLogger()
	require.NoError(t, RunMigrations(ctx, pool, log))
	require.NoError(t, RunMigrations(ctx, pool, log), "migrations are idempotent")

	store, err := NewStore(pool, log)
	require.NoError(t, err)

	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	nodeID := "it-" + uuid.NewString()
	t.Cleanup(func() { _ = store.Remove(context.Background(), nodeID) })

	lat := 1.5
	now := time.Now().UTC().Truncate(time.Microsecond)

	stored, err := store.Upsert(ctx, &models.Node{
		UUID:          nodeID,
		Name:          models.DefaultNodeName(nodeID),
		Lat:           &lat,
		Mode:          models.DefaultNodeMode,
		Configuration: map[string]interface{}{"channel": float64(3)},
		Status:        models.NodeStatusOnline,
		LastSeen:      now,
	})
	require.NoError(t, err)
	assert.InDelta(t, lat, *stored.Lat, 0)
	assert.Nil(t, stored.Lng)
	assert.Equal(t, float64(3), stored.Configuration["channel"])

	stored, err = store.Upsert(ctx, &models.Node{UUID: nodeID, Name: stored.Name, Mode: stored.Mode,
		Status: models.NodeStatusOnline, LastSeen: now.Add(-time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, now, stored.LastSeen)

	require.NoError(t, store.AppendPacket(ctx, &models.Packet{ID: uuid.NewString(), NodeID: nodeID, Timestamp: now}))
	require.NoError(t, store.AppendAILog(ctx, &models.AILog{
		ID: uuid.NewString(), NodeID: nodeID, ModelName: models.DefaultAIModelName,
		Prediction: json.RawMessage(`{"label":"ok"}`), Timestamp: now,
	}))

	require.ErrorIs(t, store.AppendPacket(ctx, &models.Packet{ID: uuid.NewString(), NodeID: "ghost-" + nodeID, Timestamp: now}), ErrNodeMissing)

	task := &models.OTATask{
		ID: uuid.NewString(), NodeID: nodeID, FirmwareVersion: "1.2.3",
		Status: models.OTAStatusPending, FileURL: models.FirmwareURL("1.2.3"), StartTime: now,
	}

	_, err = store.Create(ctx, task)
	require.NoError(t, err)

	end := now.Add(time.Minute)
	task.Status = models.OTAStatusCompleted
	task.Progress = 100
	task.EndTime = &end
	require.NoError(t, store.Update(ctx, task))

	got, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OTAStatusCompleted, got.Status)
	require.NotNil(t, got.EndTime)

	missing, err := store.Get(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.Remove(ctx, nodeID))

	found, err := store.Find(ctx, nodeID)
	require.NoError(t, err)
	assert.Nil(t, found)
}
