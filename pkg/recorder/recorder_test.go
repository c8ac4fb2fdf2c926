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

package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/novacomm/pkg/logger"
	"github.com/carverauto/novacomm/pkg/models"
	"github.com/carverauto/novacomm/pkg/telemetry"
)

var errDiskFull = errors.New("disk full")

func reading(t *testing.T, payload string) *telemetry.Reading {
	t.Helper()

	r, err := telemetry.Decode("novacomm.n1.rx", []byte(payload), time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	return r
}

func TestRecordPacketOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockStore(ctrl)

	var got *models.Packet

	store.EXPECT().AppendPacket(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p *models.Packet) error {
			got = p
			return nil
		},
	)

	rec := NewRecorder(store, logger.NewTestLogger(), 0)

	packet, aiLog, err := rec.Record(context.Background(), reading(t, `{"uuid":"n1"}`))
	require.NoError(t, err)
	assert.Nil(t, aiLog)
	require.NotNil(t, packet)
	assert.Same(t, got, packet)
	assert.NotEmpty(t, packet.ID)
	assert.Equal(t, "n1", packet.NodeID)
	assert.Empty(t, packet.Payload)
	assert.Zero(t, packet.SNR)
	assert.Zero(t, packet.RSSI)
}

func TestRecordWithInference(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := NewMockStore(ctrl)

	gomock.InOrder(
		store.EXPECT().AppendPacket(gomock.Any(), gomock.Any()).Return(nil),
		store.EXPECT().AppendAILog(gomock.Any(), gomock.Any()).Return(nil),
	)

	rec := NewRecorder(store, logger.NewTestLogger(), time.Second)

	packet, aiLog, err := rec.Record(context.Background(),
		reading(t, `{"uuid":"n1","payload":"hi","snr":4.5,"rssi":-90,"ai_prediction":{"label":"x"}}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", packet.Payload)
	assert.InDelta(t, 4.5, packet.SNR, 0)
	assert.InDelta(t, -90.0, packet.RSSI, 0)

	require.NotNil(t, aiLog)
	assert.NotEmpty(t, aiLog.ID)
	assert.NotEqual(t, packet.ID, aiLog.ID)
	assert.Equal(t, models.DefaultAIModelName, aiLog.ModelName)
	assert.JSONEq(t, `{"label":"x"}`, string(aiLog.Prediction))
	assert.Nil(t, aiLog.Accuracy)
}

func TestRecordFailures(t *testing.T) {
	t.Run("packet append fails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := NewMockStore(ctrl)
		store.EXPECT().AppendPacket(gomock.Any(), gomock.Any()).Return(errDiskFull)

		_, _, err := NewRecorder(store, logger.NewTestLogger(), 0).
			Record(context.Background(), reading(t, `{"uuid":"n1","ai_prediction":1}`))
		require.ErrorIs(t, err, ErrRepository)
		require.ErrorIs(t, err, errDiskFull)
	})

	t.Run("ai log append fails", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := NewMockStore(ctrl)
		store.EXPECT().AppendPacket(gomock.Any(), gomock.Any()).Return(nil)
		store.EXPECT().AppendAILog(gomock.Any(), gomock.Any()).Return(errDiskFull)

		packet, aiLog, err := NewRecorder(store, logger.NewTestLogger(), 0).
			Record(context.Background(), reading(t, `{"uuid":"n1","ai_prediction":1}`))
		require.ErrorIs(t, err, ErrRepository)
		assert.NotNil(t, packet)
		assert.Nil(t, aiLog)
	})
}
