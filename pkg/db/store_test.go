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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/novacomm/pkg/logger"
)

// unreachableConn panics on any query, so a test fails if the store touches it.
type unreachableConn struct {
	Conn
}

func TestStoreGetRejectsNonUUIDWithoutQuerying(t *testing.T) {
	store, err := NewStore(unreachableConn{}, logger.NewTestLogger())
	require.NoError(t, err)

	task, err := store.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Nil(t, task)
}
