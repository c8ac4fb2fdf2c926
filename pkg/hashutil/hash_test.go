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

package hashutil

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionIsStableAndInRange(t *testing.T) {
	t.Parallel()

	for _, n := range []int{-1, 0, 1, 2, 7, 16} {
		for i := 0; i < 100; i++ {
			key := fmt.Sprintf("node-%d", i)
			p := Partition(key, n)

			assert.Equal(t, p, Partition(key, n), "same key maps to same partition")

			if n <= 1 {
				assert.Zero(t, p)
				continue
			}

			assert.GreaterOrEqual(t, p, 0)
			assert.Less(t, p, n)
		}
	}
}

func TestPartitionSpreadsKeys(t *testing.T) {
	t.Parallel()

	seen := make(map[int]struct{})
	for i := 0; i < 200; i++ {
		seen[Partition(fmt.Sprintf("node-%d", i), 8)] = struct{}{}
	}

	assert.Len(t, seen, 8)
}
