// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package conc

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestPoolSubmit(t *testing.T) {
	pool := NewPool[int](4)
	defer pool.Release()

	futures := make([]*Future[int], 0, 16)
	for i := 0; i < 16; i++ {
		i := i
		futures = append(futures, pool.Submit(func() (int, error) {
			return i * 2, nil
		}))
	}

	for i, future := range futures {
		v, err := future.Await()
		assert.NoError(t, err)
		assert.Equal(t, i*2, v)
	}
}

func TestPoolSubmitError(t *testing.T) {
	pool := NewPool[struct{}](1)
	defer pool.Release()

	errMock := errors.New("mock error")
	future := pool.Submit(func() (struct{}, error) {
		return struct{}{}, errMock
	})
	assert.ErrorIs(t, future.Err(), errMock)
	assert.False(t, future.OK())
}

func TestPoolResize(t *testing.T) {
	pool := NewPool[struct{}](2)
	defer pool.Release()

	assert.Equal(t, 2, pool.Cap())
	assert.NoError(t, pool.Resize(4))
	assert.Equal(t, 4, pool.Cap())
	assert.Error(t, pool.Resize(0))
}

func TestGo(t *testing.T) {
	done := make(chan struct{})
	Go(func() (struct{}, error) {
		close(done)
		return struct{}{}, nil
	})
	<-done
}
