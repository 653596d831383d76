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
	"fmt"
	"sync"

	ants "github.com/panjf2000/ants/v2"
)

// A goroutine pool
type Pool[T any] struct {
	inner *ants.Pool
	opt   *poolOption
}

// NewPool returns a goroutine pool.
// cap: the number of workers.
// This panic if provide any invalid option.
func NewPool[T any](cap int, opts ...PoolOption) *Pool[T] {
	opt := defaultPoolOption()
	for _, o := range opts {
		o(opt)
	}

	pool, err := ants.NewPool(cap, opt.antsOptions()...)
	if err != nil {
		panic(err)
	}

	return &Pool[T]{
		inner: pool,
		opt:   opt,
	}
}

// Submit a task into the pool,
// executes it asynchronously.
// This will block if the pool has finite workers and no idle worker.
// NOTE: As now golang doesn't support the member method being generic, we use Future[any]
func (pool *Pool[T]) Submit(method func() (T, error)) *Future[T] {
	future := newFuture[T]()
	err := pool.inner.Submit(func() {
		defer close(future.ch)
		// execute pre handler
		if pool.opt.preHandler != nil {
			pool.opt.preHandler()
		}
		res, err := method()
		if err != nil {
			future.err = err
		} else {
			future.value = res
		}
	})
	if err != nil {
		future.err = err
		close(future.ch)
	}

	return future
}

// The number of workers
func (pool *Pool[T]) Cap() int {
	return pool.inner.Cap()
}

// The number of running workers
func (pool *Pool[T]) Running() int {
	return pool.inner.Running()
}

// Free returns the number of free workers
func (pool *Pool[T]) Free() int {
	return pool.inner.Free()
}

// Release the pool, stops all the workers.
func (pool *Pool[T]) Release() {
	pool.inner.Release()
}

func (pool *Pool[T]) Resize(size int) error {
	if size <= 0 {
		return fmt.Errorf("cannot set pool size to non-positive size: %d", size)
	}
	pool.inner.Tune(size)
	return nil
}

var (
	goPool     *Pool[struct{}]
	initGoOnce sync.Once
)

const defaultGoPoolSize = 8192

func initGoPool() {
	initGoOnce.Do(func() {
		goPool = NewPool[struct{}](defaultGoPoolSize, WithConcealPanic(false))
	})
}

// GetGoPool 返回用于替代裸 go 关键字的全局协程池。
func GetGoPool() *Pool[struct{}] {
	initGoPool()
	return goPool
}

// Go 在全局协程池中异步执行给定函数。
// 用于替代直接使用 go 关键字，统一 panic 行为并便于统计。
func Go(exec func() (struct{}, error)) *Future[struct{}] {
	return GetGoPool().Submit(exec)
}
