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

package typeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionSet(t *testing.T) {
	set := NewSessionSet(1, 2, 3)
	assert.Equal(t, 3, set.Len())
	assert.True(t, set.Contain(1, 2))
	assert.False(t, set.Contain(4))

	set.Insert(4)
	assert.True(t, set.Contain(4))

	set.Remove(1, 2)
	assert.Equal(t, 2, set.Len())
	assert.False(t, set.Contain(1))

	clone := set.Clone()
	clone.Insert(100)
	assert.False(t, set.Contain(100))
	assert.True(t, clone.Contain(100))
}

func TestSetOps(t *testing.T) {
	a := NewSet("alice", "bob", "carol")
	b := NewSet("bob", "dave")

	assert.ElementsMatch(t, []string{"bob"}, a.Intersection(b).Collect())
	assert.Equal(t, 4, a.Union(b).Len())
	assert.ElementsMatch(t, []string{"alice", "carol"}, a.Complement(b).Collect())

	var visited []string
	a.Range(func(element string) bool {
		visited = append(visited, element)
		return true
	})
	assert.Len(t, visited, 3)
}
