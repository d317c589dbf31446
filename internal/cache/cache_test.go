/*
Copyright 2024 ECP Indexer Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ecp-indexer/relay/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client), mr
}

func TestSetAndGet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	require.NoError(t, c.Set(ctx, "signing_secret:app_1", "whsec_123", time.Minute))

	var secret string
	found, err := c.Get(ctx, "signing_secret:app_1", &secret)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "whsec_123", secret)
}

func TestGetMiss(t *testing.T) {
	c, _ := newTestCache(t)

	var secret string
	found, err := c.Get(context.Background(), "signing_secret:unknown", &secret)
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, secret)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t)

	require.NoError(t, c.Set(ctx, "signing_secret:app_1", "whsec_123", time.Minute))
	assert.True(t, mr.Exists("signing_secret:app_1"))

	require.NoError(t, c.Delete(ctx, "signing_secret:app_1"))
	assert.False(t, mr.Exists("signing_secret:app_1"))

	var secret string
	found, err := c.Get(ctx, "signing_secret:app_1", &secret)
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestNewCache(t *testing.T) {
	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{Redis: config.RedisConfig{Dns: mr.Addr()}})

	c, err := NewCache()
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), "k", map[string]string{"hello": "world"}, time.Minute))

	var value map[string]string
	found, err := c.Get(context.Background(), "k", &value)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[string]string{"hello": "world"}, value)
}
