/*
Copyright 2025 The PTU Reconciler Authors.

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

// Package config provides the read-only variable store the reconciler reads
// named values from, plus the on-disk resource definition format.
package config

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
)

// VariableStore is a read-only named key/value provider, mirroring the
// automation platform's variable registry.
type VariableStore interface {
	// Get returns the value of name, and whether it is present.
	Get(ctx context.Context, name string) (string, bool, error)
}

// EnvStore resolves variables from the process environment. Variable names
// are upper-cased with non-alphanumeric characters mapped to underscores, so
// "ptu-calculated-capacity" resolves PTU_CALCULATED_CAPACITY.
type EnvStore struct{}

func (EnvStore) Get(_ context.Context, name string) (string, bool, error) {
	v, ok := os.LookupEnv(envName(name))
	return v, ok, nil
}

func envName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	return mapped
}

// RedisStore resolves variables from a shared cache, for automation accounts
// that publish computed values there.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore returns a RedisStore reading keys under the given prefix.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, name string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, s.prefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// StaticStore is a fixed in-memory store for tests.
type StaticStore map[string]string

func (s StaticStore) Get(_ context.Context, name string) (string, bool, error) {
	v, ok := s[name]
	return v, ok, nil
}
