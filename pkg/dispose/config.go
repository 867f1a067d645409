/*
 * Copyright 2025 SREDiag Authors
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

package dispose

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultFallbackWorkers   = 4
	defaultFallbackQueueHint = 64
	defaultReleaseRetries    = 3
	defaultRetryInterval     = 5 * time.Millisecond
	maxRetryInterval         = time.Second
)

// Config is used to tune a Registry.
type Config struct {
	// FallbackWorkers bounds the goroutines that run fallback releases.
	FallbackWorkers int `yaml:"fallback_workers"`

	// FallbackQueueHint sizes the fallback queue up front. It is not a limit.
	FallbackQueueHint int64 `yaml:"fallback_queue_hint"`

	// ReleaseRetries is how many times Contain retries a failing release.
	ReleaseRetries uint64 `yaml:"release_retries"`

	// RetryInterval is the constant delay between Contain retries.
	RetryInterval time.Duration `yaml:"retry_interval"`

	// LeakThreshold is the number of fallback releases tolerated before the
	// leak health check fails. Zero disables the check.
	LeakThreshold uint64 `yaml:"leak_threshold"`

	// MaxLive is the number of live tracked resources tolerated before the
	// live health check fails. Zero disables the check.
	MaxLive int `yaml:"max_live"`
}

// DefaultConfig is used to return a default configuration
func DefaultConfig() *Config {
	return &Config{
		FallbackWorkers:   defaultFallbackWorkers,
		FallbackQueueHint: defaultFallbackQueueHint,
		ReleaseRetries:    defaultReleaseRetries,
		RetryInterval:     defaultRetryInterval,
	}
}

// VerifyConfig is used to verify the sanity of configuration
func VerifyConfig(config *Config) error {
	if config == nil {
		return errors.New("config is nil")
	}
	if config.FallbackWorkers <= 0 {
		return fmt.Errorf("fallback_workers must be positive, got %d", config.FallbackWorkers)
	}
	if config.FallbackQueueHint < 0 {
		return fmt.Errorf("fallback_queue_hint must not be negative, got %d", config.FallbackQueueHint)
	}
	if config.RetryInterval < 0 || config.RetryInterval > maxRetryInterval {
		return fmt.Errorf("retry_interval must be within [0, %s], got %s", maxRetryInterval, config.RetryInterval)
	}
	if config.MaxLive < 0 {
		return fmt.Errorf("max_live must not be negative, got %d", config.MaxLive)
	}
	return nil
}

// LoadConfig reads a yaml file over DefaultConfig and verifies the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := VerifyConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}
