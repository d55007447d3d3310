/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package environment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/flowchartsman/retry"
)

// ErrWaitTimeout 等待条件超时
var ErrWaitTimeout = errors.New("environment: wait timed out")

// 默认等待参数
const (
	DefaultWaitTimeout = 60 * time.Second
	DefaultWaitPeriod  = 200 * time.Millisecond
)

// WaitOptions 等待参数
type WaitOptions struct {
	Timeout time.Duration
	// Period 两次检查之间的最大间隔
	Period time.Duration
}

type abortError struct {
	err error
}

func (a *abortError) Error() string { return a.err.Error() }
func (a *abortError) Unwrap() error { return a.err }

// Abort 标记不可恢复的错误，Wait 收到后立即返回该错误
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &abortError{err: err}
}

// Wait 反复执行 check 直到返回 nil、超时或被 Abort
// 超时时返回 ErrWaitTimeout 并附带最后一次错误
func Wait(ctx context.Context, check func(ctx context.Context) error, opts WaitOptions) error {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	period := opts.Period
	if period <= 0 {
		period = DefaultWaitPeriod
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		lastErr error
		aborted error
	)
	retrier := retry.NewRetrier(math.MaxInt32, period/4, period)
	err := retrier.RunContext(waitCtx, func(ctx context.Context) error {
		err := check(ctx)
		var abort *abortError
		if errors.As(err, &abort) {
			aborted = abort.err
			return retry.Stop(abort.err)
		}
		if err != nil {
			lastErr = err
		}
		return err
	})

	switch {
	case aborted != nil:
		return aborted
	case err == nil:
		return nil
	case ctx.Err() != nil:
		// 调用方取消
		return ctx.Err()
	case lastErr != nil:
		return fmt.Errorf("%w after %s: %w", ErrWaitTimeout, timeout, lastErr)
	default:
		return fmt.Errorf("%w after %s", ErrWaitTimeout, timeout)
	}
}
