// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"context"
	"log/slog"
	"time"
)

// ActionRequest describes one dispatched lifecycle action for logging.
type ActionRequest struct {
	// Action is the normalised action name.
	Action string

	// Params holds the supplied parameter values.
	Params map[string]any
}

// ActionMiddleware logs dispatched actions on arrival and completion.
type ActionMiddleware struct {
	logger *slog.Logger
}

// NewActionMiddleware creates a new action logging middleware.
func NewActionMiddleware(logger *slog.Logger) *ActionMiddleware {
	return &ActionMiddleware{logger: logger}
}

// Handler runs handler, logging the request at debug level and the result
// at debug (success) or warn (failure) level.
func (m *ActionMiddleware) Handler(ctx context.Context, req *ActionRequest, handler func() error) error {
	start := time.Now()

	attrs := []any{EventKey, "action_request", ActionKey, req.Action}
	for k, v := range req.Params {
		attrs = append(attrs, k, v)
	}
	m.logger.DebugContext(ctx, "action dispatched", attrs...)

	err := handler()

	result := []any{
		EventKey, "action_response",
		ActionKey, req.Action,
		"success", err == nil,
		DurationKey, time.Since(start).Milliseconds(),
	}
	if err != nil {
		result = append(result, "error", err.Error())
		m.logger.WarnContext(ctx, "action failed", result...)
		return err
	}
	m.logger.DebugContext(ctx, "action completed", result...)
	return nil
}
