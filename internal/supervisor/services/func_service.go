// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import "context"

// FuncService adapts a bare context-aware loop function to suture.Service,
// for background work (heartbeats, policy sync, lease ticking) whose run
// loop already blocks on ctx.Done() the way Serve is expected to.
type FuncService struct {
	fn   func(ctx context.Context) error
	name string
}

// NewFuncService wraps fn as a supervised service named name.
func NewFuncService(name string, fn func(ctx context.Context) error) *FuncService {
	return &FuncService{fn: fn, name: name}
}

// Serve implements suture.Service.
func (s *FuncService) Serve(ctx context.Context) error { return s.fn(ctx) }

// String implements fmt.Stringer for suture's log output.
func (s *FuncService) String() string { return s.name }
