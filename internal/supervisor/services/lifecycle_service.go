// Syncrelay - Loan Ledger Change Sync and Realtime Notification Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/syncrelay

package services

import (
	"context"
	"fmt"

	"github.com/thejerf/suture/v4"
)

// StartStopper is a component with its own goroutines: Start returns once
// they are running and Stop waits for them. *client.App satisfies it.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop() error
}

// LifecycleService adapts a StartStopper to suture.Service.
//
// Stop is final for the client App, so a Start error after a previous
// Stop ends the service with suture.ErrDoNotRestart instead of looping.
type LifecycleService struct {
	component StartStopper
	name      string
	served    bool
}

// NewLifecycleService wraps component under name.
func NewLifecycleService(name string, component StartStopper) *LifecycleService {
	return &LifecycleService{
		component: component,
		name:      name,
	}
}

// Serve implements suture.Service.
func (s *LifecycleService) Serve(ctx context.Context) error {
	if err := s.component.Start(ctx); err != nil {
		if s.served {
			return fmt.Errorf("%s restart: %w: %w", s.name, err, suture.ErrDoNotRestart)
		}
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}
	s.served = true

	<-ctx.Done()

	if err := s.component.Stop(); err != nil {
		return fmt.Errorf("%s stop failed: %w", s.name, err)
	}
	return ctx.Err()
}

func (s *LifecycleService) String() string {
	return s.name
}
