// Package notify sends server lifecycle notifications to configured destinations.
package notify

import (
	"context"
	"errors"
	"fmt"

	pkgznotify "github.com/go-pkgz/notify"
)

// sendFunc delivers one message to one destination. injected for testing,
// defaults to go-pkgz/notify routing by URL scheme (slack, telegram, mailto,
// webhook).
type sendFunc func(ctx context.Context, destination, text string) error

// Service fans one message out to all configured destinations.
type Service struct {
	urls []string
	send sendFunc
}

// New creates a notification service for the given destination URLs.
// an empty list produces a no-op service.
func New(urls []string) *Service {
	return &Service{urls: urls, send: pkgznotify.Send}
}

// Send delivers text to every destination. failures are collected, and a
// failure for one destination does not prevent delivery to the others.
func (s *Service) Send(ctx context.Context, text string) error {
	var errs []error
	for _, dest := range s.urls {
		if err := s.send(ctx, dest, text); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", dest, err))
		}
	}
	return errors.Join(errs...)
}
