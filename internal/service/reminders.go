package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/prisoners-dilemma/internal/domain"
)

const reminderSubject = "Unfinished match reminder!"

// ReminderReport summarizes one reminder cycle
type ReminderReport struct {
	UsersChecked  int `json:"users_checked"`
	UsersNotified int `json:"users_notified"`
	Failures      int `json:"failures"`
}

// SendReminders messages every user that has an address and at least one
// active match. A failed send is logged and counted; the cycle continues.
func (s *MatchService) SendReminders(ctx context.Context) (*ReminderReport, error) {
	if s.notifier == nil {
		return nil, fmt.Errorf("sending reminders: %w", domain.ErrInternalError)
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	report := &ReminderReport{}
	for _, u := range users {
		if u.Email == "" {
			continue
		}
		report.UsersChecked++

		matches, err := s.store.ListActiveMatches(ctx, u.Name)
		if err != nil {
			return report, fmt.Errorf("listing active matches for %s: %w", u.Name, err)
		}
		if len(matches) == 0 {
			continue
		}

		if err := s.notifier.Send(ctx, u.Email, reminderSubject, s.reminderBody(u.Name, matches)); err != nil {
			report.Failures++
			s.logger.Warn("failed to send reminder", "name", u.Name, "error", err)
			continue
		}
		report.UsersNotified++
	}

	s.logger.Info("reminder cycle completed",
		"checked", report.UsersChecked,
		"notified", report.UsersNotified,
		"failures", report.Failures,
	)
	return report, nil
}

func (s *MatchService) reminderBody(name string, matches []domain.Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\nThe following matches are still in progress:\n", name)
	for _, m := range matches {
		fmt.Fprintf(&b, "%s vs %s\n", m.Player1Name, m.Player2Name)
	}
	if s.appURL != "" {
		fmt.Fprintf(&b, "\nContinue playing: %s\n", s.appURL)
	}
	return b.String()
}
