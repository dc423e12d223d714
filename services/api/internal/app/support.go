package app

import (
	"context"
	"errors"
	"fmt"

	"afggram/internal/util"
	"afggram/pkg/domain"
	"afggram/pkg/notify"
	"afggram/pkg/store"
)

const (
	maxTicketSubject = 150
	maxTicketBody    = 5000
)

// OpenTicket files a support request.
func (a *App) OpenTicket(userID, subject, body string) (domain.Ticket, error) {
	subject, subjectFits := trimmed(subject, maxTicketSubject)
	body, bodyFits := trimmed(body, maxTicketBody)
	if subject == "" || body == "" || !subjectFits || !bodyFits {
		return domain.Ticket{}, fmt.Errorf("%w: subject and body required", ErrInvalid)
	}
	now := a.clock()
	ticket := domain.Ticket{
		ID:        util.NewID(),
		UserID:    userID,
		Subject:   subject,
		Body:      body,
		Status:    domain.TicketOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateTicket(ticket); err != nil {
		return domain.Ticket{}, storeErr("create ticket", err)
	}
	return ticket, nil
}

// MyTickets lists the caller's tickets, newest first.
func (a *App) MyTickets(userID string) ([]domain.Ticket, error) {
	tickets, err := a.store.ListTicketsByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return tickets, nil
}

// ListTickets is the admin support queue. An empty status lists all.
func (a *App) ListTickets(status domain.TicketStatus) ([]domain.Ticket, error) {
	switch status {
	case "", domain.TicketOpen, domain.TicketAnswered, domain.TicketClosed:
	default:
		return nil, fmt.Errorf("%w: status", ErrInvalid)
	}
	tickets, err := a.store.ListTickets(status)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return tickets, nil
}

// ReplyTicket answers a ticket and notifies its author.
func (a *App) ReplyTicket(ctx context.Context, adminID, id, reply string) (domain.Ticket, error) {
	reply, fits := trimmed(reply, maxTicketBody)
	if reply == "" || !fits {
		return domain.Ticket{}, fmt.Errorf("%w: reply required", ErrInvalid)
	}
	ticket, err := a.store.ReplyTicket(id, reply, adminID, a.clock())
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return domain.Ticket{}, ErrTicketClosed
		}
		return domain.Ticket{}, storeErr("reply ticket", err)
	}
	a.notify(ctx, notify.Request{
		UserID:   ticket.UserID,
		ActorID:  adminID,
		Kind:     domain.NotifyTicketReply,
		EntityID: ticket.ID,
	})
	return ticket, nil
}

// CloseTicket closes a ticket from any open state.
func (a *App) CloseTicket(id string) (domain.Ticket, error) {
	ticket, err := a.store.CloseTicket(id, a.clock())
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return domain.Ticket{}, ErrTicketClosed
		}
		return domain.Ticket{}, storeErr("close ticket", err)
	}
	return ticket, nil
}
