// Package apperrors holds the typed errors the dispatch core surfaces to
// callers. Each admission error carries a stable code so the HTTP layer can
// distinguish "already sending" from "done" without string matching.
package apperrors

import (
	"errors"
	"fmt"
)

// Stable error codes exposed by the enqueue API.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidStatus       = "INVALID_STATUS"
	CodeAlreadySending      = "ALREADY_SENDING"
	CodeNoRecipients        = "NO_RECIPIENTS"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
)

// Coder is implemented by every admission error.
type Coder interface {
	error
	Code() string
}

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int64
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

func (e *ErrCampaignNotFound) Code() string { return CodeNotFound }

func NewCampaignNotFound(id int64) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrInvalidStatus rejects enqueue for a campaign outside the admissible
// set (draft, scheduled, paused).
type ErrInvalidStatus struct {
	CampaignID int64
	Status     string
}

func (e *ErrInvalidStatus) Error() string {
	return fmt.Sprintf("campaign %d cannot be enqueued in status %q", e.CampaignID, e.Status)
}

func (e *ErrInvalidStatus) Code() string { return CodeInvalidStatus }

func NewInvalidStatus(id int64, status string) error {
	return &ErrInvalidStatus{CampaignID: id, Status: status}
}

// ErrAlreadySending is the specific case of an inadmissible status: the
// campaign is mid-flight and the caller should not retry.
type ErrAlreadySending struct {
	CampaignID int64
}

func (e *ErrAlreadySending) Error() string {
	return fmt.Sprintf("campaign %d is already sending", e.CampaignID)
}

func (e *ErrAlreadySending) Code() string { return CodeAlreadySending }

func NewAlreadySending(id int64) error {
	return &ErrAlreadySending{CampaignID: id}
}

type ErrNoRecipients struct {
	CampaignID int64
}

func (e *ErrNoRecipients) Error() string {
	return fmt.Sprintf("campaign %d has no eligible recipients", e.CampaignID)
}

func (e *ErrNoRecipients) Code() string { return CodeNoRecipients }

func NewNoRecipients(id int64) error {
	return &ErrNoRecipients{CampaignID: id}
}

type ErrInsufficientCredits struct {
	OwnerID  int64
	Required int
	Balance  int64
}

func (e *ErrInsufficientCredits) Error() string {
	return fmt.Sprintf("owner %d has %d credits, %d required", e.OwnerID, e.Balance, e.Required)
}

func (e *ErrInsufficientCredits) Code() string { return CodeInsufficientCredits }

func NewInsufficientCredits(ownerID int64, required int, balance int64) error {
	return &ErrInsufficientCredits{OwnerID: ownerID, Required: required, Balance: balance}
}

// CodeOf returns the stable code for an admission error, or "" for
// everything else (infrastructure failures have no admission code).
func CodeOf(err error) string {
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}
