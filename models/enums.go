package models

import "errors"

type CardStatus string

const (
	// CardStatusPending is the state of a freshly imported card that no
	// cycle has touched yet.
	CardStatusPending CardStatus = "Pending"
	// CardStatusInCycle marks a card awaiting its scan in the currently
	// open cycle. Every card at the site is moved here on cycle open.
	CardStatusInCycle CardStatus = "InCycle"
	CardStatusOk      CardStatus = "OK"
	// CardStatusNotFound is set at cycle close for cards that were never
	// scanned during the cycle.
	CardStatusNotFound CardStatus = "NotFound"
)

func (t *CardStatus) UnmarshalText(b []byte) error {
	switch CardStatus(b) {
	case CardStatusPending, CardStatusInCycle, CardStatusOk, CardStatusNotFound:
		*t = CardStatus(b)
		return nil
	}
	return errors.New("invalid card status")
}

type CycleStatus string

const (
	CycleStatusActive CycleStatus = "Active"
	CycleStatusClosed CycleStatus = "Closed"
)

type ScanStatus string

// History outcome per (card, cycle). Append-only; never updated.
const (
	ScanStatusOk       ScanStatus = "OK"
	ScanStatusNotFound ScanStatus = "NotFound"
)

type UserRole string

const (
	UserRoleAdmin    UserRole = "Admin"
	UserRoleOperator UserRole = "Operator"
)

func (t *UserRole) UnmarshalText(b []byte) error {
	switch UserRole(b) {
	case UserRoleAdmin, UserRoleOperator:
		*t = UserRole(b)
		return nil
	}
	return errors.New("invalid user role")
}
