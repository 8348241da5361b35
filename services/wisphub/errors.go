package wisphub

import (
	"errors"
	"fmt"
	"wisppos-backend/lib/poll"
)

var (
	ErrCsrfNotFound          = errors.New("csrf token not found")
	ErrCatalogNotInitialized = errors.New("plan catalog has not been initialized, refresh the plans first")
	ErrTaskIdMissing         = errors.New("task id missing from the creation response")
)

// AuthenticationError is returned when the login form was not answered with
// the redirect the portal sends on success.
type AuthenticationError struct {
	Account string
	Status  int
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authenticate %q: expected status 302, got %d", e.Account, e.Status)
}

type TaskTimeoutError struct {
	TaskId   string
	Attempts int
}

func (e *TaskTimeoutError) Error() string {
	return fmt.Sprintf("task %s did not finish after %d attempts", e.TaskId, e.Attempts)
}

func (e *TaskTimeoutError) Unwrap() error {
	return poll.ErrExhausted
}

type TaskFailedError struct {
	TaskId string
	Status string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed with status %s", e.TaskId, e.Status)
}

type TaskConfirmationError struct {
	TaskId string
	Status int
}

func (e *TaskConfirmationError) Error() string {
	return fmt.Sprintf("confirm task %s: expected status 200, got %d", e.TaskId, e.Status)
}

// NetworkError is a transport level failure, the request never got an http
// response back.
type NetworkError struct {
	Method string
	Url    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Method, e.Url, e.Err.Error())
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StatusError is an http response with a status the caller cannot work with.
type StatusError struct {
	Method string
	Url    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Url, e.Status)
}

type OutletNotAssociatedError struct {
	PlanId string
	Outlet string
}

func (e *OutletNotAssociatedError) Error() string {
	return fmt.Sprintf("plan %s is not sold at outlet %q", e.PlanId, e.Outlet)
}
