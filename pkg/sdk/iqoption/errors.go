package iqoption

import "errors"

var (
	// ErrAuthTimeout reports that the server did not answer authenticate in time.
	ErrAuthTimeout = errors.New("iqoption: authentication timeout")
	// ErrAuthRejected reports an explicit negative authenticate response.
	ErrAuthRejected = errors.New("iqoption: authentication rejected")
	// ErrValidation reports a missing precondition or a bad argument.
	ErrValidation = errors.New("iqoption: validation failed")
	// ErrParse reports a payload that could not be decoded.
	ErrParse = errors.New("iqoption: malformed payload")
	// ErrRequestTimeout reports a request whose response never arrived.
	ErrRequestTimeout = errors.New("iqoption: request timeout")
)
