package tally

// error_messages.go maps pipeline errors to messages an uploader can act on.
//
// Every error that reaches a boundary (HTTP handler, CLI) is passed through
// MapError so the user always sees a message and a support code. Typed errors
// are matched first; anything else falls back to case-insensitive substring
// patterns, first match wins.
//
// Codes:
//
//	VAL001 no data            VAL002 missing columns      VAL003 accession width
//	VAL004 required field     VAL005 duplicate accession  VAL006 invalid number
//	VAL007 empty population   FILE001 file too large      FILE002 unsupported type
//	FILE003 unreadable file   FILE004 no file provided
//	REF001 missing reference  APL001 apply failed         APL002 kind conflict
//	APL003 kind mismatch
//	ING001 staged not found   ING002 system busy          ING003 no export data
//	ING004 cancelled          ING005 timed out
//	DB001-DB005 database      ERR000 anything else (check the logs)

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

var validationMessages = map[ValidationCode]UserMessage{
	CodeNoData: {
		Message: "No data found in file",
		Action:  "Upload a spreadsheet with at least one data row",
		Code:    "VAL001",
	},
	CodeMissingColumns: {
		Message: "Not all columns found in file",
		Action:  "Check that every template column is present with the exact header",
		Code:    "VAL002",
	},
	CodeAccessionLength: {
		Message: "Accession numbers have the wrong length",
		Action:  "Fix the accession numbers on the listed lines",
		Code:    "VAL003",
	},
	CodeRequiredField: {
		Message: "Required field is empty",
		Action:  "Fill in the enclosure and common name on every row",
		Code:    "VAL004",
	},
	CodeDuplicateAccession: {
		Message: "An accession number appears more than once",
		Action:  "Keep one row per accession number",
		Code:    "VAL005",
	},
	CodeInvalidNumber: {
		Message: "Population counts must be whole numbers",
		Action:  "Use 0 or a positive whole number in the population columns",
		Code:    "VAL006",
	},
	CodeEmptyPopulation: {
		Message: "Some rows have a total population of zero",
		Action:  "Give every row a population of at least one",
		Code:    "VAL007",
	},
	CodeFileTooLarge: {
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file by enclosure and upload each part",
		Code:    "FILE001",
	},
	CodeUnsupportedFormat: {
		Message: "Unsupported file type",
		Action:  "Upload an .xlsx or .csv file",
		Code:    "FILE002",
	},
	CodeUnreadable: {
		Message: "The file could not be read",
		Action:  "Re-save the spreadsheet and upload it again",
		Code:    "FILE003",
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns are matched against the lowercased error text. Specific
// patterns come before general ones.
var errorPatterns = []errorPattern{
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a spreadsheet to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Please try again; if it persists contact support",
			Code:    "DB001",
		},
	},
	{
		pattern: "foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Please try again; if it persists contact support",
			Code:    "DB002",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB003",
		},
	},
	{
		pattern: "database is locked",
		msg: UserMessage{
			Message: "Database was busy with another write",
			Action:  "Please try again",
			Code:    "DB004",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "ING004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "ING005",
		},
	},
}

// defaultMessage is returned when nothing matches. Check the logs for the
// original error when a user reports ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-facing message. A nil error maps to
// the zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		if msg, ok := validationMessages[verr.Code]; ok {
			return msg
		}
	}

	switch {
	case errors.Is(err, ErrCrossKindAccession):
		return UserMessage{
			Message: "An accession number would be active as both an animal and a group",
			Action:  "Review the changeset; the upload was not applied",
			Code:    "APL002",
		}
	case errors.Is(err, ErrKindMismatch):
		return UserMessage{
			Message: "A row's population does not match the animal or group it is applied as",
			Action:  "Stage the original file again instead of editing the changeset",
			Code:    "APL003",
		}
	case errors.Is(err, ErrStagedNotFound):
		return UserMessage{
			Message: "Staged upload not found",
			Action:  "The upload may have expired. Please upload the file again",
			Code:    "ING001",
		}
	case errors.Is(err, ErrTooManyIngests):
		return UserMessage{
			Message: "System is busy processing other uploads",
			Action:  "Please wait a moment and try again",
			Code:    "ING002",
		}
	case errors.Is(err, ErrNoExportData):
		return UserMessage{
			Message: "No counts recorded in the selected range",
			Action:  "Pick a different date range or enclosure",
			Code:    "ING003",
		}
	}

	var rerr *ReferenceError
	if errors.As(err, &rerr) {
		return UserMessage{
			Message: fmt.Sprintf("The %s referenced by the upload does not exist", rerr.Entity),
			Action:  "Stage the file again; the changeset is out of date",
			Code:    "REF001",
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	var aerr *ApplyError
	if errors.As(err, &aerr) {
		return UserMessage{
			Message: "The changeset could not be applied",
			Action:  "Nothing was changed; the upload is still staged for retry or discard",
			Code:    "APL001",
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
