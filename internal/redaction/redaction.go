// Package redaction recursively scrubs tracked secret values out of
// arbitrary data before it reaches a log line or error message.
package redaction

import (
	"errors"
	"strings"

	"github.com/quartz-run/quartz/internal/secrets"
)

// RedactedSecretValue is the placeholder string used to replace a tracked
// secret value found while walking a data structure.
const RedactedSecretValue = "[REDACTED_SECRET]"

// RedactTrackedSecrets recursively walks a data structure and replaces any
// string value that is a tracked secret, or contains a tracked secret,
// with a redacted placeholder. It returns the (potentially) new data
// structure and a boolean indicating if any redaction occurred.
func RedactTrackedSecrets(data interface{}, tracker *secrets.SecretTracker) (interface{}, bool) {
	if data == nil || tracker == nil {
		return data, false
	}
	return redactRecursive(data, tracker)
}

func redactRecursive(data interface{}, tracker *secrets.SecretTracker) (interface{}, bool) {
	if data == nil {
		return nil, false
	}

	switch v := data.(type) {
	case string:
		if tracker.ContainsTrackedSecret(v) {
			return RedactedSecretValue, true
		}
		return v, false

	case map[string]interface{}:
		if v == nil {
			return nil, false
		}
		redactedInMap := false
		newMap := make(map[string]interface{}, len(v))
		for key, val := range v {
			newVal, wasRedacted := redactRecursive(val, tracker)
			newMap[key] = newVal
			if wasRedacted {
				redactedInMap = true
			}
		}
		return newMap, redactedInMap

	case []interface{}:
		if v == nil {
			return nil, false
		}
		redactedInSlice := false
		newSlice := make([]interface{}, len(v))
		for i, val := range v {
			newVal, wasRedacted := redactRecursive(val, tracker)
			newSlice[i] = newVal
			if wasRedacted {
				redactedInSlice = true
			}
		}
		return newSlice, redactedInSlice

	default:
		return data, false
	}
}

// RedactKeywordsInString performs a simple keyword-based redaction on a
// string, for output where no SecretTracker is available — a resolution
// error message built before any module ran, say. It scans each line for
// a configured keyword (case-insensitive) and blanks out whatever
// follows the keyword's usual key/value separators.
func RedactKeywordsInString(input string, keywords map[string]struct{}) string {
	if len(keywords) == 0 || input == "" {
		return input
	}

	redacted := false
	lines := strings.Split(input, "\n")
	outputLines := make([]string, len(lines))

	for i, line := range lines {
		outputLine := line
		lowerLine := strings.ToLower(line)
		for keyword := range keywords {
			if idx := strings.Index(lowerLine, keyword); idx != -1 {
				redactStart := idx + len(keyword)
				for redactStart < len(line) && strings.ContainsAny(string(line[redactStart]), ":= '\"") {
					redactStart++
				}

				if redactStart < len(line) {
					outputLine = line[:redactStart] + "[REDACTED]"
					redacted = true
					break
				}
			}
		}
		outputLines[i] = outputLine
	}

	if !redacted {
		return input
	}
	return strings.Join(outputLines, "\n")
}

// RedactTrackedSecretsInError scrubs any tracked secret value out of an
// error's message, for an error built after a secrets.Provider lookup has
// already happened (e.g. a resolution error occurring after a
// SecretGlobals value was resolved earlier in the same Run).
func RedactTrackedSecretsInError(err error, tracker *secrets.SecretTracker) error {
	if err == nil || tracker == nil {
		return err
	}
	msg := err.Error()
	redactedMsg := tracker.Redact(msg)
	if msg != redactedMsg {
		return errors.New(redactedMsg)
	}
	return err
}

// RedactKeywordsInError applies RedactKeywordsInString to an error's
// message, returning a new error when redaction changed anything.
func RedactKeywordsInError(err error, keywords map[string]struct{}) error {
	if err == nil || len(keywords) == 0 {
		return err
	}
	errMsg := err.Error()
	redactedMsg := RedactKeywordsInString(errMsg, keywords)
	if errMsg != redactedMsg {
		return errors.New(redactedMsg)
	}
	return err
}
