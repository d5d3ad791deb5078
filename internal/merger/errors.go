package merger

import (
	"errors"
	"fmt"
)

var (
	// ErrRawConfigMissing is returned by Merge when there is no raw config
	// to build the runtime config from.
	ErrRawConfigMissing = errors.New("raw config is missing or empty")

	// ErrNoSubscriptionURL is returned by Sync when no URL was given and
	// none has been stored yet.
	ErrNoSubscriptionURL = errors.New("no subscription URL given and none stored")

	// ErrNoBackup is returned by RestoreBackup when there is nothing to restore.
	ErrNoBackup = errors.New("no raw config backup")
)

// ValidationError reports a document that is not a usable clash config.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Path, e.Reason)
}

// SubscriptionInvalidError reports a subscription whose document failed
// validation both as downloaded and after conversion. Err holds the last
// failure: the conversion error or the final validation error.
type SubscriptionInvalidError struct {
	URL string
	Err error
}

func (e *SubscriptionInvalidError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("subscription %s did not produce a valid config", e.URL)
	}
	return fmt.Sprintf("subscription %s did not produce a valid config: %v", e.URL, e.Err)
}

func (e *SubscriptionInvalidError) Unwrap() error { return e.Err }
