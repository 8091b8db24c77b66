package session

import "github.com/go-authgate/authsession/refresh"

// Observer receives session progress events. Implementations must be safe
// for concurrent use; the display package provides plain-text and no-op
// versions.
type Observer interface {
	refresh.Observer
	TokenValid()
	TokenExpiringSoon()
	TokenExpired()
	AccessTokenRejected()
	TokenRefreshedRetrying()
	ReAuthRequired()
	APICallOK()
	APICallFailed(err error)
}

type nopObserver struct{}

func (nopObserver) Refreshing()             {}
func (nopObserver) RefreshOK()              {}
func (nopObserver) RefreshFailed(_ error)   {}
func (nopObserver) TokenValid()             {}
func (nopObserver) TokenExpiringSoon()      {}
func (nopObserver) TokenExpired()           {}
func (nopObserver) AccessTokenRejected()    {}
func (nopObserver) TokenRefreshedRetrying() {}
func (nopObserver) ReAuthRequired()         {}
func (nopObserver) APICallOK()              {}
func (nopObserver) APICallFailed(_ error)   {}
