package types

import "errors"

var ErrInvalidSubscriptionStatus = errors.New("invalid subscription status")
