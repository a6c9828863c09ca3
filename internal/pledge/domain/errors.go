package domain

import "errors"

var ErrPledgeNotFoundForSubscription = errors.New("pledge: not found for subscription creation")
