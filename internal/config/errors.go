package config

import "errors"

// ErrUnknownProfile indicates the deployment profile is not development, test, or production.
var ErrUnknownProfile = errors.New("unknown profile")

// ErrMissingSetting indicates a required connection setting has no value.
var ErrMissingSetting = errors.New("missing required setting")

// ErrInvalidSetting indicates a setting holds an unusable value.
var ErrInvalidSetting = errors.New("invalid setting")
