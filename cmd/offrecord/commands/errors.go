package commands

import "errors"

var (
	errNoAccount  = errors.New("no account configured; use --account or set account in the config file")
	errPassphrase = errors.New("passphrase required (-p or OFFRECORD_PASSPHRASE)")
)
