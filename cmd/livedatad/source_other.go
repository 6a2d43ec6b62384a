//go:build !linux

package main

import (
	"errors"

	"github.com/xtxerr/livedata/internal/collector"
)

func openJournal() (collector.Source, error) {
	return nil, errors.New("systemd journal requires linux")
}
