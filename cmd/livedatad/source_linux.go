//go:build linux

package main

import (
	"github.com/xtxerr/livedata/internal/collector"
	"github.com/xtxerr/livedata/internal/journal"
)

func openJournal() (collector.Source, error) {
	r, err := journal.NewReader()
	if err != nil {
		return nil, err
	}
	return r, nil
}
