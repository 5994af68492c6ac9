package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fancoin/rostermint/address"
	"github.com/fancoin/rostermint/names"
	"github.com/fancoin/rostermint/registration"
)

var ErrRewardMismatch = errors.New("reward address does not belong to owner")

// entry is one line of the participants file.
type entry struct {
	Line        int
	Participant registration.Participant
	Reward      address.Address
}

// readParticipants parses "name,owner[,reward_address]" lines. Empty lines
// and lines starting with # are skipped. A header line whose second column
// is not an address is skipped too.
func readParticipants(r io.Reader) ([]entry, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var entries []entry
	seen := make(map[string]int)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)
		if len(record) < 2 || len(record) > 3 {
			return nil, fmt.Errorf("line %d: expected 2 or 3 columns, got %d", line, len(record))
		}

		owner, err := address.Parse(strings.TrimSpace(record[1]))
		if err != nil {
			if len(entries) == 0 && line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: owner: %w", line, err)
		}
		e := entry{
			Line:        line,
			Participant: registration.Participant{Name: strings.TrimSpace(record[0]), Owner: owner},
		}
		if len(record) == 3 && strings.TrimSpace(record[2]) != "" {
			if e.Reward, err = address.Parse(strings.TrimSpace(record[2])); err != nil {
				return nil, fmt.Errorf("line %d: reward address: %w", line, err)
			}
		}

		name := names.Canonical(e.Participant.Name)
		if prev, ok := seen[name]; ok && name != "" {
			return nil, fmt.Errorf("line %d: %q duplicates line %d", line, name, prev)
		}
		seen[name] = line
		entries = append(entries, e)
	}
	return entries, nil
}

// checkRewards verifies the optional reward column against the address
// derived from owner and asset.
func checkRewards(entries []entry, deriver *address.Deriver, asset address.Address) error {
	var errs []error
	for _, e := range entries {
		if e.Reward.IsZero() {
			continue
		}
		derived, err := deriver.Reward(e.Participant.Owner, asset)
		if err != nil {
			return err
		}
		if derived != e.Reward {
			errs = append(errs, fmt.Errorf("line %d: %w: expected %s, got %s", e.Line, ErrRewardMismatch, derived, e.Reward))
		}
	}
	return errors.Join(errs...)
}
