package imap

import (
	"fmt"
	"sort"

	"github.com/emersion/go-imap"
)

// newUIDsCriteria matches UIDs after the watermark. after == 0 matches all.
func newUIDsCriteria(after uint32) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	if after > 0 {
		criteria.Uid = new(imap.SeqSet)
		criteria.Uid.AddRange(after+1, 0)
	}
	return criteria
}

// searchUIDsAfter returns the UIDs strictly greater than after, ascending.
// A server answers after+1:* with the highest UID even when it is not greater,
// so the result is filtered.
func searchUIDsAfter(s session, after uint32) ([]uint32, error) {
	uids, err := s.UidSearch(newUIDsCriteria(after))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	result := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if uid > after {
			result = append(result, uid)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}
