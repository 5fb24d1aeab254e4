package imap

import (
	"fmt"

	"github.com/emersion/go-imap"
	"github.com/vdavid/mailsync/internal/models"
)

// headerBatchSize bounds how many UIDs go into one FETCH.
const headerBatchSize = 500

// headerFetchItems returns the items needed to thread and list messages.
func headerFetchItems(withThreadID bool) []imap.FetchItem {
	items := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchInternalDate,
		threadHeaderSection().FetchItem(),
	}
	if withThreadID {
		items = append(items, gmThreadIDItem)
	}
	return items
}

// fetchHeaders fetches headers for uids in batches and converts them to messages.
// UIDs the server does not return are silently absent from the result.
func fetchHeaders(s session, folder string, uids []uint32, withThreadID bool) ([]*models.Message, error) {
	result := make([]*models.Message, 0, len(uids))
	items := headerFetchItems(withThreadID)

	for start := 0; start < len(uids); start += headerBatchSize {
		end := start + headerBatchSize
		if end > len(uids) {
			end = len(uids)
		}

		fetched, err := uidFetch(s, uids[start:end], items)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch message headers: %w", err)
		}

		for _, imapMsg := range fetched {
			msg, err := ParseMessage(imapMsg, folder)
			if err != nil {
				continue
			}
			result = append(result, msg)
		}
	}

	return result, nil
}

// fetchFullMessage fetches the complete RFC 822 source of one message without setting \Seen.
// It returns nil and no error when the UID does not exist.
func fetchFullMessage(s session, folder string, uid uint32) (*models.MessageBody, *models.Message, error) {
	section := &imap.BodySectionName{Peek: true}
	items := append(headerFetchItems(false), section.FetchItem())

	fetched, err := uidFetch(s, []uint32{uid}, items)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch message: %w", err)
	}

	for _, imapMsg := range fetched {
		if imapMsg.Uid != uid {
			continue
		}
		msg, err := ParseMessage(imapMsg, folder)
		if err != nil {
			return nil, nil, err
		}
		body, err := parseFetchedBody(imapMsg, section)
		if err != nil {
			return nil, nil, err
		}
		return body, msg, nil
	}

	return nil, nil, nil
}

// uidFetch runs UID FETCH and collects every returned message.
func uidFetch(s session, uids []uint32, items []imap.FetchItem) ([]*imap.Message, error) {
	if len(uids) == 0 {
		return []*imap.Message{}, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- s.UidFetch(seqSet, items, messages)
	}()

	var result []*imap.Message
	for msg := range messages {
		result = append(result, msg)
	}

	if err := <-done; err != nil {
		return nil, err
	}
	return result, nil
}

func uidSet(uids []uint32) *imap.SeqSet {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)
	return seqSet
}
