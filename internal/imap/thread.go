package imap

import (
	"fmt"
	"log"

	"github.com/emersion/go-imap"
	sortthread "github.com/emersion/go-imap-sortthread"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/threading"
)

// threadCapability is advertised by servers that can thread with the REFERENCES algorithm.
const threadCapability = "THREAD=REFERENCES"

// toNative converts the sortthread tree into the threading engine's input.
// sortthread already turns a chain (1 2 3) into 1 -> 2 -> 3. Some servers may mean
// siblings by a flat list; the chain reading is kept regardless.
func toNative(threads []*sortthread.Thread) []*threading.NativeThread {
	result := make([]*threading.NativeThread, 0, len(threads))
	for _, t := range threads {
		if t == nil {
			continue
		}
		result = append(result, &threading.NativeThread{
			UID:      t.Id,
			Children: toNative(t.Children),
		})
	}
	return result
}

func collectUIDs(threads []*threading.NativeThread, into []uint32) []uint32 {
	for _, t := range threads {
		into = append(into, t.UID)
		into = collectUIDs(t.Children, into)
	}
	return into
}

// serverThreads threads the selected folder with the server's THREAD command (tier 0).
func serverThreads(s session, folder string, withThreadID bool) ([]*models.ThreadNode, error) {
	raw, err := s.Thread(imap.NewSearchCriteria())
	if err != nil {
		return nil, err
	}

	native := toNative(raw)
	uids := collectUIDs(native, nil)

	messages, err := fetchHeaders(s, folder, uids, withThreadID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch threaded messages: %w", err)
	}

	return threading.FromNative(native, messages), nil
}

// headerThreads fetches every message of the selected folder and threads them locally (tiers 1-3).
func headerThreads(s session, folder string, withThreadID bool) ([]*models.ThreadNode, error) {
	uids, err := s.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("failed to search folder: %w", err)
	}

	messages, err := fetchHeaders(s, folder, uids, withThreadID)
	if err != nil {
		return nil, err
	}

	log.Printf("IMAP: threading %d messages of %s from headers", len(messages), folder)
	return threading.Build(messages), nil
}
