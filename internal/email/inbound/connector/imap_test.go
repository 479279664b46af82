package connector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/require"
)

func TestIMAPFetcherFetchesMessages(t *testing.T) {
	client := &fakeIMAPClient{
		uids: []imap.UID{11, 12},
		bodies: map[imap.UID][]byte{
			11: []byte("first"),
			12: []byte("second"),
		},
		internalDate: map[imap.UID]time.Time{
			11: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	h := &recordingHandler{}
	f := NewIMAPFetcher(
		WithIMAPClock(func() time.Time { return now }),
		withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }),
	)

	acc := Account{ID: 7, Protocol: "imaps", Host: "mail.example", Username: "agent", Password: []byte("secret"), Folder: "INBOX"}
	require.NoError(t, f.Fetch(context.Background(), acc, time.Time{}, h))

	require.Equal(t, 1, client.logoutCalls)
	require.Equal(t, 2, len(h.messages))
	require.Equal(t, "11", h.messages[0].UID)
	require.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), h.messages[0].ReceivedAt)
	require.Equal(t, now, h.messages[1].ReceivedAt)
	require.Zero(t, client.storeCalls)
	require.Zero(t, client.expungeCalls)
}

func TestIMAPFetcherHonorsSinceMark(t *testing.T) {
	client := &fakeIMAPClient{
		uids: []imap.UID{21, 22},
		bodies: map[imap.UID][]byte{
			21: []byte("old"),
			22: []byte("new"),
		},
		internalDate: map[imap.UID]time.Time{
			21: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
			22: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
	h := &recordingHandler{}
	f := NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }))

	since := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	acc := Account{Protocol: "imap", Username: "u", Password: []byte("p")}
	require.NoError(t, f.Fetch(context.Background(), acc, since, h))

	require.NotNil(t, client.lastCriteria)
	require.Equal(t, since, client.lastCriteria.Since)
	require.Len(t, h.messages, 1)
	require.Equal(t, "22", h.messages[0].UID)
}

func TestIMAPFetcherStopsOnHandlerError(t *testing.T) {
	client := &fakeIMAPClient{
		uids:   []imap.UID{11, 12},
		bodies: map[imap.UID][]byte{11: []byte("first"), 12: []byte("second")},
	}
	h := &recordingHandler{failUID: "12"}
	f := NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }))

	acc := Account{ID: 7, Protocol: "imap", Host: "mail.example", Username: "agent", Password: []byte("secret")}
	err := f.Fetch(context.Background(), acc, time.Time{}, h)
	require.Error(t, err)
	require.Len(t, h.messages, 1)
}

func TestIMAPFetcherEmptyMailboxNoError(t *testing.T) {
	client := &fakeIMAPClient{}
	f := NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }))
	acc := Account{Protocol: "imap", Username: "u", Password: []byte("p")}
	require.NoError(t, f.Fetch(context.Background(), acc, time.Time{}, &recordingHandler{}))
	require.Zero(t, client.storeCalls)
}

func TestIMAPFetcherValidation(t *testing.T) {
	cases := []Account{
		{Protocol: "imap", Password: []byte("pw")},
		{Protocol: "imap", Username: "user"},
		{Protocol: "pop3", Username: "user", Password: []byte("pw")},
	}
	f := NewIMAPFetcher()
	for _, acc := range cases {
		if err := f.Fetch(context.Background(), acc, time.Time{}, &recordingHandler{}); err == nil {
			t.Fatalf("expected validation error for account %+v", acc)
		}
	}
}

func TestIMAPFetcherRequiresHandler(t *testing.T) {
	f := NewIMAPFetcher()
	acc := Account{Protocol: "imap", Username: "u", Password: []byte("p")}
	if err := f.Fetch(context.Background(), acc, time.Time{}, nil); err == nil {
		t.Fatalf("expected handler required error")
	}
}

func TestIMAPFetcherDeletesWhenEnabled(t *testing.T) {
	client := &fakeIMAPClient{
		uids:   []imap.UID{11},
		bodies: map[imap.UID][]byte{11: []byte("body")},
	}
	h := &recordingHandler{}
	f := NewIMAPFetcher(
		WithIMAPDeleteAfterFetch(true),
		withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }),
	)
	acc := Account{Protocol: "imap", Username: "u", Password: []byte("p")}
	require.NoError(t, f.Fetch(context.Background(), acc, time.Time{}, h))
	require.Equal(t, 1, client.storeCalls)
	require.Equal(t, 1, client.expungeCalls)
}

func TestIMAPFetcherDeleteSparesMessagesBeforeMark(t *testing.T) {
	client := &fakeIMAPClient{
		uids: []imap.UID{31, 32},
		bodies: map[imap.UID][]byte{
			31: []byte("old"),
			32: []byte("new"),
		},
		internalDate: map[imap.UID]time.Time{
			31: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
			32: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
	h := &recordingHandler{}
	f := NewIMAPFetcher(
		WithIMAPDeleteAfterFetch(true),
		withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }),
	)

	since := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	acc := Account{Protocol: "imap", Username: "u", Password: []byte("p")}
	require.NoError(t, f.Fetch(context.Background(), acc, since, h))

	require.Len(t, h.messages, 1)
	require.Equal(t, imap.UIDSetNum(32), client.lastExpungeSet)
	require.Equal(t, imap.NumSet(imap.UIDSetNum(32)), client.lastStoreSet)
}

func TestIMAPFetcherAuthErrorIsSentinel(t *testing.T) {
	f := NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) {
		return &fakeIMAPClient{loginErr: errors.New("bad creds")}, nil
	}))
	acc := Account{Protocol: "imap", Username: "u", Password: []byte("p")}
	err := f.Fetch(context.Background(), acc, time.Time{}, &recordingHandler{})
	require.ErrorIs(t, err, ErrAuthFailed)

	f = NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) {
		return &fakeIMAPClient{selectErr: errors.New("no inbox")}, nil
	}))
	err = f.Fetch(context.Background(), acc, time.Time{}, &recordingHandler{})
	require.ErrorContains(t, err, "imap select")
	require.NotErrorIs(t, err, ErrAuthFailed)
}

func TestIMAPFetcherConnectErrorWrapped(t *testing.T) {
	f := NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) {
		return nil, errors.New("dial failed")
	}))
	acc := Account{Protocol: "imap", Username: "u", Password: []byte("p")}
	err := f.Fetch(context.Background(), acc, time.Time{}, &recordingHandler{})
	require.ErrorContains(t, err, "imap connect")
}

type fakeIMAPClient struct {
	uids         []imap.UID
	bodies       map[imap.UID][]byte
	internalDate map[imap.UID]time.Time

	loginErr   error
	selectErr  error
	searchErr  error
	fetchErr   error
	storeErr   error
	expungeErr error
	logoutErr  error

	lastCriteria   *imap.SearchCriteria
	lastStoreSet   imap.NumSet
	lastExpungeSet imap.UIDSet
	storeCalls     int
	expungeCalls   int
	logoutCalls    int
	closed         bool
}

func (c *fakeIMAPClient) Login(_, _ string) commandWaiter { return &fakeCommand{err: c.loginErr} }
func (c *fakeIMAPClient) Logout() commandWaiter {
	c.logoutCalls++
	return &fakeCommand{err: c.logoutErr}
}
func (c *fakeIMAPClient) Close() error { c.closed = true; return nil }
func (c *fakeIMAPClient) Select(_ string, _ *imap.SelectOptions) selectWaiter {
	return &fakeSelect{err: c.selectErr}
}
func (c *fakeIMAPClient) UIDSearch(criteria *imap.SearchCriteria, _ *imap.SearchOptions) searchWaiter {
	c.lastCriteria = criteria
	data := &imap.SearchData{All: imap.UIDSetNum(c.uids...)}
	return &fakeSearch{err: c.searchErr, data: data}
}
func (c *fakeIMAPClient) Fetch(_ imap.NumSet, _ *imap.FetchOptions) fetchWaiter {
	var bufs []*imapclient.FetchMessageBuffer
	if c.fetchErr == nil {
		for _, uid := range c.uids {
			bufs = append(bufs, &imapclient.FetchMessageBuffer{
				SeqNum:       uint32(uid),
				UID:          uid,
				InternalDate: c.internalDate[uid],
				BodySection: []imapclient.FetchBodySectionBuffer{{
					Section: &imap.FetchItemBodySection{},
					Bytes:   append([]byte(nil), c.bodies[uid]...),
				}},
			})
		}
	}
	return &fakeFetch{err: c.fetchErr, bufs: bufs}
}
func (c *fakeIMAPClient) Store(set imap.NumSet, _ *imap.StoreFlags, _ *imap.StoreOptions) fetchWaiter {
	c.storeCalls++
	c.lastStoreSet = set
	return &fakeFetch{err: c.storeErr}
}
func (c *fakeIMAPClient) UIDExpunge(uids imap.UIDSet) expungeWaiter {
	c.expungeCalls++
	c.lastExpungeSet = uids
	return &fakeExpunge{err: c.expungeErr}
}

type fakeCommand struct{ err error }

func (c *fakeCommand) Wait() error { return c.err }

type fakeSelect struct{ err error }

func (s *fakeSelect) Wait() (*imap.SelectData, error) { return nil, s.err }

type fakeSearch struct {
	err  error
	data *imap.SearchData
}

func (s *fakeSearch) Wait() (*imap.SearchData, error) { return s.data, s.err }

type fakeFetch struct {
	err  error
	bufs []*imapclient.FetchMessageBuffer
}

func (f *fakeFetch) Collect() ([]*imapclient.FetchMessageBuffer, error) { return f.bufs, f.err }
func (f *fakeFetch) Close() error                                       { return f.err }

type fakeExpunge struct{ err error }

func (e *fakeExpunge) Close() error { return e.err }
